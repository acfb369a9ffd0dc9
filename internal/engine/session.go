package engine

import (
	"context"
	"errors"

	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/queue"
)

// Session is the engine-side record of one connected client.
//
// ID and Token are immutable. Every message addressed to the client is
// appended to its outbox in commit order; the connection's writer drains it
// with Next. The remaining fields are owned by the Run goroutine.
type Session struct {
	ID    int64
	Token string

	outbox *queue.Queue[protocol.Message]

	observing  map[int64]struct{}
	subscribed map[string]struct{}
	owned      map[int64]struct{}
}

func newSession(id int64, token string) *Session {
	return &Session{
		ID:         id,
		Token:      token,
		outbox:     queue.New[protocol.Message](),
		observing:  make(map[int64]struct{}),
		subscribed: make(map[string]struct{}),
		owned:      make(map[int64]struct{}),
	}
}

// Next blocks until the next outgoing message is available. It returns
// ErrSessionClosed once the session is disconnected and drained.
func (s *Session) Next(ctx context.Context) (protocol.Message, error) {
	m, err := s.outbox.Next(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return protocol.Message{}, ErrSessionClosed
	}
	return m, err
}

// TryNext returns the next outgoing message without blocking.
func (s *Session) TryNext() (protocol.Message, bool) {
	return s.outbox.TryDequeue()
}

// Closed reports whether the session has been disconnected.
func (s *Session) Closed() bool {
	return s.outbox.Closed()
}

// push delivers m. Deliveries to a disconnected session are dropped.
func (s *Session) push(m protocol.Message) {
	if s == nil {
		return
	}
	s.outbox.Enqueue(m)
}

func clientID(s *Session) int64 {
	if s == nil {
		return 0
	}
	return s.ID
}
