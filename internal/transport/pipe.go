package transport

import (
	"context"
	"sync"

	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// pipeBuffer is the number of encoded messages one direction holds before
// Send blocks.
const pipeBuffer = 64

// Pipe returns the two ends of an in-memory connection. Closing either end
// closes both.
func Pipe() (Conn, Conn) {
	shared := &pipeState{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &pipeEnd{state: shared, in: ba, out: ab}, &pipeEnd{state: shared, in: ab, out: ba}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
	mu    sync.Mutex
}

func (p *pipeEnd) Send(ctx context.Context, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- data:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (protocol.Message, error) {
	// Drain what was sent before a close so the last messages of a peer
	// are not lost.
	select {
	case data := <-p.in:
		return protocol.Decode(data)
	default:
	}

	select {
	case data := <-p.in:
		return protocol.Decode(data)
	case <-p.state.done:
		select {
		case data := <-p.in:
			return protocol.Decode(data)
		default:
			return protocol.Message{}, ErrClosed
		}
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
