package transport

import (
	"context"
	"errors"

	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is an ordered, bidirectional message channel.
//
// Send and Receive may be called concurrently with each other; concurrent
// calls to Send are serialized. Close unblocks pending calls on both ends.
type Conn interface {
	Send(ctx context.Context, m protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
}
