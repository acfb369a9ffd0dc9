package engine

import (
	"errors"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// ErrStopped is returned by operations submitted after Run returned.
var ErrStopped = errors.New("engine: stopped")

// ErrSessionClosed is returned by Session.Next once the session is
// disconnected and its outbox drained.
var ErrSessionClosed = errors.New("engine: session closed")

func errNotFound(id int64, msg string) *ir.Error {
	return &ir.Error{Code: ir.CodeNotFound, Message: msg, InstanceID: id}
}

func errGone(id int64) *ir.Error {
	return &ir.Error{Code: ir.CodeInstanceGone, Message: "instance has been deleted", InstanceID: id}
}

// withInstance tags validation errors with the instance they were raised for.
func withInstance(err error, id int64) error {
	var e *ir.Error
	if errors.As(err, &e) && e.InstanceID == 0 {
		tagged := *e
		tagged.InstanceID = id
		return &tagged
	}
	return err
}
