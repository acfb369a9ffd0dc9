package engine

import (
	"context"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// EventKind names a committed lifecycle event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event describes one commit. Values holds the full state for created
// events, the committed diff for updated events and nothing for deleted
// events.
type Event struct {
	Seq        int64             `json:"seq"`
	Kind       EventKind         `json:"kind"`
	InstanceID int64             `json:"instance_id"`
	Schema     string            `json:"schema"`
	ClientID   int64             `json:"client_id,omitempty"` // 0 when the server itself performed the operation
	Version    uint64            `json:"version"`
	Values     ir.Values         `json:"values,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Recorder receives every commit, in commit order, on a goroutine of its
// own. Commits never wait for it; a failing Recorder is logged and never
// undoes a commit.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// recording is an event for the recorder, or a Flush marker when flushed
// is set.
type recording struct {
	event   Event
	flushed chan struct{}
}

// recordLoop hands queued events to the recorder until the queue is closed
// and drained.
func (e *Engine) recordLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		r, err := e.records.Next(ctx)
		if err != nil {
			return
		}
		if r.flushed != nil {
			close(r.flushed)
			continue
		}
		if err := e.recorder.Record(ctx, r.event); err != nil {
			e.log.Error("recording commit failed",
				"error", err,
				"kind", r.event.Kind,
				"instance_id", r.event.InstanceID,
				"seq", r.event.Seq,
			)
		}
	}
}

// Flush waits until every commit made before the call has been handed to
// the recorder.
func (e *Engine) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	err := e.do(ctx, func(context.Context) {
		if !e.records.Enqueue(recording{flushed: flushed}) {
			close(flushed)
		}
	})
	if err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
