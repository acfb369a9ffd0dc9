package client

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// UpdateFunc receives the committed diff of an instance and the metadata
// of the write that produced it.
type UpdateFunc func(diff ir.Values, metadata map[string]string)

// SharedState is the local mirror of one instance.
//
// The cache changes only when the server's STATE_UPDATED arrives; Set does
// not predict its own result.
type SharedState struct {
	client *Client
	id     int64
	schema *schema.Schema
	owner  int64

	// Guarded by client.mu.
	values       ir.Values
	version      uint64
	attached     bool // created or attached by this client
	owned        bool
	inCollection bool
	deleted      bool
	detachFired  bool
	updateL      listeners[UpdateFunc]
	detachL      listeners[func()]
}

func newSharedState(c *Client, sch *schema.Schema, inst protocol.Instance) *SharedState {
	values := sch.Defaults()
	maps.Copy(values, inst.Values)
	return &SharedState{
		client:  c,
		id:      inst.ID,
		schema:  sch,
		owner:   inst.Owner,
		values:  values,
		version: inst.Version,
	}
}

// ID returns the instance id.
func (st *SharedState) ID() int64 { return st.id }

// Schema returns the instance schema, with bounds for display and clamping.
func (st *SharedState) Schema() *schema.Schema { return st.schema }

// Owned reports whether this client created the instance.
func (st *SharedState) Owned() bool {
	st.client.mu.Lock()
	defer st.client.mu.Unlock()
	return st.owned
}

// Get returns the cached value of field, nil if the schema lacks it.
func (st *SharedState) Get(field string) ir.Value {
	st.client.mu.Lock()
	defer st.client.mu.Unlock()
	v := st.values[field]
	if l, ok := v.(ir.List); ok {
		return slices.Clone(l)
	}
	return v
}

// Values returns a copy of every cached field.
func (st *SharedState) Values() ir.Values {
	st.client.mu.Lock()
	defer st.client.mu.Unlock()
	return st.values.Clone()
}

// Version returns the version of the last applied commit.
func (st *SharedState) Version() uint64 {
	st.client.mu.Lock()
	defer st.client.mu.Unlock()
	return st.version
}

// Deleted reports whether the instance has been deleted.
func (st *SharedState) Deleted() bool {
	st.client.mu.Lock()
	defer st.client.mu.Unlock()
	return st.deleted
}

// Set sends a partial update and returns the committed diff. Writes to
// undeclared fields and values that cannot be coerced fail locally without
// a round trip. The diff is empty when nothing changed.
func (st *SharedState) Set(ctx context.Context, values ir.Values, metadata map[string]string) (ir.Values, error) {
	if st.Deleted() {
		return nil, &ir.Error{Code: ir.CodeInstanceGone, Message: "instance has been deleted", InstanceID: st.id}
	}
	if _, err := st.schema.CoerceValues(values); err != nil {
		var e *ir.Error
		if errors.As(err, &e) {
			tagged := *e
			tagged.InstanceID = st.id
			return nil, &tagged
		}
		return nil, err
	}

	res, err := st.client.request(ctx, protocol.Message{
		Type:       protocol.StateUpdate,
		InstanceID: st.id,
		Values:     values,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	if res.msg.Values == nil {
		return ir.Values{}, nil
	}
	return res.msg.Values, nil
}

// Detach stops observing the instance. Detaching an owned instance deletes
// it for every client.
func (st *SharedState) Detach(ctx context.Context) error {
	_, err := st.client.request(ctx, protocol.Message{Type: protocol.StateDetach, InstanceID: st.id})
	return err
}

// Delete deletes an owned instance.
func (st *SharedState) Delete(ctx context.Context) error {
	_, err := st.client.request(ctx, protocol.Message{Type: protocol.StateDelete, InstanceID: st.id})
	return err
}

// OnUpdate calls fn with every committed diff applied after registration.
func (st *SharedState) OnUpdate(fn UpdateFunc) *Subscription {
	c := st.client
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := st.updateL.add(&c.mu, fn)
	if st.detachFired || c.isClosed() {
		st.updateL.cancelAll()
	}
	return sub
}

// OnDetach calls fn once when the instance is deleted or detached.
func (st *SharedState) OnDetach(fn func()) *Subscription {
	c := st.client
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := st.detachL.add(&c.mu, fn)
	if st.detachFired || c.isClosed() {
		st.detachL.cancelAll()
	}
	return sub
}

// applyLocked applies a STATE_UPDATED message. Diffs at or below the
// cached version were already applied and are ignored.
func (st *SharedState) applyLocked(m protocol.Message) {
	if st.deleted || m.Version <= st.version {
		return
	}
	diff := m.Values.Clone()
	maps.Copy(st.values, diff)
	st.version = m.Version

	if !st.detachFired {
		meta := maps.Clone(m.Metadata)
		deliver(st.client, st.updateL.snapshot(), func(fn UpdateFunc) {
			fn(diff.Clone(), meta)
		})
	}
	if st.inCollection {
		if col, ok := st.client.collections[st.schema.Name()]; ok {
			col.emitUpdateLocked(st, diff)
		}
	}
}

// fireDetachLocked delivers OnDetach once, then retires the subscriptions
// registered so far. A later attach re-arms the state.
func (st *SharedState) fireDetachLocked() {
	if st.detachFired {
		return
	}
	st.detachFired = true
	c := st.client
	deliver(c, st.detachL.snapshot(), func(fn func()) { fn() })
	updates, detaches := st.updateL.retire(), st.detachL.retire()
	c.emit(func() {
		c.mu.Lock()
		updates.cancelAll()
		detaches.cancelAll()
		c.mu.Unlock()
	})
}

func (st *SharedState) cancelListenersLocked() {
	st.updateL.cancelAll()
	st.detachL.cancelAll()
}
