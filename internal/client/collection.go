package client

import (
	"context"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// Collection is the live set of instances of one schema.
//
// Per member the callbacks follow the instance lifecycle: OnAttach once,
// OnUpdate for each commit, OnDetach once. Nothing fires for a member after
// its OnDetach.
type Collection struct {
	client *Client
	schema *schema.Schema

	// Guarded by client.mu.
	members []*SharedState
	closed  bool
	attachL listeners[func(*SharedState)]
	detachL listeners[func(*SharedState)]
	updateL listeners[func(*SharedState, ir.Values)]
}

// Schema returns the schema of the members.
func (col *Collection) Schema() *schema.Schema {
	return col.schema
}

// Len returns the number of live members.
func (col *Collection) Len() int {
	col.client.mu.Lock()
	defer col.client.mu.Unlock()
	return len(col.members)
}

// States returns the live members in creation order.
func (col *Collection) States() []*SharedState {
	col.client.mu.Lock()
	defer col.client.mu.Unlock()
	return slices.Clone(col.members)
}

// Each calls fn for every live member in creation order.
func (col *Collection) Each(fn func(*SharedState)) {
	for _, st := range col.States() {
		fn(st)
	}
}

// OnAttach calls fn for every current member, then for each new one.
func (col *Collection) OnAttach(fn func(*SharedState)) *Subscription {
	c := col.client
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := col.attachL.add(&c.mu, fn)
	if col.closed || c.isClosed() {
		col.attachL.cancelAll()
		return sub
	}
	for _, st := range col.members {
		c.emit(func() {
			if sub.Active() {
				fn(st)
			}
		})
	}
	return sub
}

// OnDetach calls fn once per member removal.
func (col *Collection) OnDetach(fn func(*SharedState)) *Subscription {
	c := col.client
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := col.detachL.add(&c.mu, fn)
	if col.closed || c.isClosed() {
		col.detachL.cancelAll()
	}
	return sub
}

// OnUpdate calls fn with every committed diff of any member.
func (col *Collection) OnUpdate(fn func(st *SharedState, diff ir.Values)) *Subscription {
	c := col.client
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := col.updateL.add(&c.mu, fn)
	if col.closed || c.isClosed() {
		col.updateL.cancelAll()
	}
	return sub
}

// Close unsubscribes from the schema and cancels the collection callbacks.
func (col *Collection) Close(ctx context.Context) error {
	c := col.client
	c.mu.Lock()
	closed := col.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	_, err := c.request(ctx, protocol.Message{Type: protocol.CollectionUnsubscribe, Schema: col.schema.Name()})
	return err
}

func (col *Collection) addLocked(st *SharedState) {
	st.inCollection = true
	if slices.Contains(col.members, st) {
		return
	}
	col.members = append(col.members, st)

	deliver(col.client, col.attachL.snapshot(), func(fn func(*SharedState)) { fn(st) })
}

func (col *Collection) removeLocked(st *SharedState) {
	i := slices.Index(col.members, st)
	if i < 0 {
		return
	}
	col.members = slices.Delete(col.members, i, i+1)
	st.inCollection = false

	deliver(col.client, col.detachL.snapshot(), func(fn func(*SharedState)) { fn(st) })
}

func (col *Collection) emitUpdateLocked(st *SharedState, diff ir.Values) {
	deliver(col.client, col.updateL.snapshot(), func(fn func(*SharedState, ir.Values)) {
		fn(st, diff.Clone())
	})
}

func (col *Collection) cancelListenersLocked() {
	col.attachL.cancelAll()
	col.detachL.cancelAll()
	col.updateL.cancelAll()
}
