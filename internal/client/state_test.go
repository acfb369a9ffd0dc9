package client

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/queue"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// offlineClient is a Client without connection; callbacks stay queued on
// the dispatcher until drained.
func offlineClient() *Client {
	return &Client{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatch:    queue.New[func()](),
		pending:     make(map[uint64]*call),
		states:      make(map[int64]*SharedState),
		collections: make(map[string]*Collection),
		schemas:     make(map[string]*schema.Schema),
		closed:      make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
}

func (c *Client) drain() int {
	n := 0
	for {
		fn, ok := c.dispatch.TryDequeue()
		if !ok {
			return n
		}
		c.run(fn)
		n++
	}
}

func mixerSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.New("mixer", schema.Definition{
		{Name: "gain", Type: schema.Float, Default: ir.Float(0.5), Min: schema.Bound(0), Max: schema.Bound(1)},
		{Name: "label", Type: schema.String},
	})
	require.NoError(t, err)
	return sch
}

func TestApplySameDiffTwice(t *testing.T) {
	c := offlineClient()
	st := newSharedState(c, mixerSchema(t), protocol.Instance{ID: 3, Schema: "mixer"})

	var diffs []ir.Values
	st.OnUpdate(func(diff ir.Values, _ map[string]string) { diffs = append(diffs, diff) })

	m := protocol.Message{Type: protocol.StateUpdated, InstanceID: 3, Values: ir.Values{"gain": ir.Float(0.8)}, Version: 1}
	c.mu.Lock()
	st.applyLocked(m)
	once := st.values.Clone()
	st.applyLocked(m)
	c.mu.Unlock()
	c.drain()

	assert.Equal(t, once, st.Values())
	assert.Equal(t, uint64(1), st.Version())
	assert.Len(t, diffs, 1, "a replayed diff is ignored")
}

func TestApplyIgnoresStaleVersion(t *testing.T) {
	c := offlineClient()
	st := newSharedState(c, mixerSchema(t), protocol.Instance{ID: 3, Schema: "mixer", Version: 4})

	c.mu.Lock()
	st.applyLocked(protocol.Message{InstanceID: 3, Values: ir.Values{"gain": ir.Float(0.1)}, Version: 3})
	c.mu.Unlock()

	assert.Equal(t, ir.Float(0.5), st.Get("gain"))
	assert.Equal(t, uint64(4), st.Version())
}

func TestNewSharedStateFillsDefaults(t *testing.T) {
	c := offlineClient()
	st := newSharedState(c, mixerSchema(t), protocol.Instance{
		ID: 1, Schema: "mixer", Values: ir.Values{"label": ir.String("front")},
	})
	assert.Equal(t, ir.Values{"gain": ir.Float(0.5), "label": ir.String("front")}, st.Values())
}

func TestDetachFiresOnce(t *testing.T) {
	c := offlineClient()
	st := newSharedState(c, mixerSchema(t), protocol.Instance{ID: 1, Schema: "mixer"})
	c.states[1] = st

	detached := 0
	sub := st.OnDetach(func() { detached++ })
	updated := 0
	st.OnUpdate(func(ir.Values, map[string]string) { updated++ })

	c.mu.Lock()
	c.removeLocked(st)
	c.removeLocked(st)
	c.mu.Unlock()
	c.drain()

	assert.Equal(t, 1, detached)
	assert.False(t, sub.Active(), "subscriptions retire after OnDetach")
	assert.True(t, st.Deleted())
	assert.NotContains(t, c.states, int64(1))

	c.mu.Lock()
	st.applyLocked(protocol.Message{InstanceID: 1, Values: ir.Values{"gain": ir.Float(1)}, Version: 1})
	c.mu.Unlock()
	c.drain()
	assert.Zero(t, updated)

	late := st.OnDetach(func() { detached++ })
	assert.False(t, late.Active(), "registering after detach yields a cancelled handle")
}

func TestCollectionMembership(t *testing.T) {
	c := offlineClient()
	sch := mixerSchema(t)
	col := &Collection{client: c, schema: sch}
	c.collections["mixer"] = col

	a := newSharedState(c, sch, protocol.Instance{ID: 1, Schema: "mixer"})
	b := newSharedState(c, sch, protocol.Instance{ID: 2, Schema: "mixer"})
	c.states[1], c.states[2] = a, b

	var attached, detached []int64
	col.OnAttach(func(st *SharedState) { attached = append(attached, st.ID()) })
	col.OnDetach(func(st *SharedState) { detached = append(detached, st.ID()) })

	c.mu.Lock()
	col.addLocked(a)
	col.addLocked(b)
	col.addLocked(a)
	c.removeLocked(a)
	c.mu.Unlock()
	c.drain()

	assert.Equal(t, []int64{1, 2}, attached)
	assert.Equal(t, []int64{1}, detached)
	assert.Equal(t, []*SharedState{b}, col.States())
	assert.False(t, a.inCollection)
}

func TestListenersOrderAndCancel(t *testing.T) {
	c := offlineClient()
	var l listeners[func() string]
	c.mu.Lock()
	first := l.add(&c.mu, func() string { return "first" })
	l.add(&c.mu, func() string { return "second" })
	l.add(&c.mu, func() string { return "third" })
	c.mu.Unlock()

	first.Cancel()

	c.mu.Lock()
	var got []string
	for _, item := range l.snapshot() {
		got = append(got, item.fn())
	}
	l.cancelAll()
	c.mu.Unlock()

	assert.Equal(t, []string{"second", "third"}, got)
	assert.Empty(t, l.snapshot())
}

func TestNilSubscriptionCancel(t *testing.T) {
	var sub *Subscription
	assert.NotPanics(t, sub.Cancel)
}
