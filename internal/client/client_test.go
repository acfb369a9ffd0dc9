package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/client"
	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
	"github.com/etiennedemoulin/nodes-lamb/internal/server"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	schemas, hooks, err := lamb.NewRegistries()
	require.NoError(t, err)

	e := engine.New(schemas, hooks, engine.WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})

	_, err = lamb.CreateGlobals(ctx, e)
	require.NoError(t, err)
	return server.New(e, server.WithLogger(discardLogger()))
}

func connect(t *testing.T, srv *server.Server) *client.Client {
	t.Helper()
	ctx := context.Background()
	c, err := client.New(ctx, srv.Local(ctx), client.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recorder collects callback invocations from the dispatcher goroutine.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *recorder[T]) len() int {
	return len(r.get())
}

func TestClientIDsAreDistinct(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	assert.NotZero(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestCreateFillsDefaults(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)

	st, err := c.Create(context.Background(), lamb.PlayerSchema, ir.Values{"id": ir.Int(7)})
	require.NoError(t, err)

	assert.Equal(t, ir.Int(7), st.Get("id"))
	assert.Equal(t, ir.Float(100), st.Get("sawFreq"))
	assert.Equal(t, ir.Float(0), st.Get("volume"))
	assert.Len(t, st.Get("selectFreq"), 16)
	assert.Nil(t, st.Get("missing"))
	assert.Equal(t, uint64(0), st.Version())
	assert.True(t, st.Owned())
	assert.Equal(t, lamb.PlayerSchema, st.Schema().Name())

	f, ok := st.Schema().Field("sawFreq")
	require.True(t, ok)
	require.NotNil(t, f.Max)
	assert.Equal(t, 1000.0, *f.Max, "bounds travel with the definition")
}

func TestSetRunsHookAndClamps(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)

	diff, err := st.Set(ctx, ir.Values{"sawFreq": ir.Int(30), "filterSlider": ir.Float(0.5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Values{
		"sawFreq":      ir.Float(30),
		"filterSlider": ir.Float(0.5),
		"filterFreq":   ir.Float(105),
		"numHarm":      ir.Int(3),
	}, diff)
	assert.Equal(t, ir.Float(105), st.Get("filterFreq"), "the mirror is updated when Set returns")
	assert.Equal(t, uint64(1), st.Version())

	diff, err = st.Set(ctx, ir.Values{"filterSlider": ir.Float(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Float(1), diff["filterSlider"])
	assert.Equal(t, ir.Float(210), st.Get("filterFreq"))
	assert.Equal(t, ir.Int(7), st.Get("numHarm"))
}

func TestSetUnchangedCommitsNothing(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)

	diff, err := st.Set(ctx, ir.Values{"volume": ir.Float(0)}, nil)
	require.NoError(t, err)
	assert.Empty(t, diff)
	assert.Equal(t, uint64(0), st.Version())
}

func TestSetValidatesLocally(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)

	_, err = st.Set(ctx, ir.Values{"nope": ir.Int(1)}, nil)
	assert.ErrorIs(t, err, ir.ErrUnknownField)

	_, err = st.Set(ctx, ir.Values{"sawFreq": ir.String("loud")}, nil)
	assert.ErrorIs(t, err, ir.ErrTypeCoercion)

	assert.Equal(t, uint64(0), st.Version())
}

func TestCreateUnknownSchema(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)

	_, err := c.Create(context.Background(), "drum", nil)
	assert.ErrorIs(t, err, ir.ErrUnknownSchema)
}

func TestAttachGlobals(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)

	globals, err := c.Attach(context.Background(), lamb.GlobalsSchema)
	require.NoError(t, err)
	assert.Equal(t, ir.Float(1), globals.Get("master"))
	assert.Equal(t, ir.Bool(false), globals.Get("mute"))
	assert.False(t, globals.Owned())
}

func TestAttachTwiceReturnsSameState(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	first, err := c.Attach(ctx, lamb.GlobalsSchema)
	require.NoError(t, err)
	second, err := c.AttachID(ctx, first.ID())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestObserverSeesUpdatesInOrder(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	mirror, err := b.AttachID(ctx, owned.ID())
	require.NoError(t, err)

	type update struct {
		diff ir.Values
		meta map[string]string
	}
	var got recorder[update]
	mirror.OnUpdate(func(diff ir.Values, meta map[string]string) {
		got.add(update{diff, meta})
	})

	_, err = owned.Set(ctx, ir.Values{"volume": ir.Float(0.25)}, map[string]string{"source": "web"})
	require.NoError(t, err)
	_, err = owned.Set(ctx, ir.Values{"volume": ir.Float(0.75)}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, 5*time.Millisecond)
	updates := got.get()
	assert.Equal(t, ir.Values{"volume": ir.Float(0.25)}, updates[0].diff)
	assert.Equal(t, map[string]string{"source": "web"}, updates[0].meta)
	assert.Equal(t, ir.Values{"volume": ir.Float(0.75)}, updates[1].diff)
	assert.Equal(t, ir.Float(0.75), mirror.Get("volume"))
	assert.Equal(t, uint64(2), mirror.Version())
}

func TestObserverMayWrite(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	mirror, err := b.AttachID(ctx, owned.ID())
	require.NoError(t, err)

	_, err = mirror.Set(ctx, ir.Values{"sawFreq": ir.Float(240)}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ir.Equal(owned.Get("sawFreq"), ir.Float(240))
	}, waitFor, 5*time.Millisecond)
}

func TestCallbackMaySet(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	mirror, err := b.AttachID(ctx, owned.ID())
	require.NoError(t, err)

	setErr := make(chan error, 1)
	mirror.OnUpdate(func(diff ir.Values, _ map[string]string) {
		if _, ok := diff["volume"]; ok {
			_, err := mirror.Set(ctx, ir.Values{"sawFreq": ir.Float(60)}, nil)
			setErr <- err
		}
	})

	_, err = owned.Set(ctx, ir.Values{"volume": ir.Float(1)}, nil)
	require.NoError(t, err)

	select {
	case err := <-setErr:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("callback did not run")
	}
	require.Eventually(t, func() bool {
		return ir.Equal(owned.Get("sawFreq"), ir.Float(60))
	}, waitFor, 5*time.Millisecond)
}

func TestDeleteLifecycle(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	mirror, err := b.AttachID(ctx, owned.ID())
	require.NoError(t, err)

	var ownerDetached, observerDetached recorder[struct{}]
	owned.OnDetach(func() { ownerDetached.add(struct{}{}) })
	mirror.OnDetach(func() { observerDetached.add(struct{}{}) })

	err = mirror.Delete(ctx)
	assert.ErrorIs(t, err, ir.ErrProtocol, "only the owner deletes")

	require.NoError(t, owned.Delete(ctx))
	require.Eventually(t, func() bool {
		return ownerDetached.len() == 1 && observerDetached.len() == 1
	}, waitFor, 5*time.Millisecond)
	assert.True(t, mirror.Deleted())

	_, err = mirror.Set(ctx, ir.Values{"volume": ir.Float(1)}, nil)
	assert.ErrorIs(t, err, ir.ErrInstanceGone)

	_, err = b.AttachID(ctx, owned.ID())
	assert.ErrorIs(t, err, ir.ErrInstanceGone)

	_, err = b.AttachID(ctx, owned.ID()+100)
	assert.ErrorIs(t, err, ir.ErrNotFound)

	// Closing the owner afterwards fires nothing more.
	require.NoError(t, a.Close())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, observerDetached.len())
}

func TestDetachOwnedDeletes(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	players, err := b.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return players.Len() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, owned.Detach(ctx))
	assert.True(t, owned.Deleted())
	require.Eventually(t, func() bool { return players.Len() == 0 }, waitFor, 5*time.Millisecond)
}

func TestDetachObserverKeepsInstance(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	owned, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	mirror, err := b.AttachID(ctx, owned.ID())
	require.NoError(t, err)

	var detached, updates recorder[struct{}]
	mirror.OnDetach(func() { detached.add(struct{}{}) })
	mirror.OnUpdate(func(ir.Values, map[string]string) { updates.add(struct{}{}) })

	require.NoError(t, mirror.Detach(ctx))
	require.Eventually(t, func() bool { return detached.len() == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, owned.Deleted())

	_, err = owned.Set(ctx, ir.Values{"volume": ir.Float(0.5)}, nil)
	require.NoError(t, err)
	_, err = mirror.Set(ctx, ir.Values{"volume": ir.Float(0.1)}, nil)
	assert.ErrorIs(t, err, ir.ErrNotFound, "a detached observer cannot write")
	assert.Zero(t, updates.len())
}

func TestReattachAfterDetachDeliversUpdates(t *testing.T) {
	srv := startServer(t)
	owner := connect(t, srv)
	watcher := connect(t, srv)
	ctx := context.Background()

	owned, err := owner.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	players, err := watcher.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)

	mirror, err := watcher.AttachID(ctx, owned.ID())
	require.NoError(t, err)
	var stale recorder[struct{}]
	old := mirror.OnUpdate(func(ir.Values, map[string]string) { stale.add(struct{}{}) })
	require.NoError(t, mirror.Detach(ctx))
	assert.Equal(t, 1, players.Len(), "the collection keeps the member")

	again, err := watcher.AttachID(ctx, owned.ID())
	require.NoError(t, err)
	assert.Same(t, mirror, again)

	var updates recorder[ir.Values]
	var detached recorder[struct{}]
	sub := again.OnUpdate(func(diff ir.Values, _ map[string]string) { updates.add(diff) })
	again.OnDetach(func() { detached.add(struct{}{}) })
	require.Eventually(t, func() bool { return !old.Active() }, waitFor, 5*time.Millisecond)
	assert.True(t, sub.Active())

	_, err = owned.Set(ctx, ir.Values{"volume": ir.Float(0.5)}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return updates.len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, ir.Values{"volume": ir.Float(0.5)}, updates.get()[0])
	assert.Zero(t, stale.len(), "listeners from before the detach stay retired")

	require.NoError(t, owned.Delete(ctx))
	require.Eventually(t, func() bool { return detached.len() == 1 }, waitFor, 5*time.Millisecond)
}

func TestOwnerDisconnectDeletesInstances(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	players, err := b.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)
	var gone recorder[int64]
	players.OnDetach(func(st *client.SharedState) { gone.add(st.ID()) })

	first, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	second, err := a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return players.Len() == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return gone.len() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{first.ID(), second.ID()}, gone.get(), "owned instances are deleted in id order")
	assert.Zero(t, players.Len())
}

func TestCollectionLifecycle(t *testing.T) {
	srv := startServer(t)
	a := connect(t, srv)
	b := connect(t, srv)
	ctx := context.Background()

	existing, err := a.Create(ctx, lamb.PlayerSchema, ir.Values{"id": ir.Int(1)})
	require.NoError(t, err)

	players, err := b.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)
	assert.Equal(t, 1, players.Len())

	var attached, detached recorder[int64]
	type memberUpdate struct {
		id   int64
		diff ir.Values
	}
	var updates recorder[memberUpdate]
	players.OnAttach(func(st *client.SharedState) { attached.add(st.ID()) })
	players.OnDetach(func(st *client.SharedState) { detached.add(st.ID()) })
	players.OnUpdate(func(st *client.SharedState, diff ir.Values) { updates.add(memberUpdate{st.ID(), diff}) })

	added, err := a.Create(ctx, lamb.PlayerSchema, ir.Values{"id": ir.Int(2)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return attached.len() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{existing.ID(), added.ID()}, attached.get())

	_, err = added.Set(ctx, ir.Values{"volume": ir.Float(0.5)}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return updates.len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, memberUpdate{added.ID(), ir.Values{"volume": ir.Float(0.5)}}, updates.get()[0])

	var ids []int64
	players.Each(func(st *client.SharedState) { ids = append(ids, st.ID()) })
	assert.Equal(t, []int64{existing.ID(), added.ID()}, ids)

	require.NoError(t, existing.Delete(ctx))
	require.Eventually(t, func() bool { return detached.len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{existing.ID()}, detached.get())

	require.NoError(t, players.Close(ctx))
	require.NoError(t, players.Close(ctx), "closing twice is a no-op")

	_, err = a.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, attached.len(), "a closed collection stops delivering")
}

func TestCollectionIncludesOwnInstances(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	players, err := c.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)
	again, err := c.Collection(ctx, lamb.PlayerSchema)
	require.NoError(t, err)
	assert.Same(t, players, again)

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)
	require.Equal(t, 1, players.Len(), "INSTANCE_CREATED precedes the create response")
	assert.Same(t, st, players.States()[0])
}

func TestSubscriptionCancel(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)

	var cancelled, active recorder[ir.Values]
	sub := st.OnUpdate(func(diff ir.Values, _ map[string]string) { cancelled.add(diff) })
	st.OnUpdate(func(diff ir.Values, _ map[string]string) { active.add(diff) })

	sub.Cancel()
	sub.Cancel()
	assert.False(t, sub.Active())

	_, err = st.Set(ctx, ir.Values{"volume": ir.Float(0.3)}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return active.len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, cancelled.len())
}

func TestCallbackPanicIsContained(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	st, err := c.Create(ctx, lamb.PlayerSchema, nil)
	require.NoError(t, err)

	var after recorder[ir.Values]
	st.OnUpdate(func(ir.Values, map[string]string) { panic("listener bug") })
	st.OnUpdate(func(diff ir.Values, _ map[string]string) { after.add(diff) })

	_, err = st.Set(ctx, ir.Values{"volume": ir.Float(0.3)}, nil)
	require.NoError(t, err)
	_, err = st.Set(ctx, ir.Values{"volume": ir.Float(0.4)}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return after.len() == 2 }, waitFor, 5*time.Millisecond)
}

func TestCloseStopsRequests(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)

	st, err := c.Create(context.Background(), lamb.PlayerSchema, nil)
	require.NoError(t, err)
	sub := st.OnUpdate(func(ir.Values, map[string]string) {})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()
	assert.False(t, sub.Active())
	assert.True(t, errors.Is(c.Err(), client.ErrClosed))

	_, err = c.Create(context.Background(), lamb.PlayerSchema, nil)
	assert.ErrorIs(t, err, client.ErrClosed)
}

func TestRequestHonoursContext(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Create(ctx, lamb.PlayerSchema, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
