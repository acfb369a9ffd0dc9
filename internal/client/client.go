package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/queue"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
	"github.com/etiennedemoulin/nodes-lamb/internal/transport"
)

// ErrClosed is returned by requests on a closed or disconnected client.
var ErrClosed = errors.New("client: closed")

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client is a connection to a state server and the mirror of every
// instance it observes.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	conn transport.Conn
	log  *slog.Logger
	id   int64

	requestIDs atomic.Uint64
	dispatch   *queue.Queue[func()]

	mu          sync.Mutex
	pending     map[uint64]*call
	states      map[int64]*SharedState
	collections map[string]*Collection
	schemas     map[string]*schema.Schema

	closeOnce  sync.Once
	closed     chan struct{}
	err        error
	readerDone chan struct{}
}

type call struct {
	req  protocol.Message
	done chan result // buffered, the reader never blocks on it
}

type result struct {
	msg   protocol.Message
	state *SharedState
	coll  *Collection
	err   error
}

// Dial connects to a WebSocket state server.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open connection. It waits for the server's HELLO, then
// starts the reader and dispatcher goroutines.
func New(ctx context.Context, conn transport.Conn, opts ...Option) (*Client, error) {
	c := &Client{
		conn:        conn,
		log:         slog.Default(),
		dispatch:    queue.New[func()](),
		pending:     make(map[uint64]*call),
		states:      make(map[int64]*SharedState),
		collections: make(map[string]*Collection),
		schemas:     make(map[string]*schema.Schema),
		closed:      make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	hello, err := conn.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for HELLO: %w", err)
	}
	if hello.Type != protocol.Hello {
		return nil, ir.Errorf(ir.CodeProtocol, "expected HELLO, got %s", hello.Type)
	}
	c.id = hello.ClientID

	go c.readLoop()
	go c.dispatchLoop()
	c.log.Debug("client connected", "client_id", c.id)
	return c, nil
}

// ID returns the client id assigned by the server.
func (c *Client) ID() int64 {
	return c.id
}

// Done is closed when the client is closed or the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the client stopped, nil while it runs.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

// Close disconnects from the server and cancels every subscription. The
// server deletes the instances this client created. Close may be called
// from a callback.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	<-c.readerDone
	return nil
}

// Create creates an instance of schemaName owned by this client.
func (c *Client) Create(ctx context.Context, schemaName string, values ir.Values) (*SharedState, error) {
	res, err := c.request(ctx, protocol.Message{Type: protocol.StateCreate, Schema: schemaName, Values: values})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// Attach observes the first live instance of schemaName, typically a
// server-owned singleton such as globals.
func (c *Client) Attach(ctx context.Context, schemaName string) (*SharedState, error) {
	res, err := c.request(ctx, protocol.Message{Type: protocol.StateAttach, Schema: schemaName})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// AttachID observes the instance with the given id.
func (c *Client) AttachID(ctx context.Context, id int64) (*SharedState, error) {
	res, err := c.request(ctx, protocol.Message{Type: protocol.StateAttach, InstanceID: id})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// Collection subscribes to every instance of schemaName. Calling it again
// for the same schema returns the same Collection.
func (c *Client) Collection(ctx context.Context, schemaName string) (*Collection, error) {
	c.mu.Lock()
	if col, ok := c.collections[schemaName]; ok {
		c.mu.Unlock()
		return col, nil
	}
	c.mu.Unlock()

	res, err := c.request(ctx, protocol.Message{Type: protocol.CollectionSubscribe, Schema: schemaName})
	if err != nil {
		return nil, err
	}
	return res.coll, nil
}

// request sends m and waits for its RESPONSE. The reader has already
// applied the response to the cache when request returns.
func (c *Client) request(ctx context.Context, m protocol.Message) (result, error) {
	if err := ctx.Err(); err != nil {
		return result{}, err
	}
	m.RequestID = c.requestIDs.Add(1)
	pc := &call{req: m, done: make(chan result, 1)}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return result{}, c.closedErr()
	default:
	}
	c.pending[m.RequestID] = pc
	c.mu.Unlock()

	if err := c.conn.Send(ctx, m); err != nil {
		c.mu.Lock()
		delete(c.pending, m.RequestID)
		c.mu.Unlock()
		if errors.Is(err, transport.ErrClosed) {
			return result{}, c.closedErr()
		}
		return result{}, fmt.Errorf("send %s: %w", m.Type, err)
	}

	select {
	case res := <-pc.done:
		if res.err != nil {
			return res, res.err
		}
		if err := res.msg.Err(); err != nil {
			return res, err
		}
		return res, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, m.RequestID)
		c.mu.Unlock()
		return result{}, ctx.Err()
	case <-c.closed:
		return result{}, c.closedErr()
	}
}

func (c *Client) closedErr() error {
	if c.err != nil && !errors.Is(c.err, ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	ctx := context.Background()
	for {
		m, err := c.conn.Receive(ctx)
		if err != nil {
			if ir.CodeOf(err) == ir.CodeProtocol {
				c.log.Warn("dropping malformed message", "client_id", c.id, "error", err)
				continue
			}
			c.shutdown(err)
			return
		}
		c.apply(m)
	}
}

func (c *Client) dispatchLoop() {
	for {
		fn, err := c.dispatch.Next(context.Background())
		if err != nil {
			return
		}
		c.run(fn)
	}
}

func (c *Client) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("callback panicked", "client_id", c.id, "panic", r)
		}
	}()
	fn()
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		close(c.closed)
		for _, st := range c.states {
			st.cancelListenersLocked()
		}
		for _, col := range c.collections {
			col.cancelListenersLocked()
		}
		clear(c.pending)
		c.mu.Unlock()

		_ = c.conn.Close()
		c.dispatch.Close()
		if !errors.Is(reason, ErrClosed) && !errors.Is(reason, transport.ErrClosed) {
			c.log.Warn("client disconnected", "client_id", c.id, "error", reason)
		} else {
			c.log.Debug("client closed", "client_id", c.id)
		}
	})
}

// emit queues fn on the dispatcher. Called with c.mu held so callbacks are
// queued in the order the reader applied the messages.
func (c *Client) emit(fn func()) {
	c.dispatch.Enqueue(fn)
}

// apply updates the cache for one server message.
func (c *Client) apply(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case protocol.Response:
		c.resolveLocked(m)
	case protocol.StateUpdated:
		if st, ok := c.states[m.InstanceID]; ok {
			st.applyLocked(m)
		}
	case protocol.StateDeleted:
		if st, ok := c.states[m.InstanceID]; ok {
			c.removeLocked(st)
		}
	case protocol.InstanceCreated:
		if col, ok := c.collections[m.Schema]; ok {
			st, err := c.adoptLocked(protocol.Instance{
				ID: m.InstanceID, Schema: m.Schema, Values: m.Values, Version: m.Version,
			}, m.Definition)
			if err != nil {
				c.log.Warn("ignoring created instance", "instance_id", m.InstanceID, "error", err)
				return
			}
			col.addLocked(st)
		}
	default:
		c.log.Warn("unexpected message from server", "type", m.Type)
	}
}

func (c *Client) resolveLocked(m protocol.Message) {
	pc, ok := c.pending[m.RequestID]
	if !ok {
		return
	}
	delete(c.pending, m.RequestID)

	res := result{msg: m}
	if m.Error == nil {
		switch pc.req.Type {
		case protocol.StateCreate, protocol.StateAttach:
			res.state, res.err = c.adoptLocked(protocol.Instance{
				ID: m.InstanceID, Schema: m.Schema, Values: m.Values, Version: m.Version,
			}, m.Definition)
			if res.state != nil {
				res.state.attached = true
				res.state.detachFired = false
				res.state.owned = pc.req.Type == protocol.StateCreate
			}
		case protocol.StateDetach:
			if st, ok := c.states[pc.req.InstanceID]; ok {
				c.detachedLocked(st)
			}
		case protocol.CollectionSubscribe:
			res.coll, res.err = c.subscribedLocked(m)
		case protocol.CollectionUnsubscribe:
			if col, ok := c.collections[pc.req.Schema]; ok {
				c.unsubscribedLocked(col)
			}
		}
	}
	pc.done <- res
}

// schemaLocked returns the cached schema for a description.
func (c *Client) schemaLocked(name string, desc *schema.Description) (*schema.Schema, error) {
	if sch, ok := c.schemas[name]; ok {
		return sch, nil
	}
	if desc == nil {
		return nil, ir.Errorf(ir.CodeProtocol, "missing definition for schema %s", name)
	}
	sch, err := desc.Schema()
	if err != nil {
		return nil, err
	}
	c.schemas[name] = sch
	return sch, nil
}

// adoptLocked returns the mirror of inst, creating it on first sight.
func (c *Client) adoptLocked(inst protocol.Instance, desc *schema.Description) (*SharedState, error) {
	if st, ok := c.states[inst.ID]; ok {
		return st, nil
	}
	sch, err := c.schemaLocked(inst.Schema, desc)
	if err != nil {
		return nil, err
	}
	st := newSharedState(c, sch, inst)
	c.states[inst.ID] = st
	return st, nil
}

// removeLocked handles the deletion of st.
func (c *Client) removeLocked(st *SharedState) {
	delete(c.states, st.id)
	st.deleted = true
	if col, ok := c.collections[st.schema.Name()]; ok {
		col.removeLocked(st)
	}
	st.fireDetachLocked()
}

// detachedLocked handles a successful local detach.
func (c *Client) detachedLocked(st *SharedState) {
	st.attached = false
	st.fireDetachLocked()
	if !st.inCollection {
		delete(c.states, st.id)
	}
}

func (c *Client) subscribedLocked(m protocol.Message) (*Collection, error) {
	if col, ok := c.collections[m.Schema]; ok {
		return col, nil
	}
	sch, err := c.schemaLocked(m.Schema, m.Definition)
	if err != nil {
		return nil, err
	}
	col := &Collection{client: c, schema: sch}
	for _, inst := range m.Instances {
		st, err := c.adoptLocked(inst, m.Definition)
		if err != nil {
			return nil, err
		}
		st.inCollection = true
		col.members = append(col.members, st)
	}
	c.collections[m.Schema] = col
	return col, nil
}

func (c *Client) unsubscribedLocked(col *Collection) {
	delete(c.collections, col.schema.Name())
	col.closed = true
	col.cancelListenersLocked()
	for _, st := range col.members {
		st.inCollection = false
		if !st.attached {
			delete(c.states, st.id)
		}
	}
	col.members = nil
}

// isClosed reports whether shutdown ran. Callers hold c.mu.
func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
