package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/queue"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// command runs on the Run goroutine.
type command func(ctx context.Context)

// Engine is the single-writer state manager.
//
// Every operation is submitted as a command to a FIFO queue and executed by
// the Run goroutine, which owns all instances, sessions and registrations.
// Commits are therefore totally ordered and broadcasts reach every session
// outbox in commit order.
//
// Thread-safety model:
//   - Create, Attach, Update, ... and Handle: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// A nil *Session stands for the server itself: it owns global instances,
// may read and write any instance and never receives messages.
type Engine struct {
	schemas  *schema.Registry
	hooks    *hook.Registry
	log      *slog.Logger
	recorder Recorder
	tokens   TokenGenerator

	instanceIDs *Clock
	clientIDs   *Clock
	seq         *Clock

	queue   *queue.Queue[command]
	records *queue.Queue[recording]
	stopped chan struct{}

	// Owned by the Run goroutine.
	sessions    map[int64]*Session
	instances   map[int64]*instance
	tombstones  map[int64]struct{}
	members     map[string][]int64 // live instance ids per schema, creation order
	subscribers map[string]map[int64]*Session
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithRecorder installs a commit recorder, typically a journal.Store.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTokenGenerator sets the session token generator.
// Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) EngineOption {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithInstanceIDStart makes the first instance id start+1.
func WithInstanceIDStart(start int64) EngineOption {
	return func(e *Engine) {
		e.instanceIDs = NewClockAt(start)
	}
}

// New creates an Engine over the given registries. A nil hook registry
// means no schema has a hook.
func New(schemas *schema.Registry, hooks *hook.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		schemas:     schemas,
		hooks:       hooks,
		log:         slog.Default(),
		tokens:      UUIDv7Generator{},
		instanceIDs: NewClock(),
		clientIDs:   NewClock(),
		seq:         NewClock(),
		queue:       queue.New[command](),
		records:     queue.New[recording](),
		stopped:     make(chan struct{}),
		sessions:    make(map[int64]*Session),
		instances:   make(map[int64]*instance),
		tombstones:  make(map[int64]struct{}),
		members:     make(map[string][]int64),
		subscribers: make(map[string]map[int64]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schemas returns the schema registry the engine validates against.
func (e *Engine) Schemas() *schema.Registry {
	return e.schemas
}

// Run executes commands until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing command is answered with its error and logged;
// the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting", "schemas", e.schemas.Names())

	recorded := make(chan struct{})
	go e.recordLoop(context.WithoutCancel(ctx), recorded)
	defer func() {
		e.records.Close()
		<-recorded
		close(e.stopped)
	}()

	for {
		if cmd, ok := e.queue.TryDequeue(); ok {
			cmd(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.closeSessions()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.log.Info("engine stopping: queue closed")
				e.closeSessions()
				return nil
			}
		}
	}
}

// Stop makes Run return once the commands already queued are executed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Done is closed when Run has returned and every commit has reached the
// recorder.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

func (e *Engine) closeSessions() {
	for _, s := range e.sessions {
		s.outbox.Close()
	}
}

// do runs fn on the Run goroutine and waits for it. A cancelled ctx stops
// the wait, not the command.
func (e *Engine) do(ctx context.Context, fn command) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(func(runCtx context.Context) {
		defer close(done)
		fn(runCtx)
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		// Run may have executed the command just before returning.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Connect opens a session and queues its HELLO message.
func (e *Engine) Connect(ctx context.Context) (*Session, error) {
	var s *Session
	err := e.do(ctx, func(context.Context) {
		s = newSession(e.clientIDs.Next(), e.tokens.Generate())
		e.sessions[s.ID] = s
		s.push(protocol.Message{Type: protocol.Hello, ClientID: s.ID})
		e.log.Info("session connected", "client_id", s.ID, "token", s.Token)
	})
	return s, err
}

// Disconnect closes s: instances it owns are deleted, every registration
// it holds is removed and its outbox is closed.
func (e *Engine) Disconnect(ctx context.Context, s *Session) error {
	return e.do(ctx, func(runCtx context.Context) {
		e.disconnect(runCtx, s)
	})
}

// Create creates an instance of schemaName owned by s (nil: the server).
// initial is applied through the update path, hook included.
func (e *Engine) Create(ctx context.Context, s *Session, schemaName string, initial ir.Values) (protocol.Instance, error) {
	var (
		out protocol.Instance
		err error
	)
	if doErr := e.do(ctx, func(runCtx context.Context) {
		var inst *instance
		if inst, err = e.create(runCtx, s, schemaName, initial, nil); err == nil {
			out = inst.snapshot()
		}
	}); doErr != nil {
		return protocol.Instance{}, doErr
	}
	return out, err
}

// Target selects the instance of an attach: by schema name (the first live
// instance of that schema) or by id.
type Target struct {
	Schema     string
	InstanceID int64
}

// Attach registers s as observer of the target instance and returns its
// snapshot.
func (e *Engine) Attach(ctx context.Context, s *Session, target Target) (protocol.Instance, error) {
	var (
		out protocol.Instance
		err error
	)
	if doErr := e.do(ctx, func(context.Context) {
		var inst *instance
		if inst, err = e.attach(s, target); err == nil {
			out = inst.snapshot()
		}
	}); doErr != nil {
		return protocol.Instance{}, doErr
	}
	return out, err
}

// Detach removes the observer registration of s. Detaching an owned
// instance deletes it.
func (e *Engine) Detach(ctx context.Context, s *Session, id int64) error {
	var err error
	if doErr := e.do(ctx, func(runCtx context.Context) {
		err = e.detach(runCtx, s, id)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Commit is the result of an update.
type Commit struct {
	InstanceID int64
	Values     ir.Values // committed diff, empty when nothing changed
	Version    uint64
}

// Update validates values, runs the schema hook and commits the diff. The
// diff is broadcast to every observer before Update returns.
func (e *Engine) Update(ctx context.Context, s *Session, id int64, values ir.Values, metadata map[string]string) (Commit, error) {
	var (
		out Commit
		err error
	)
	if doErr := e.do(ctx, func(runCtx context.Context) {
		out, err = e.update(runCtx, s, id, values, metadata)
	}); doErr != nil {
		return Commit{}, doErr
	}
	return out, err
}

// Delete deletes an instance owned by s (nil: any instance).
func (e *Engine) Delete(ctx context.Context, s *Session, id int64) error {
	var err error
	if doErr := e.do(ctx, func(runCtx context.Context) {
		err = e.deleteOwned(runCtx, s, id)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Subscribe registers s as collection subscriber of schemaName and returns
// the live members in creation order.
func (e *Engine) Subscribe(ctx context.Context, s *Session, schemaName string) ([]protocol.Instance, error) {
	var (
		out []protocol.Instance
		err error
	)
	if doErr := e.do(ctx, func(context.Context) {
		out, err = e.subscribe(s, schemaName)
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

// Unsubscribe removes the collection subscription of s. Unsubscribing
// twice is a no-op.
func (e *Engine) Unsubscribe(ctx context.Context, s *Session, schemaName string) error {
	var err error
	if doErr := e.do(ctx, func(context.Context) {
		err = e.unsubscribe(s, schemaName)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Snapshot lists every live instance by ascending id.
func (e *Engine) Snapshot(ctx context.Context) ([]protocol.Instance, error) {
	var out []protocol.Instance
	err := e.do(ctx, func(context.Context) {
		ids := make([]int64, 0, len(e.instances))
		for id := range e.instances {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			out = append(out, e.instances[id].snapshot())
		}
	})
	return out, err
}

// Handle executes a protocol request from s. Broadcasts and the RESPONSE
// are appended to the outboxes; Handle itself does not wait.
func (e *Engine) Handle(s *Session, m protocol.Message) error {
	if !e.queue.Enqueue(func(runCtx context.Context) {
		s.push(e.handle(runCtx, s, m))
	}) {
		return ErrStopped
	}
	return nil
}
