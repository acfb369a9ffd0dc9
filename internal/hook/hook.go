package hook

import (
	"fmt"
	"maps"
	"sync"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Context describes the write a hook is invoked for.
type Context struct {
	Schema     string
	InstanceID int64
	ClientID   int64
	Source     string            // metadata["source"], empty when unset
	Metadata   map[string]string // copy of the request metadata
}

// Func derives fields from an update. It receives the coerced partial
// update, the full current values and the context, and returns the fields
// to merge into the update. Returning nil keeps the update unchanged.
//
// A Func must not keep references to its arguments; the pipeline hands it
// copies on every call.
type Func func(updates, current ir.Values, ctx Context) (ir.Values, error)

// Registry maps schema names to their hook. At most one hook per schema.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Func
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Func)}
}

// Register installs fn as the hook of schemaName.
// Fails with DUPLICATE_HOOK if the schema already has one.
func (r *Registry) Register(schemaName string, fn Func) error {
	if fn == nil {
		return &ir.Error{Code: ir.CodeHookFailed, Message: "hook function is nil", Schema: schemaName}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hooks[schemaName]; exists {
		return &ir.Error{Code: ir.CodeDuplicateHook, Message: "schema already has an update hook", Schema: schemaName}
	}
	r.hooks[schemaName] = fn
	return nil
}

// Lookup returns the hook registered for schemaName.
func (r *Registry) Lookup(schemaName string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.hooks[schemaName]
	return fn, ok
}

// Run passes an update through the hook of ctx.Schema and returns the
// update merged with the hook's output. Without a hook the update is
// returned as is.
//
// Errors and panics raised by the hook are reported as HOOK_FAILED.
func (r *Registry) Run(ctx Context, updates, current ir.Values) (ir.Values, error) {
	if r == nil {
		return updates, nil
	}
	fn, ok := r.Lookup(ctx.Schema)
	if !ok {
		return updates, nil
	}

	ctx.Metadata = maps.Clone(ctx.Metadata)
	derived, err := call(fn, updates.Clone(), current.Clone(), ctx)
	if err != nil {
		return nil, &ir.Error{
			Code:       ir.CodeHookFailed,
			Message:    err.Error(),
			Schema:     ctx.Schema,
			InstanceID: ctx.InstanceID,
		}
	}
	return updates.Merge(derived), nil
}

func call(fn Func, updates, current ir.Values, ctx Context) (out ir.Values, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return fn(updates, current, ctx)
}
