package schema

import (
	"slices"
	"sync"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Registry holds the schemas of one server process.
//
// There is no package-level registry: the registry is created explicitly at
// startup and injected into the engine. Schemas can only be added; there is
// no unregister.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register validates def and adds it under name.
// Fails with DUPLICATE_SCHEMA if name is taken, INVALID_DEFINITION if def
// does not validate.
func (r *Registry) Register(name string, def Definition) (*Schema, error) {
	s, err := New(name, def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[name]; exists {
		return nil, &ir.Error{Code: ir.CodeDuplicateSchema, Message: "schema already registered", Schema: name}
	}
	r.schemas[name] = s
	r.order = append(r.order, name)
	return s, nil
}

// Get returns the schema registered under name.
// Fails with UNKNOWN_SCHEMA if absent.
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	if !ok {
		return nil, &ir.Error{Code: ir.CodeUnknownSchema, Message: "schema is not registered", Schema: name}
	}
	return s, nil
}

// Names returns the registered schema names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
