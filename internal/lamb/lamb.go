// Package lamb holds the schemas of the lamb installation and the
// multichannel player built on top of the shared state client.
package lamb

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/etiennedemoulin/nodes-lamb/internal/compiler"
	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// Schema names.
const (
	GlobalsSchema = "globals"
	PlayerSchema  = "player"
)

//go:embed schemas.cue
var schemaSource string

// Source returns the embedded CUE schema file.
func Source() string {
	return schemaSource
}

// Register installs the lamb schemas and the player filter hook.
func Register(schemas *schema.Registry, hooks *hook.Registry) error {
	res, err := Compile("")
	if err != nil {
		return err
	}
	return res.Install(schemas, hooks)
}

// NewRegistries returns fresh registries holding the lamb schemas.
func NewRegistries() (*schema.Registry, *hook.Registry, error) {
	return LoadRegistries("")
}

// Compile compiles the CUE schema directory dir, or the embedded lamb
// schemas when dir is empty.
func Compile(dir string) (*compiler.Result, error) {
	var (
		res    *compiler.Result
		errs   []error
		source = dir
	)
	if dir == "" {
		res, errs = compiler.CompileString(schemaSource, "lamb/schemas.cue")
		source = "lamb schemas"
	} else {
		res, errs = compiler.LoadDir(dir)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile %s: %w", source, errors.Join(errs...))
	}
	return res, nil
}

// LoadRegistries returns fresh registries holding the schemas and hooks of
// dir, or the lamb schemas when dir is empty.
func LoadRegistries(dir string) (*schema.Registry, *hook.Registry, error) {
	res, err := Compile(dir)
	if err != nil {
		return nil, nil, err
	}
	schemas := schema.NewRegistry()
	hooks := hook.NewRegistry()
	if err := res.Install(schemas, hooks); err != nil {
		return nil, nil, err
	}
	return schemas, hooks, nil
}

// CreateGlobals creates the server-owned globals instance every client
// attaches to.
func CreateGlobals(ctx context.Context, e *engine.Engine) (protocol.Instance, error) {
	return e.Create(ctx, nil, GlobalsSchema, nil)
}
