package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// SchemaSpec is a compiled schema.<name> entry.
type SchemaSpec struct {
	Name       string
	Definition schema.Definition
}

// HookSpec is a compiled hook.<name> entry.
type HookSpec struct {
	Schema      string
	Derivations []hook.Derivation
}

// Result holds everything compiled from one CUE instance.
type Result struct {
	Schemas   []SchemaSpec
	Hooks     []HookSpec
	FileCount int
}

// CompileString compiles CUE source. filename only labels error positions.
// All compile errors are collected; the result carries whatever compiled.
func CompileString(src, filename string) (*Result, []error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError("", err)}
	}
	res, errs := compileRoot(v)
	res.FileCount = 1
	return res, errs
}

// LoadDir loads the CUE package in dir and compiles it.
func LoadDir(dir string) (*Result, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("schema directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fmt.Errorf("loading CUE files: %w", inst.Err)}
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError("", err)}
	}

	res, errs := compileRoot(v)
	res.FileCount = len(files)
	return res, errs
}

func compileRoot(v cue.Value) (*Result, []error) {
	res := &Result{}
	var errs []error

	if schemas := v.LookupPath(cue.ParsePath("schema")); schemas.Exists() {
		iter, err := schemas.Fields()
		if err != nil {
			errs = append(errs, formatCUEError("schema", err))
		} else {
			for iter.Next() {
				def, err := CompileSchema(iter.Value())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				res.Schemas = append(res.Schemas, SchemaSpec{Name: iter.Label(), Definition: def})
			}
		}
	}

	if hooks := v.LookupPath(cue.ParsePath("hook")); hooks.Exists() {
		iter, err := hooks.Fields()
		if err != nil {
			errs = append(errs, formatCUEError("hook", err))
		} else {
			for iter.Next() {
				derivations, err := CompileHook(iter.Value())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				res.Hooks = append(res.Hooks, HookSpec{Schema: iter.Label(), Derivations: derivations})
			}
		}
	}

	if len(res.Schemas) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Message: "no schemas found"})
	}
	return res, errs
}

// Install registers every compiled schema, then every hook. Hooks must
// target a schema in the registry and derive only declared fields.
func (r *Result) Install(schemas *schema.Registry, hooks *hook.Registry) error {
	for _, s := range r.Schemas {
		if _, err := schemas.Register(s.Name, s.Definition); err != nil {
			return fmt.Errorf("register schema %s: %w", s.Name, err)
		}
	}
	for _, h := range r.Hooks {
		sch, err := schemas.Get(h.Schema)
		if err != nil {
			return fmt.Errorf("hook %s: %w", h.Schema, err)
		}
		for _, d := range h.Derivations {
			if !sch.Has(d.Field) {
				return fmt.Errorf("hook %s: %w", h.Schema,
					&ir.Error{Code: ir.CodeUnknownField, Message: "derived field is not declared", Schema: h.Schema, Field: d.Field})
			}
		}
		fn, err := hook.Expr(h.Derivations...)
		if err != nil {
			return fmt.Errorf("hook %s: %w", h.Schema, err)
		}
		if err := hooks.Register(h.Schema, fn); err != nil {
			return fmt.Errorf("hook %s: %w", h.Schema, err)
		}
	}
	return nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
