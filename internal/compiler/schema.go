package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// CompileSchema parses one schema.<name> struct into a validated definition.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`schema: globals: master: {type: "float", default: 1}`)
//	def, err := CompileSchema(v.LookupPath(cue.ParsePath("schema.globals")))
//
// The definition is checked with schema.New, so an invalid descriptor fails
// here rather than at registration.
func CompileSchema(v cue.Value) (schema.Definition, error) {
	name := lastLabel(v)
	path := "schema." + name
	if err := v.Err(); err != nil {
		return nil, formatCUEError(path, err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(path, err)
	}

	var def schema.Definition
	for iter.Next() {
		f, err := compileField(path, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		def = append(def, f)
	}
	if len(def) == 0 {
		return nil, &CompileError{Field: path, Message: "schema declares no fields", Pos: v.Pos()}
	}

	if _, err := schema.New(name, def); err != nil {
		return nil, &CompileError{Field: path, Message: err.Error(), Pos: v.Pos()}
	}
	return def, nil
}

func compileField(schemaPath, name string, v cue.Value) (schema.Field, error) {
	path := schemaPath + "." + name
	f := schema.Field{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return f, &CompileError{Field: path, Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return f, formatCUEError(path+".type", err)
	}
	f.Type = schema.FieldType(typ)
	if !f.Type.Valid() {
		return f, &CompileError{Field: path + ".type", Message: fmt.Sprintf("unknown field type %q", typ), Pos: typeVal.Pos()}
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		f.Default, err = compileValue(path+".default", dv)
		if err != nil {
			return f, err
		}
	}

	if f.Min, err = compileBound(path+".min", v.LookupPath(cue.ParsePath("min"))); err != nil {
		return f, err
	}
	if f.Max, err = compileBound(path+".max", v.LookupPath(cue.ParsePath("max"))); err != nil {
		return f, err
	}

	if ev := v.LookupPath(cue.ParsePath("enum")); ev.Exists() {
		list, err := compileValue(path+".enum", ev)
		if err != nil {
			return f, err
		}
		entries, ok := list.(ir.List)
		if !ok {
			return f, &CompileError{Field: path + ".enum", Message: "enum must be a list", Pos: ev.Pos()}
		}
		f.Enum = []ir.Value(entries)
	}

	return f, nil
}

func compileBound(path string, v cue.Value) (*float64, error) {
	if !v.Exists() {
		return nil, nil
	}
	n, err := v.Float64()
	if err != nil {
		return nil, formatCUEError(path, err)
	}
	return schema.Bound(n), nil
}

// compileValue converts a concrete CUE value into an ir.Value.
func compileValue(path string, v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		return ir.Int(n), nil
	case cue.FloatKind:
		n, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		return ir.Float(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		return ir.Bool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		return ir.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		out := ir.List{}
		for i := 0; iter.Next(); i++ {
			item, err := compileValue(fmt.Sprintf("%s[%d]", path, i), iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	default:
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("expected a concrete number, bool, string or list, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func lastLabel(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].String()
}
