package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
)

// CompileHook parses one hook.<name> struct into its derivations. Each
// expression is compiled once so syntax errors surface with a position.
func CompileHook(v cue.Value) ([]hook.Derivation, error) {
	path := "hook." + lastLabel(v)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(path, err)
	}

	deriveVal := v.LookupPath(cue.ParsePath("derive"))
	if !deriveVal.Exists() {
		return nil, &CompileError{Field: path, Message: "derive is required", Pos: v.Pos()}
	}
	iter, err := deriveVal.List()
	if err != nil {
		return nil, formatCUEError(path+".derive", err)
	}

	var out []hook.Derivation
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		itemPath := fmt.Sprintf("%s.derive[%d]", path, i)

		var d hook.Derivation
		if d.Field, err = requiredString(item, "field", itemPath); err != nil {
			return nil, err
		}
		if d.Expr, err = requiredString(item, "expr", itemPath); err != nil {
			return nil, err
		}
		if wv := item.LookupPath(cue.ParsePath("when")); wv.Exists() {
			if err := wv.Decode(&d.When); err != nil {
				return nil, formatCUEError(itemPath+".when", err)
			}
		}

		if _, err := hook.Expr(d); err != nil {
			return nil, &CompileError{Field: itemPath, Message: err.Error(), Pos: item.Pos()}
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: path + ".derive", Message: "at least one derivation is required", Pos: deriveVal.Pos()}
	}
	return out, nil
}

func requiredString(parent cue.Value, label, parentPath string) (string, error) {
	path := parentPath + "." + label
	v := parent.LookupPath(cue.ParsePath(label))
	if !v.Exists() {
		return "", &CompileError{Field: path, Message: "is required", Pos: parent.Pos()}
	}
	s, err := v.String()
	if err != nil {
		return "", formatCUEError(path, err)
	}
	return s, nil
}
