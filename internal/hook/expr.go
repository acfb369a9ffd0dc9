package hook

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Derivation computes one field from an expression.
//
// The expression sees every field of the merged current+update view as a
// variable, plus the reserved variables updates, current (maps of the
// partial update and the stored values) and source. Derivations run in
// order and each result is visible to the next ones.
type Derivation struct {
	Field string   `json:"field" yaml:"field"`
	Expr  string   `json:"expr" yaml:"expr"`
	When  []string `json:"when,omitempty" yaml:"when,omitempty"` // trigger fields; empty runs on every update
}

type compiledDerivation struct {
	Derivation
	program *exprvm.Program
}

// Expr compiles derivations into a hook Func.
func Expr(derivations ...Derivation) (Func, error) {
	compiled := make([]compiledDerivation, 0, len(derivations))
	for i, d := range derivations {
		if d.Field == "" {
			return nil, fmt.Errorf("derivation %d: field is required", i)
		}
		if d.Expr == "" {
			return nil, fmt.Errorf("derivation %q: expression must not be empty", d.Field)
		}
		program, err := exprlang.Compile(d.Expr,
			exprlang.Env(map[string]any{}),
			exprlang.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, fmt.Errorf("derivation %q: compile %q: %w", d.Field, d.Expr, err)
		}
		compiled = append(compiled, compiledDerivation{Derivation: d, program: program})
	}

	return func(updates, current ir.Values, ctx Context) (ir.Values, error) {
		merged := current.Merge(updates)
		out := make(ir.Values)

		for _, d := range compiled {
			if !triggered(d.When, updates) {
				continue
			}
			env := environment(merged, updates, current, ctx)
			result, err := exprlang.Run(d.program, env)
			if err != nil {
				return nil, fmt.Errorf("derivation %q: %w", d.Field, err)
			}
			v, err := ir.FromGo(result)
			if err != nil {
				return nil, fmt.Errorf("derivation %q: result: %w", d.Field, err)
			}
			out[d.Field] = v
			merged[d.Field] = v
		}
		return out, nil
	}, nil
}

func triggered(when []string, updates ir.Values) bool {
	if len(when) == 0 {
		return true
	}
	for _, f := range when {
		if _, ok := updates[f]; ok {
			return true
		}
	}
	return false
}

func environment(merged, updates, current ir.Values, ctx Context) map[string]any {
	env := merged.NativeMap()
	env["updates"] = updates.NativeMap()
	env["current"] = current.NativeMap()
	env["source"] = ctx.Source
	return env
}
