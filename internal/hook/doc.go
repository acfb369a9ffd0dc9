// Package hook implements the server-side update hook pipeline.
//
// A hook is a pure function registered once per schema. On every write to an
// instance of that schema the engine calls it with the coerced partial
// update, a copy of the current values, and the request context; the fields
// it returns are merged into the update before commit. Hooks receive clones,
// so they cannot reach the stored state, and a failing or panicking hook
// fails only the update that triggered it.
//
// Hooks are written either in Go (Func) or as compiled expr-lang
// derivations (Expr).
package hook
