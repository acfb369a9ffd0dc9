// Package schema defines typed, bounded field definitions for state classes.
//
// A Schema is registered once per class name in a Registry before any
// instance of that class exists; it is immutable afterwards. Every value
// written to an instance passes through Schema.Coerce, which converts it to
// the declared field type and clamps numbers into [min, max].
//
// Out-of-range numbers are clamped, never rejected, so UI sliders can always
// produce a value. Type mismatches and unknown fields fail with an *ir.Error
// (TYPE_COERCION, UNKNOWN_FIELD).
package schema
