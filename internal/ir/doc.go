// Package ir provides the value types shared by every lamb package.
//
// This package contains the sealed Value variant carried by state fields, the
// Values map used for full snapshots and diffs, canonical JSON encoding, and
// the error taxonomy. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - Field values are one of Int, Float, Bool, String or List, never an
//     unconstrained interface{}
//   - Floats always encode with a fraction or exponent so Int and Float
//     survive a JSON round trip
//   - Values encode with sorted keys for deterministic output
package ir
