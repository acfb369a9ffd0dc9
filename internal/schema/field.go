package schema

import (
	"encoding/json"
	"fmt"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	Integer FieldType = "integer"
	Float   FieldType = "float"
	Boolean FieldType = "boolean"
	String  FieldType = "string"
	Any     FieldType = "any"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case Integer, Float, Boolean, String, Any:
		return true
	}
	return false
}

// Numeric reports whether t accepts min/max bounds.
func (t FieldType) Numeric() bool {
	return t == Integer || t == Float
}

// Field describes one field of a schema.
type Field struct {
	Name    string
	Type    FieldType
	Default ir.Value   // nil means the zero value of Type
	Min     *float64   // inclusive lower bound, numeric types only
	Max     *float64   // inclusive upper bound, numeric types only
	Enum    []ir.Value // allowed values, empty means unrestricted
}

// Definition is the ordered list of fields of a schema.
type Definition []Field

// Bound returns a pointer to v, for Field.Min and Field.Max literals.
func Bound(v float64) *float64 {
	return &v
}

// zeroValue returns the default used when a field declares none.
func zeroValue(t FieldType) ir.Value {
	switch t {
	case Integer:
		return ir.Int(0)
	case Float:
		return ir.Float(0)
	case Boolean:
		return ir.Bool(false)
	case String:
		return ir.String("")
	default:
		return ir.List{}
	}
}

type fieldJSON struct {
	Name    string          `json:"name"`
	Type    FieldType       `json:"type"`
	Default json.RawMessage `json:"default,omitempty"`
	Min     *float64        `json:"min,omitempty"`
	Max     *float64        `json:"max,omitempty"`
	Enum    ir.List         `json:"enum,omitempty"`
}

// MarshalJSON implements json.Marshaler. Field descriptors travel to clients
// so they can display bounds and validate writes before sending them.
func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{Name: f.Name, Type: f.Type, Min: f.Min, Max: f.Max, Enum: ir.List(f.Enum)}
	if f.Default != nil {
		data, err := ir.MarshalValue(f.Default)
		if err != nil {
			return nil, fmt.Errorf("field %q default: %w", f.Name, err)
		}
		out.Default = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = Field{Name: in.Name, Type: in.Type, Min: in.Min, Max: in.Max}
	if len(in.Enum) > 0 {
		f.Enum = []ir.Value(in.Enum)
	}
	if len(in.Default) > 0 {
		v, err := ir.UnmarshalValue(in.Default)
		if err != nil {
			return fmt.Errorf("field %q default: %w", in.Name, err)
		}
		f.Default = v
	}
	return nil
}
