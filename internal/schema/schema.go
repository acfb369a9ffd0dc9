package schema

import (
	"fmt"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Schema is an immutable, validated set of field definitions.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// New validates def and builds a Schema named name.
//
// Validation failures return an *ir.Error with code INVALID_DEFINITION:
// a missing or unknown type, bounds on a non-numeric field, min > max, a
// default or enum entry that cannot be coerced, or a default outside the
// enum. Defaults are clamped into the declared bounds.
func New(name string, def Definition) (*Schema, error) {
	if name == "" {
		return nil, invalid(name, "", "schema name is required")
	}

	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(def)),
		index:  make(map[string]int, len(def)),
	}

	for _, f := range def {
		if f.Name == "" {
			return nil, invalid(name, "", "field name is required")
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, invalid(name, f.Name, "field declared twice")
		}
		if f.Type == "" {
			return nil, invalid(name, f.Name, "field type is required")
		}
		if !f.Type.Valid() {
			return nil, invalid(name, f.Name, fmt.Sprintf("unknown field type %q", f.Type))
		}
		if !f.Type.Numeric() && (f.Min != nil || f.Max != nil) {
			return nil, invalid(name, f.Name, fmt.Sprintf("min/max not allowed on %s fields", f.Type))
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return nil, invalid(name, f.Name, fmt.Sprintf("min %v is greater than max %v", *f.Min, *f.Max))
		}

		normalized := Field{Name: f.Name, Type: f.Type}
		if f.Min != nil {
			normalized.Min = Bound(*f.Min)
		}
		if f.Max != nil {
			normalized.Max = Bound(*f.Max)
		}

		for i, e := range f.Enum {
			v, err := coerce(Field{Name: f.Name, Type: f.Type, Min: normalized.Min, Max: normalized.Max}, e)
			if err != nil {
				return nil, invalid(name, f.Name, fmt.Sprintf("enum[%d]: %v", i, err))
			}
			normalized.Enum = append(normalized.Enum, v)
		}

		dflt := f.Default
		if dflt == nil {
			dflt = zeroValue(f.Type)
			if len(normalized.Enum) > 0 {
				dflt = normalized.Enum[0]
			}
		}
		v, err := coerce(normalized, dflt)
		if err != nil {
			return nil, invalid(name, f.Name, fmt.Sprintf("default: %v", err))
		}
		normalized.Default = v

		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, normalized)
	}

	return s, nil
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Field returns the named field definition.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Fields returns the field definitions in declaration order.
func (s *Schema) Fields() Definition {
	return slices.Clone(s.fields)
}

// Has reports whether the schema declares a field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Defaults returns a full value set made of every field default.
func (s *Schema) Defaults() ir.Values {
	out := make(ir.Values, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = f.Default
	}
	return out.Clone()
}

// Coerce converts a single value written to field name.
func (s *Schema) Coerce(name string, v ir.Value) (ir.Value, error) {
	f, ok := s.Field(name)
	if !ok {
		return nil, &ir.Error{Code: ir.CodeUnknownField, Message: "field is not declared", Schema: s.name, Field: name}
	}
	out, err := coerce(f, v)
	if err != nil {
		if e, ok := err.(*ir.Error); ok {
			e.Schema = s.name
		}
		return nil, err
	}
	return out, nil
}

// CoerceValues converts every entry of a partial update. The first failing
// field aborts the whole set; fields are visited in sorted order so the
// reported error is deterministic.
func (s *Schema) CoerceValues(vs ir.Values) (ir.Values, error) {
	out := make(ir.Values, len(vs))
	for _, name := range vs.SortedKeys() {
		v, err := s.Coerce(name, vs[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Describe returns the serializable form of the schema, as handed to clients.
func (s *Schema) Describe() Description {
	return Description{Name: s.name, Fields: s.Fields()}
}

// Description is the wire form of a schema. Clients rebuild a Schema from it
// with Description.Schema to display bounds and validate writes locally.
type Description struct {
	Name   string     `json:"name"`
	Fields Definition `json:"fields"`
}

// Schema rebuilds the validated Schema.
func (d Description) Schema() (*Schema, error) {
	return New(d.Name, d.Fields)
}

func invalid(schemaName, field, msg string) *ir.Error {
	return &ir.Error{Code: ir.CodeInvalidDefinition, Message: msg, Schema: schemaName, Field: field}
}
