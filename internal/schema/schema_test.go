package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

func playerDefinition() Definition {
	return Definition{
		{Name: "id", Type: Integer, Default: ir.Int(0), Min: Bound(0)},
		{Name: "sawFreq", Type: Float, Default: ir.Float(100), Min: Bound(0), Max: Bound(1000)},
		{Name: "filterSlider", Type: Float, Default: ir.Float(0), Min: Bound(0), Max: Bound(1)},
		{Name: "numHarm", Type: Integer},
		{Name: "muted", Type: Boolean},
		{Name: "label", Type: String, Default: ir.String("none")},
		{Name: "mode", Type: String, Enum: []ir.Value{ir.String("saw"), ir.String("square")}},
		{Name: "selectFreq", Type: Any, Default: ir.Strings("30", "60")},
	}
}

func mustSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New("player", playerDefinition())
	require.NoError(t, err)
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := mustSchema(t)

	assert.Equal(t, ir.Values{
		"id":           ir.Int(0),
		"sawFreq":      ir.Float(100),
		"filterSlider": ir.Float(0),
		"numHarm":      ir.Int(0),
		"muted":        ir.Bool(false),
		"label":        ir.String("none"),
		"mode":         ir.String("saw"),
		"selectFreq":   ir.Strings("30", "60"),
	}, s.Defaults())
}

func TestNew_FieldOrderPreserved(t *testing.T) {
	s := mustSchema(t)

	var names []string
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "sawFreq", "filterSlider", "numHarm", "muted", "label", "mode", "selectFreq"}, names)
}

func TestNew_DefaultIsClamped(t *testing.T) {
	s, err := New("g", Definition{{Name: "master", Type: Float, Default: ir.Float(3), Max: Bound(1)}})
	require.NoError(t, err)
	assert.Equal(t, ir.Float(1), s.Defaults()["master"])
}

func TestNew_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"missing type", Definition{{Name: "a"}}},
		{"unknown type", Definition{{Name: "a", Type: "decimal"}}},
		{"min greater than max", Definition{{Name: "a", Type: Float, Min: Bound(2), Max: Bound(1)}}},
		{"bounds on string", Definition{{Name: "a", Type: String, Min: Bound(0)}}},
		{"uncoercible default", Definition{{Name: "a", Type: Integer, Default: ir.String("abc")}}},
		{"default outside enum", Definition{{Name: "a", Type: String, Default: ir.String("x"), Enum: []ir.Value{ir.String("y")}}}},
		{"duplicate field", Definition{{Name: "a", Type: Boolean}, {Name: "a", Type: Boolean}}},
		{"empty field name", Definition{{Type: Boolean}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("bad", tt.def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ir.ErrInvalidDefinition), "got %v", err)
		})
	}
}

func TestNew_EmptyName(t *testing.T) {
	_, err := New("", Definition{})
	assert.True(t, errors.Is(err, ir.ErrInvalidDefinition))
}

func TestCoerce(t *testing.T) {
	s := mustSchema(t)

	tests := []struct {
		name  string
		field string
		input ir.Value
		want  ir.Value
	}{
		{"float passthrough", "sawFreq", ir.Float(220.5), ir.Float(220.5)},
		{"int to float", "sawFreq", ir.Int(300), ir.Float(300)},
		{"numeric string to float", "sawFreq", ir.String("120"), ir.Float(120)},
		{"float clamped high", "filterSlider", ir.Float(5), ir.Float(1)},
		{"int clamped high", "filterSlider", ir.Int(5), ir.Float(1)},
		{"float clamped low", "filterSlider", ir.Float(-0.5), ir.Float(0)},
		{"integer passthrough", "id", ir.Int(7), ir.Int(7)},
		{"integer floors float", "numHarm", ir.Float(3.9), ir.Int(3)},
		{"integer from string", "numHarm", ir.String(" 12 "), ir.Int(12)},
		{"integer clamped low", "id", ir.Int(-4), ir.Int(0)},
		{"bool passthrough", "muted", ir.Bool(true), ir.Bool(true)},
		{"bool from string", "muted", ir.String("TRUE"), ir.Bool(true)},
		{"string passthrough", "label", ir.String("x"), ir.String("x")},
		{"string from float", "label", ir.Float(0.5), ir.String("0.5")},
		{"enum member", "mode", ir.String("square"), ir.String("square")},
		{"any keeps variant", "selectFreq", ir.Strings("1"), ir.Strings("1")},
		{"any accepts scalar", "selectFreq", ir.Int(1), ir.Int(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Coerce(tt.field, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Errors(t *testing.T) {
	s := mustSchema(t)

	tests := []struct {
		name  string
		field string
		input ir.Value
		code  ir.ErrorCode
	}{
		{"unknown field", "nope", ir.Int(1), ir.CodeUnknownField},
		{"non-numeric string", "sawFreq", ir.String("loud"), ir.CodeTypeCoercion},
		{"NaN string", "sawFreq", ir.String("NaN"), ir.CodeTypeCoercion},
		{"bool to number", "numHarm", ir.Bool(true), ir.CodeTypeCoercion},
		{"list to number", "sawFreq", ir.Strings("1"), ir.CodeTypeCoercion},
		{"bad bool string", "muted", ir.String("yes"), ir.CodeTypeCoercion},
		{"number to bool", "muted", ir.Int(1), ir.CodeTypeCoercion},
		{"list to string", "label", ir.Strings("a"), ir.CodeTypeCoercion},
		{"enum violation", "mode", ir.String("sine"), ir.CodeTypeCoercion},
		{"missing value", "label", nil, ir.CodeTypeCoercion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Coerce(tt.field, tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.CodeOf(err))

			var e *ir.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "player", e.Schema)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestCoerceValues(t *testing.T) {
	s := mustSchema(t)

	out, err := s.CoerceValues(ir.Values{"filterSlider": ir.Int(5), "sawFreq": ir.String("30")})
	require.NoError(t, err)
	assert.Equal(t, ir.Values{"filterSlider": ir.Float(1), "sawFreq": ir.Float(30)}, out)

	_, err = s.CoerceValues(ir.Values{"filterSlider": ir.Float(0.5), "bogus": ir.Int(1)})
	assert.True(t, errors.Is(err, ir.ErrUnknownField))
}

func TestDescription_RoundTrip(t *testing.T) {
	s := mustSchema(t)

	data, err := json.Marshal(s.Describe())
	require.NoError(t, err)

	var desc Description
	require.NoError(t, json.Unmarshal(data, &desc))

	rebuilt, err := desc.Schema()
	require.NoError(t, err)
	assert.Equal(t, s.Fields(), rebuilt.Fields())
	assert.Equal(t, s.Defaults(), rebuilt.Defaults())
}

func TestDescription_ExposesBounds(t *testing.T) {
	s := mustSchema(t)

	f, ok := s.Field("filterSlider")
	require.True(t, ok)
	require.NotNil(t, f.Max)
	assert.Equal(t, 1.0, *f.Max)
	assert.Equal(t, 0.0, *f.Min)
	assert.True(t, s.Has("filterSlider"))
	assert.False(t, s.Has("unknown"))
}
