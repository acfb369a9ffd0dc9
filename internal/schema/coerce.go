package schema

import (
	"math"
	"strconv"
	"strings"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// coerce converts v to the field's declared type and clamps numbers.
func coerce(f Field, v ir.Value) (ir.Value, error) {
	if v == nil {
		return nil, coercionError(f, "value is missing")
	}

	var out ir.Value
	switch f.Type {
	case Integer:
		n, err := toInteger(f, v)
		if err != nil {
			return nil, err
		}
		out = n
	case Float:
		n, err := toNumber(f, v)
		if err != nil {
			return nil, err
		}
		out = ir.Float(clampFloat(f, n))
	case Boolean:
		b, err := toBool(f, v)
		if err != nil {
			return nil, err
		}
		out = b
	case String:
		s, err := toString(f, v)
		if err != nil {
			return nil, err
		}
		out = s
	case Any:
		out = v
	default:
		return nil, coercionError(f, "unsupported field type %q", f.Type)
	}

	if len(f.Enum) > 0 && !inEnum(f.Enum, out) {
		return nil, coercionError(f, "value %s is not one of the allowed values", render(out))
	}
	return out, nil
}

func toNumber(f Field, v ir.Value) (float64, error) {
	var n float64
	switch val := v.(type) {
	case ir.Int:
		n = float64(val)
	case ir.Float:
		n = float64(val)
	case ir.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil {
			return 0, coercionError(f, "%q is not numeric", string(val))
		}
		n = parsed
	default:
		return 0, coercionError(f, "%s is not numeric", v.Kind())
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, coercionError(f, "%v is not a finite number", n)
	}
	return n, nil
}

// toInteger floors non-integral input. Int input is clamped without a
// float round trip so large integers keep their precision.
func toInteger(f Field, v ir.Value) (ir.Int, error) {
	if i, ok := v.(ir.Int); ok {
		if f.Min != nil && float64(i) < *f.Min {
			return ir.Int(math.Ceil(*f.Min)), nil
		}
		if f.Max != nil && float64(i) > *f.Max {
			return ir.Int(math.Floor(*f.Max)), nil
		}
		return i, nil
	}

	n, err := toNumber(f, v)
	if err != nil {
		return 0, err
	}
	n = math.Floor(n)
	if f.Min != nil {
		n = math.Max(n, math.Ceil(*f.Min))
	}
	if f.Max != nil {
		n = math.Min(n, math.Floor(*f.Max))
	}
	if n < math.MinInt64 || n >= math.MaxInt64 {
		return 0, coercionError(f, "%v overflows integer range", n)
	}
	return ir.Int(int64(n)), nil
}

func clampFloat(f Field, n float64) float64 {
	if f.Min != nil && n < *f.Min {
		n = *f.Min
	}
	if f.Max != nil && n > *f.Max {
		n = *f.Max
	}
	return n
}

func toBool(f Field, v ir.Value) (ir.Bool, error) {
	switch val := v.(type) {
	case ir.Bool:
		return val, nil
	case ir.String:
		switch strings.ToLower(strings.TrimSpace(string(val))) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, coercionError(f, "%q is not a boolean", string(val))
	default:
		return false, coercionError(f, "%s is not a boolean", v.Kind())
	}
}

func toString(f Field, v ir.Value) (ir.String, error) {
	switch val := v.(type) {
	case ir.String:
		return val, nil
	case ir.Int:
		return ir.String(strconv.FormatInt(int64(val), 10)), nil
	case ir.Float:
		return ir.String(strconv.FormatFloat(float64(val), 'g', -1, 64)), nil
	case ir.Bool:
		return ir.String(strconv.FormatBool(bool(val))), nil
	default:
		return "", coercionError(f, "%s is not a string", v.Kind())
	}
}

func inEnum(enum []ir.Value, v ir.Value) bool {
	for _, allowed := range enum {
		if ir.Equal(allowed, v) {
			return true
		}
	}
	return false
}

func render(v ir.Value) string {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return v.Kind().String()
	}
	return string(data)
}

func coercionError(f Field, format string, args ...any) *ir.Error {
	e := ir.Errorf(ir.CodeTypeCoercion, format, args...)
	e.Field = f.Name
	return e
}
