package ir

import (
	"encoding/json"
	"fmt"
	"math"
)

// FromGo converts a native Go value into a Value.
//
// Accepted inputs are the scalar kinds decoded by encoding/json, yaml.v3 and
// expr-lang (ints of every width, floats, bools, strings, json.Number) plus
// slices of those. Maps and nil are rejected.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil is not a valid value")
	case Value:
		return val, nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return fromUint(val)
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		data, _ := json.Marshal(val)
		return UnmarshalValue(data)
	case []string:
		return Strings(val...), nil
	case []any:
		l := make(List, len(val))
		for i, elem := range val {
			item, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = item
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(u), nil
}

// ValuesFromGo converts a map of native Go values into Values.
func ValuesFromGo(m map[string]any) (Values, error) {
	out := make(Values, len(m))
	for k, v := range m {
		val, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// Native converts a Value back into a plain Go value
// (int64, float64, bool, string or []any).
func Native(v Value) any {
	switch val := v.(type) {
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case String:
		return string(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Native(elem)
		}
		return out
	default:
		return nil
	}
}

// NativeMap converts Values into map[string]any using Native.
func (vs Values) NativeMap() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = Native(v)
	}
	return out
}
