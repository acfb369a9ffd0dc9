package journal

import (
	"encoding/json"
	"fmt"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// marshalValues stores values as canonical JSON so identical states
// compare equal as text.
func marshalValues(vs ir.Values) (string, error) {
	if vs == nil {
		vs = ir.Values{}
	}
	data, err := ir.MarshalCanonical(vs)
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := ir.MarshalCanonical(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalValues(data string) (ir.Values, error) {
	var vs ir.Values
	if err := json.Unmarshal([]byte(data), &vs); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return vs, nil
}

// unmarshalMetadata returns nil for an empty object.
func unmarshalMetadata(data string) (map[string]string, error) {
	var meta map[string]string
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
