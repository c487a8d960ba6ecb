package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores an arbitrary JSON object inside a JSONB column.
type JSONMap map[string]any

// Value serializes the map to JSON.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes JSONB into the map.
func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported scan type %T", value)
	}
	decoded := JSONMap{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*j = decoded
	return nil
}

// Merge folds patch into a copy of j. Nested objects merge recursively,
// everything else in patch replaces the existing value.
func (j JSONMap) Merge(patch map[string]any) JSONMap {
	out := make(JSONMap, len(j)+len(patch))
	for k, v := range j {
		out[k] = v
	}
	for k, v := range patch {
		incoming, incomingIsMap := asMap(v)
		existing, existingIsMap := asMap(out[k])
		if incomingIsMap && existingIsMap {
			out[k] = map[string]any(JSONMap(existing).Merge(incoming))
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case JSONMap:
		return m, true
	default:
		return nil, false
	}
}
