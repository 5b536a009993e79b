package domain

import "encoding/json"

// CloneJSONValue deep-copies a JSON-shaped value (map[string]any,
// []any, or a scalar) by round-tripping it through encoding/json. Used
// wherever a stored schema/annotations object must be handed to a
// caller without letting them mutate the catalog's copy.
func CloneJSONValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// CloneStringMap deep-copies a map[string]any via CloneJSONValue,
// returning nil for nil input.
func CloneStringMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cloned := CloneJSONValue(m)
	if typed, ok := cloned.(map[string]any); ok {
		return typed
	}
	return map[string]any{}
}
