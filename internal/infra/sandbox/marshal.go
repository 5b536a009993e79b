package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// HostFunc is a globals entry the sandboxed code may call through the
// host-call bridge (spec.md §4.5).
type HostFunc func(ctx context.Context, args []any) (any, error)

const sentinelKey = "__fnToken"

// marshalGlobals walks globals and replaces every HostFunc found at any
// depth with a sentinel {"__fnToken": fnId} token, registering the
// function under its dotted path. The returned map is safe to transmit
// to the worker; the registry stays in the parent.
func marshalGlobals(globals map[string]any) (map[string]any, map[string]HostFunc) {
	registry := make(map[string]HostFunc)
	out := walkGlobals("", globals, registry).(map[string]any)
	return out, registry
}

func walkGlobals(path string, v any, registry map[string]HostFunc) any {
	switch t := v.(type) {
	case HostFunc:
		registry[path] = t
		return map[string]any{sentinelKey: path}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			out[k] = walkGlobals(childPath, val, registry)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = walkGlobals(fmt.Sprintf("%s[%d]", path, i), val, registry)
		}
		return out
	default:
		return v
	}
}

// isFnToken reports whether v is a sentinel {"__fnToken": id} object, and
// returns its id.
func isFnToken(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	id, ok := m[sentinelKey]
	if !ok {
		return "", false
	}
	s, ok := id.(string)
	return s, ok
}

// safeClone deep-copies v, capping nesting at maxDepth (spec.md §4.5's
// depth-8 cap): a non-scalar subtree at the cap is replaced by its JSON
// text. Other Go values are converted through a JSON round trip, and a
// value JSON cannot encode is stringified with %v.
func safeClone(v any, maxDepth int) any {
	return cloneAt(v, maxDepth)
}

func cloneAt(v any, depth int) any {
	if depth <= 0 {
		switch v.(type) {
		case string, float64, bool, nil:
			return v
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneAt(val, depth-1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAt(val, depth-1)
		}
		return out
	case string, float64, bool, nil:
		return t
	default:
		return cloneAt(stringifyFallback(v), depth)
	}
}

func stringifyFallback(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

// SerializeWithLimit JSON-encodes value with two-space indentation and,
// if the result exceeds maxChars, truncates it leaving room for a
// trailer noting the truncation (spec.md §4.5).
func SerializeWithLimit(value any, maxChars int) (string, error) {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	encoded := string(raw)
	if len(encoded) <= maxChars {
		return encoded, nil
	}
	suffix := fmt.Sprintf("\n... [truncated to %d chars]", maxChars)
	cut := maxChars - len(suffix)
	if cut < 0 {
		cut = 0
	}
	if cut > len(encoded) {
		cut = len(encoded)
	}
	var sb strings.Builder
	sb.WriteString(encoded[:cut])
	sb.WriteString(suffix)
	return sb.String(), nil
}
