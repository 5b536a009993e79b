package toolsurface

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxContentItems   = 40
	maxTextChars      = 4000
	maxPreviewChars   = 96
	maxGenericItems   = 40
	maxObjectKeys     = 60
	maxNormalizeDepth = 7
)

// normalizeExecuteOutput implements spec.md §6's "execute output
// normalization": if the tool result carries a `content` array it is
// rewritten type-by-type preserving the upstream envelope shape;
// anything else goes through the generic normalizer.
func normalizeExecuteOutput(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return normalizeGeneric(v, maxNormalizeDepth)
	}
	rawContent, ok := m["content"].([]any)
	if !ok {
		return normalizeGeneric(v, maxNormalizeDepth)
	}

	out := make(map[string]any, len(m))
	for k, val := range m {
		if k == "content" {
			continue
		}
		out[k] = normalizeGeneric(val, maxNormalizeDepth)
	}

	originalLen := len(rawContent)
	truncated := originalLen > maxContentItems
	items := rawContent
	if truncated {
		items = rawContent[:maxContentItems]
	}
	content := make([]any, 0, len(items))
	for _, item := range items {
		content = append(content, normalizeContentItem(item))
	}
	out["content"] = content
	if truncated {
		out["contentTruncated"] = true
		out["contentOriginalLength"] = originalLen
	}
	return out
}

func normalizeContentItem(item any) any {
	m, ok := item.(map[string]any)
	if !ok {
		return normalizeGeneric(item, maxNormalizeDepth)
	}
	kind, _ := m["type"].(string)
	switch kind {
	case "text":
		text, _ := m["text"].(string)
		return map[string]any{"type": "text", "text": truncateString(text, maxTextChars)}
	case "image", "audio":
		data, _ := m["data"].(string)
		mimeType, _ := m["mimeType"].(string)
		preview, truncated := truncateWithFlag(data, maxPreviewChars)
		return map[string]any{
			"type":           kind,
			"mimeType":       mimeType,
			"dataPreview":    preview,
			"estimatedBytes": base64Size(data),
			"dataTruncated":  truncated,
		}
	case "resource":
		return map[string]any{"type": "resource", "resource": normalizeResource(m["resource"])}
	case "resource_link":
		description, _ := m["description"].(string)
		out := map[string]any{
			"type":        "resource_link",
			"uri":         m["uri"],
			"name":        m["name"],
			"mimeType":    m["mimeType"],
			"description": truncateString(description, maxTextChars),
		}
		return out
	default:
		return normalizeGeneric(item, maxNormalizeDepth)
	}
}

func normalizeResource(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return normalizeGeneric(v, maxNormalizeDepth)
	}
	out := map[string]any{
		"uri":      m["uri"],
		"mimeType": m["mimeType"],
	}
	if text, ok := m["text"].(string); ok {
		preview, truncated := truncateWithFlag(text, maxTextChars)
		out["textPreview"] = preview
		out["textLength"] = len(text)
		out["textTruncated"] = truncated
	}
	if blob, ok := m["blob"].(string); ok {
		preview, truncated := truncateWithFlag(blob, maxPreviewChars)
		out["blobPreview"] = preview
		out["estimatedBytes"] = base64Size(blob)
		out["blobTruncated"] = truncated
	}
	return out
}

// normalizeGeneric bounds an arbitrary JSON-shaped value: strings are
// truncated, arrays and object key counts are capped, and nesting is
// capped at maxNormalizeDepth.
func normalizeGeneric(v any, depth int) any {
	if depth <= 0 {
		return "[max_depth_reached]"
	}
	switch t := v.(type) {
	case string:
		return truncateString(t, maxTextChars)
	case []any:
		n := len(t)
		limit := n
		if limit > maxGenericItems {
			limit = maxGenericItems
		}
		out := make([]any, 0, limit+1)
		for _, item := range t[:limit] {
			out = append(out, normalizeGeneric(item, depth-1))
		}
		if n > maxGenericItems {
			out = append(out, fmt.Sprintf("[%d items truncated]", n-maxGenericItems))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		limit := len(keys)
		truncatedKeys := 0
		if limit > maxObjectKeys {
			truncatedKeys = limit - maxObjectKeys
			limit = maxObjectKeys
		}
		out := make(map[string]any, limit+1)
		for _, k := range keys[:limit] {
			out[k] = normalizeGeneric(t[k], depth-1)
		}
		if truncatedKeys > 0 {
			out["__truncatedKeys"] = truncatedKeys
		}
		return out
	default:
		return v
	}
}

func truncateString(s string, max int) string {
	out, _ := truncateWithFlag(s, max)
	return out
}

func truncateWithFlag(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:max] + fmt.Sprintf("[truncated:%d]", len(s)), true
}

// base64Size estimates the decoded byte length of a base64 string without
// decoding it: floor(len*3/4) minus padding (2, 1, or 0 for trailing
// "==", "=", or neither).
func base64Size(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	padding := 0
	if strings.HasSuffix(s, "==") {
		padding = 2
	} else if strings.HasSuffix(s, "=") {
		padding = 1
	}
	return n*3/4 - padding
}
