// Package toolschema implements the tool-schema sanitizer (C3): defensive
// pruning of caller-supplied JSON Schema fragments for upstream
// compatibility, and an aggressive capping variant for fragile backends.
package toolschema

import (
	"strings"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
)

var keepStringFormats = map[string]bool{
	"enum":      true,
	"date-time": true,
}

// Sanitize returns a deep-copied, pruned version of schema. The input is
// never mutated.
func Sanitize(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return sanitizeValue(schema).(map[string]any)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			if k == "additionalProperties" || k == "default" || k == "$schema" {
				continue
			}
			out[k] = sanitizeValue(sub)
		}
		if t, ok := out["type"]; ok && t == "string" {
			if fmt, ok := out["format"].(string); ok && !keepStringFormats[fmt] {
				delete(out, "format")
			}
		}
		if props, ok := out["properties"].(map[string]any); ok {
			out["properties"] = sanitizeValue(props)
		}
		if items, ok := out["items"]; ok {
			out["items"] = sanitizeValue(items)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = sanitizeValue(sub)
		}
		return out
	default:
		return v
	}
}

// NormalizeDescription trims whitespace, terminates the description with a
// period if missing, and truncates at ~200 characters on a word boundary.
func NormalizeDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return desc
	}
	const limit = 200
	if len(desc) > limit {
		cut := strings.LastIndexByte(desc[:limit], ' ')
		if cut <= 0 {
			cut = limit
		}
		desc = strings.TrimSpace(desc[:cut])
	}
	if !strings.HasSuffix(desc, ".") && !strings.HasSuffix(desc, "!") && !strings.HasSuffix(desc, "?") {
		desc += "."
	}
	return desc
}

// DefaultToolCap is the default maximum number of tools forwarded upstream
// by the aggressive variant.
const DefaultToolCap = 5

// wellKnownTools is the allow-list of tools the aggressive variant
// substitutes a pre-baked minimal schema for, keyed by a case-insensitive
// match against the tool's declared name.
var wellKnownTools = map[string]map[string]any{
	"read_file": {
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	},
	"write_file": {
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required": []any{"path", "content"},
	},
	"execute_command": {
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string"}},
		"required":   []any{"command"},
	},
	"fetch_url": {
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
		"required":   []any{"url"},
	},
	"list_directory": {
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	},
	"edit_file": {
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string"},
			"old_string": map[string]any{"type": "string"},
			"new_string": map[string]any{"type": "string"},
		},
		"required": []any{"path", "old_string", "new_string"},
	},
}

// SanitizeAggressive applies Sanitize to every tool, normalizes
// descriptions, substitutes a pre-baked schema for well-known tool names,
// and caps the tool count at cap (DefaultToolCap if cap <= 0). The first cap
// tools in declaration order are kept; later ones are dropped.
func SanitizeAggressive(tools []anthropicapi.Tool, cap int) []anthropicapi.Tool {
	if cap <= 0 {
		cap = DefaultToolCap
	}
	if len(tools) > cap {
		tools = tools[:cap]
	}
	out := make([]anthropicapi.Tool, len(tools))
	for i, t := range tools {
		nt := anthropicapi.Tool{
			Name:        t.Name,
			Description: NormalizeDescription(t.Description),
		}
		if preset, ok := wellKnownTools[strings.ToLower(t.Name)]; ok {
			nt.InputSchema = preset
		} else {
			nt.InputSchema = Sanitize(t.InputSchema)
		}
		out[i] = nt
	}
	return out
}
