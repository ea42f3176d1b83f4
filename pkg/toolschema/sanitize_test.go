package toolschema

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_RemovesDisallowedKeys(t *testing.T) {
	input := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"properties": map[string]any{
			"city": map[string]any{
				"type":    "string",
				"format":  "uri",
				"default": "SF",
			},
			"when": map[string]any{
				"type":   "string",
				"format": "date-time",
			},
		},
	}

	out := Sanitize(input)

	_, hasAdditional := out["additionalProperties"]
	assert.False(t, hasAdditional)
	_, hasSchema := out["$schema"]
	assert.False(t, hasSchema)

	props := out["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	_, hasFormat := city["format"]
	assert.False(t, hasFormat, "non-enum/date-time format should be stripped")
	_, hasDefault := city["default"]
	assert.False(t, hasDefault)

	when := props["when"].(map[string]any)
	assert.Equal(t, "date-time", when["format"])

	// input must be untouched
	_, stillHasAdditional := input["additionalProperties"]
	assert.True(t, stillHasAdditional)
}

func TestNormalizeDescription(t *testing.T) {
	assert.Equal(t, "Reads a file.", NormalizeDescription("  Reads a file  "))
	assert.Equal(t, "Already punctuated!", NormalizeDescription("Already punctuated!"))
	assert.Equal(t, "", NormalizeDescription(""))
}

func TestSanitizeAggressive_CapsAndSubstitutes(t *testing.T) {
	tools := make([]anthropicapi.Tool, 0, 7)
	for i := 0; i < 7; i++ {
		tools = append(tools, anthropicapi.Tool{Name: "custom_tool", InputSchema: map[string]any{"type": "object"}})
	}
	tools[0].Name = "read_file"

	out := SanitizeAggressive(tools, 5)
	require.Len(t, out, 5)
	assert.Equal(t, "object", out[0].InputSchema["type"])
	props := out[0].InputSchema["properties"].(map[string]any)
	_, hasPath := props["path"]
	assert.True(t, hasPath)
}
