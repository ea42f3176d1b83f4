package convert

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(role anthropicapi.Role, text string) anthropicapi.Message {
	return anthropicapi.Message{Role: role, Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockText, Text: text}}}
}

func TestToUpstreamRequest_BasicTextConversation(t *testing.T) {
	req := anthropicapi.MessagesRequest{
		Model:     "sonnet",
		MaxTokens: 512,
		System:    &anthropicapi.System{Text: "be terse"},
		Messages:  []anthropicapi.Message{textMessage(anthropicapi.RoleUser, "hello")},
	}
	mapper := mapping.New("", "")

	out, steps := ToUpstreamRequest(req, mapping.BackendOpenRouter, mapper, false, 0, ExtensionFields{})

	require.Equal(t, "openrouter/anthropic/claude-sonnet-4", out.Model)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, upstream.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "be terse", out.Messages[0].Content)
	assert.Equal(t, "hello", out.Messages[1].Content)
	assert.NotEmpty(t, steps)
}

func TestToUpstreamRequest_AzureNeverPrefixesModel(t *testing.T) {
	req := anthropicapi.MessagesRequest{
		Model:     "haiku",
		MaxTokens: 256,
		Messages:  []anthropicapi.Message{textMessage(anthropicapi.RoleUser, "hi")},
	}
	mapper := mapping.New("", "")

	out, _ := ToUpstreamRequest(req, mapping.BackendAzureDatabricks, mapper, false, 0, ExtensionFields{})

	assert.Equal(t, "claude-haiku-4", out.Model)
}

func TestToUpstreamRequest_ToolsSanitizedAndCapped(t *testing.T) {
	req := anthropicapi.MessagesRequest{
		Model:     "big",
		MaxTokens: 256,
		Messages:  []anthropicapi.Message{textMessage(anthropicapi.RoleUser, "hi")},
		Tools: []anthropicapi.Tool{
			{Name: "read_file", Description: "reads", InputSchema: map[string]any{"type": "object", "additionalProperties": false}},
			{Name: "custom_tool", Description: "does a thing", InputSchema: map[string]any{"type": "object", "default": 1}},
		},
	}
	mapper := mapping.New("anthropic/claude-x", "")

	out, _ := ToUpstreamRequest(req, mapping.BackendOpenRouter, mapper, true, 1, ExtensionFields{})

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "read_file", out.Tools[0].Function.Name)
	_, hasAdditional := out.Tools[0].Function.Parameters["additionalProperties"]
	assert.False(t, hasAdditional)
}

func TestToUpstreamRequest_ExtensionFieldsAttachedWhenValid(t *testing.T) {
	req := anthropicapi.MessagesRequest{
		Model:     "sonnet",
		MaxTokens: 100,
		Messages:  []anthropicapi.Message{textMessage(anthropicapi.RoleUser, "hi")},
	}
	mapper := mapping.New("", "")
	freq := 5.0 // out of range, should be dropped
	out, steps := ToUpstreamRequest(req, mapping.BackendOpenRouter, mapper, false, 0, ExtensionFields{
		FallbackModels:   []string{"openrouter/anthropic/claude-sonnet-4"},
		FrequencyPenalty: &freq,
	})

	assert.Equal(t, []string{"openrouter/anthropic/claude-sonnet-4"}, out.Models)
	assert.Nil(t, out.FrequencyPenalty)
	assert.Contains(t, steps, "fallback model list attached")
}

func TestNewMessageID_HasExpectedShape(t *testing.T) {
	id := NewMessageID()
	assert.Regexp(t, `^msg_[0-9a-f]{24}$`, id)
}
