package flowvalidate

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/stretchr/testify/assert"
)

func textMsg(role anthropicapi.Role, text string) anthropicapi.Message {
	return anthropicapi.Message{Role: role, Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockText, Text: text}}}
}

func TestValidate_OrphanedToolUse(t *testing.T) {
	messages := []anthropicapi.Message{
		textMsg(anthropicapi.RoleUser, "what's the weather"),
		{
			Role: anthropicapi.RoleAssistant,
			Content: []anthropicapi.ContentBlock{
				{Type: anthropicapi.BlockToolUse, ToolUseID: "t1", ToolName: "get_weather", ToolInput: map[string]any{}},
			},
		},
		textMsg(anthropicapi.RoleUser, "actually never mind"),
	}

	res := Validate(messages)
	assert.False(t, res.Valid())
	assert.Equal(t, []string{"t1"}, res.OrphanedToolIDs)
}

func TestValidate_DanglingToolResult(t *testing.T) {
	messages := []anthropicapi.Message{
		textMsg(anthropicapi.RoleUser, "go"),
		{
			Role:    anthropicapi.RoleUser,
			Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockToolResult, ToolResultID: "missing", ResultText: "x"}},
		},
	}

	res := Validate(messages)
	assert.False(t, res.Valid())
	assert.Equal(t, []string{"missing"}, res.MissingToolUseIDs)
}

func TestValidate_PendingToolUseOnLastAssistantMessageIsValid(t *testing.T) {
	messages := []anthropicapi.Message{
		textMsg(anthropicapi.RoleUser, "what's the weather"),
		{
			Role: anthropicapi.RoleAssistant,
			Content: []anthropicapi.ContentBlock{
				{Type: anthropicapi.BlockToolUse, ToolUseID: "t1", ToolName: "get_weather", ToolInput: map[string]any{}},
			},
		},
	}

	res := Validate(messages)
	assert.True(t, res.Valid())
	assert.Empty(t, res.OrphanedToolIDs)
}

func TestValidate_ToolResultRoundTripIsValid(t *testing.T) {
	messages := []anthropicapi.Message{
		textMsg(anthropicapi.RoleUser, "what's the weather"),
		{
			Role: anthropicapi.RoleAssistant,
			Content: []anthropicapi.ContentBlock{
				{Type: anthropicapi.BlockToolUse, ToolUseID: "t1", ToolName: "get_weather", ToolInput: map[string]any{"city": "SF"}},
			},
		},
		{
			Role:    anthropicapi.RoleUser,
			Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockToolResult, ToolResultID: "t1", ResultText: "sunny"}},
		},
	}

	res := Validate(messages)
	assert.True(t, res.Valid())
}

func TestValidate_EmptySequence(t *testing.T) {
	res := Validate(nil)
	assert.False(t, res.Valid())
}

func TestValidate_FirstMessageMustBeUser(t *testing.T) {
	res := Validate([]anthropicapi.Message{textMsg(anthropicapi.RoleAssistant, "hi")})
	assert.False(t, res.Valid())
}
