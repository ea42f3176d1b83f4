package convert

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessagesResponse_PlainText(t *testing.T) {
	resp := upstream.Response{
		Choices: []upstream.Choice{{
			Message:      upstream.Message{Role: upstream.RoleAssistant, Content: "hello there"},
			FinishReason: "stop",
		}},
		Usage: upstream.TokenUsage{PromptTokens: 10, CompletionTokens: 3},
	}

	out, err := ToMessagesResponse(resp, "sonnet")
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello there", out.Content[0].Text)
	assert.Equal(t, anthropicapi.StopEndTurn, out.StopReason)
	assert.Equal(t, 10, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
	assert.Regexp(t, `^msg_[0-9a-f]{24}$`, out.ID)
}

func TestToMessagesResponse_ToolCallsMapToToolUseStop(t *testing.T) {
	call := upstream.ToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "read_file"
	call.Function.Arguments = `{"path":"a.txt"}`
	resp := upstream.Response{
		Choices: []upstream.Choice{{
			Message:      upstream.Message{Role: upstream.RoleAssistant, ToolCalls: []upstream.ToolCall{call}},
			FinishReason: "tool_calls",
		}},
	}

	out, err := ToMessagesResponse(resp, "sonnet")
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropicapi.BlockToolUse, out.Content[0].Type)
	assert.Equal(t, "read_file", out.Content[0].ToolName)
	assert.Equal(t, anthropicapi.StopToolUse, out.StopReason)
}

func TestToMessagesResponse_NoChoicesFailsWithInvalidUpstream(t *testing.T) {
	_, err := ToMessagesResponse(upstream.Response{}, "sonnet")
	assert.ErrorIs(t, err, ErrInvalidUpstream)
}

func TestMapFinishReason_LegacyFunctionCall(t *testing.T) {
	assert.Equal(t, anthropicapi.StopToolUse, MapFinishReason("function_call"))
	assert.Equal(t, anthropicapi.StopMaxTokens, MapFinishReason("length"))
}
