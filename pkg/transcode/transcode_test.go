package transcode

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUpstreamMessages_PlainText(t *testing.T) {
	msg := anthropicapi.Message{Role: anthropicapi.RoleUser, Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockText, Text: "Hello"}}}
	out := ToUpstreamMessages(msg)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello", out[0].Content)
}

func TestToUpstreamMessages_ToolUseSplit(t *testing.T) {
	msg := anthropicapi.Message{
		Role: anthropicapi.RoleAssistant,
		Content: []anthropicapi.ContentBlock{
			{Type: anthropicapi.BlockToolUse, ToolUseID: "t1", ToolName: "get_weather", ToolInput: map[string]any{"city": "SF"}},
		},
	}
	out := ToUpstreamMessages(msg)
	require.Len(t, out, 1)
	require.Len(t, out[0].ToolCalls, 1)
	assert.Equal(t, "t1", out[0].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", out[0].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"SF"}`, out[0].ToolCalls[0].Function.Arguments)
}

func TestToUpstreamMessages_ToolResultSplit(t *testing.T) {
	msg := anthropicapi.Message{
		Role: anthropicapi.RoleUser,
		Content: []anthropicapi.ContentBlock{
			{Type: anthropicapi.BlockToolResult, ToolResultID: "t1", ResultText: "sunny"},
		},
	}
	out := ToUpstreamMessages(msg)
	require.Len(t, out, 1)
	assert.Equal(t, upstream.RoleTool, out[0].Role)
	assert.Equal(t, "t1", out[0].ToolCallID)
	assert.Equal(t, "sunny", out[0].Content)
}

func TestDegradeEmptyImages(t *testing.T) {
	blocks := []anthropicapi.ContentBlock{{Type: anthropicapi.BlockImage, MediaType: "image/png", Data: ""}}
	out := DegradeEmptyImages(blocks)
	require.Len(t, out, 1)
	assert.Equal(t, anthropicapi.BlockText, out[0].Type)
	assert.Equal(t, "[Empty image content]", out[0].Text)
}

func TestDataURLRoundTrip(t *testing.T) {
	orig := anthropicapi.ContentBlock{Type: anthropicapi.BlockImage, MediaType: "image/png", Data: "aGVsbG8="}
	url := "data:image/png;base64,aGVsbG8="
	back := DataURLToImageBlock(url)
	assert.Equal(t, orig.MediaType, back.MediaType)
	assert.Equal(t, orig.Data, back.Data)
}

func TestDataURLMalformed_Degrades(t *testing.T) {
	back := DataURLToImageBlock("not-a-data-url")
	assert.Equal(t, anthropicapi.BlockText, back.Type)
}

func TestFromUpstreamAssistant_MalformedArgumentsDegradeToEmptyObject(t *testing.T) {
	call := upstream.ToolCall{ID: "t1"}
	call.Function.Name = "f"
	call.Function.Arguments = "{not json at all"
	msg := upstream.Message{ToolCalls: []upstream.ToolCall{call}}
	blocks := FromUpstreamAssistant(msg)
	require.Len(t, blocks, 1)
	assert.Equal(t, anthropicapi.BlockToolUse, blocks[0].Type)
	assert.Empty(t, blocks[0].ToolInput)
}
