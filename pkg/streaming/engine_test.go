package streaming

import (
	"testing"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(events []Event) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestEngine_TextDelta_StartsBlockOnce(t *testing.T) {
	e := New("msg_1", "sonnet", logging.NoopLogger{})
	e.Start()

	first := e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{Content: "hel"}}}})
	second := e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{Content: "lo"}}}})

	assert.Equal(t, []string{"content_block_start", "content_block_delta"}, eventTypes(first))
	assert.Equal(t, []string{"content_block_delta"}, eventTypes(second))
}

func TestEngine_ToolCall_BlockStartPrecedesFirstArgumentDelta(t *testing.T) {
	e := New("msg_1", "sonnet", logging.NoopLogger{})
	e.Start()

	// Upstream interleaves id/name and an arguments fragment in the same delta.
	td := upstream.ToolCallDelta{Index: 0, ID: "call_1", Type: "function"}
	td.Function.Name = "read_file"
	td.Function.Arguments = `{"pat`
	events := e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{ToolCalls: []upstream.ToolCallDelta{td}}}}})

	require.Len(t, events, 2)
	assert.Equal(t, "content_block_start", events[0].Type)
	assert.Equal(t, "content_block_delta", events[1].Type)
	payload := events[0].Payload.(map[string]any)
	block := payload["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "read_file", block["name"])
}

func TestEngine_ToolCall_SubsequentFragmentsDoNotReopenBlock(t *testing.T) {
	e := New("msg_1", "sonnet", logging.NoopLogger{})
	e.Start()

	first := upstream.ToolCallDelta{Index: 0, ID: "call_1"}
	first.Function.Name = "read_file"
	first.Function.Arguments = `{"path":`
	e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{ToolCalls: []upstream.ToolCallDelta{first}}}}})

	second := upstream.ToolCallDelta{Index: 0}
	second.Function.Arguments = `"a.txt"}`
	events := e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{ToolCalls: []upstream.ToolCallDelta{second}}}}})

	require.Len(t, events, 1)
	assert.Equal(t, "content_block_delta", events[0].Type)
}

func TestEngine_FinishReason_ClosesBlocksAndEmitsMessageStop(t *testing.T) {
	e := New("msg_1", "sonnet", logging.NoopLogger{})
	e.Start()
	e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{Delta: upstream.Delta{Content: "hi"}}}})

	stop := "stop"
	events := e.Process(upstream.Chunk{Choices: []upstream.ChunkChoice{{FinishReason: &stop}}})

	types := eventTypes(events)
	assert.Contains(t, types, "content_block_stop")
	assert.Contains(t, types, "message_delta")
	assert.Contains(t, types, "message_stop")
	assert.Equal(t, anthropicapi.StopEndTurn, e.stopReason)
}

func TestEngine_Finish_IsIdempotent(t *testing.T) {
	e := New("msg_1", "sonnet", logging.NoopLogger{})
	e.Start()
	first := e.Finish()
	second := e.Finish()
	assert.NotEmpty(t, first)
	assert.Empty(t, second)
}
