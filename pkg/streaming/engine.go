// Package streaming implements the streaming engine (C8): translating an
// upstream OpenAI-dialect SSE stream into Anthropic-dialect SSE events,
// chunk by chunk, without ever buffering across requests or reordering.
package streaming

import (
	"context"
	"errors"
	"io"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/convert"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
)

type state int

const (
	stateAwaitingFirst state = iota
	stateStreamingContent
	stateStreamingToolCall
	stateClosing
	stateClosed
)

// blockKind discriminates which Anthropic content block a given index is.
type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

type openBlock struct {
	kind blockKind
	// toolCallIndex is the upstream tool_calls[].index this block tracks;
	// meaningless for blockText.
	toolCallIndex int
	args          toolArgAccumulator
}

// Engine holds one request's streaming state. It is not safe for concurrent
// use; one Engine per in-flight request.
type Engine struct {
	messageID string
	model     string
	state     state

	blocks       []openBlock
	toolIndexMap map[int]int // upstream tool_calls[].index -> blocks slice index

	inputTokens  int
	outputTokens int
	stopReason   anthropicapi.StopReason

	log logging.Logger
}

// New builds an Engine for one streaming request.
func New(messageID, model string, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NoopLogger{}
	}
	return &Engine{
		messageID:    messageID,
		model:        model,
		state:        stateAwaitingFirst,
		toolIndexMap: make(map[int]int),
		log:          log,
		stopReason:   anthropicapi.StopEndTurn,
	}
}

// Start emits the events that open the message, before any upstream chunk
// has been seen.
func (e *Engine) Start() []Event {
	e.state = stateStreamingContent
	return []Event{
		{Type: "message_start", Payload: map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            e.messageID,
				"type":          "message",
				"role":          "assistant",
				"model":         e.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}},
		{Type: "ping", Payload: map[string]any{"type": "ping"}},
	}
}

// Process consumes one upstream chunk and returns the Anthropic events it
// produces. It never reorders and never buffers chunks across calls beyond
// what a single chunk's deltas require.
func (e *Engine) Process(chunk upstream.Chunk) []Event {
	if e.state == stateClosed {
		return nil
	}
	if chunk.Usage != nil {
		e.inputTokens = chunk.Usage.PromptTokens
		e.outputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []Event
	if choice.Delta.Content != "" {
		events = append(events, e.emitTextDelta(choice.Delta.Content)...)
	}
	for _, td := range choice.Delta.ToolCalls {
		events = append(events, e.emitToolCallDelta(td)...)
	}
	if choice.FinishReason != nil {
		events = append(events, e.finishReason(*choice.FinishReason)...)
	}
	return events
}

func (e *Engine) emitTextDelta(text string) []Event {
	idx := e.currentTextBlockIndex()
	var events []Event
	if idx < 0 {
		idx = len(e.blocks)
		e.blocks = append(e.blocks, openBlock{kind: blockText})
		events = append(events, Event{Type: "content_block_start", Payload: map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{"type": "text", "text": ""},
		}})
	}
	events = append(events, Event{Type: "content_block_delta", Payload: map[string]any{
		"type": "content_block_delta", "index": idx,
		"delta": map[string]any{"type": "text_delta", "text": text},
	}})
	return events
}

func (e *Engine) currentTextBlockIndex() int {
	for i := len(e.blocks) - 1; i >= 0; i-- {
		if e.blocks[i].kind == blockText {
			return i
		}
	}
	return -1
}

// emitToolCallDelta implements the fix described in SPEC_FULL §4.8, §9: the
// block-start event for a tool-use block is always emitted before its first
// input_json_delta, even when the upstream's first fragment for that index
// carries both the identifying fields (id, name) and an arguments fragment
// in the same delta.
func (e *Engine) emitToolCallDelta(td upstream.ToolCallDelta) []Event {
	var events []Event
	idx, known := e.toolIndexMap[td.Index]
	if !known {
		idx = len(e.blocks)
		e.toolIndexMap[td.Index] = idx
		e.blocks = append(e.blocks, openBlock{kind: blockToolUse, toolCallIndex: td.Index})
		events = append(events, Event{Type: "content_block_start", Payload: map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{"type": "tool_use", "id": td.ID, "name": td.Function.Name, "input": map[string]any{}},
		}})
	}
	if td.Function.Arguments != "" {
		e.blocks[idx].args.append(td.Function.Arguments)
		events = append(events, Event{Type: "content_block_delta", Payload: map[string]any{
			"type": "content_block_delta", "index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": td.Function.Arguments},
		}})
	}
	return events
}

func (e *Engine) finishReason(reason string) []Event {
	var events []Event
	for i, b := range e.blocks {
		if b.kind == blockToolUse && !b.args.valid() && b.args.text() != "" {
			e.log.Warn(context.Background(), "tool call arguments did not form valid JSON by block close", logging.F("block_index", i))
		}
		events = append(events, Event{Type: "content_block_stop", Payload: map[string]any{"type": "content_block_stop", "index": i}})
	}
	e.stopReason = convert.MapFinishReason(reason)
	events = append(events, e.Finish()...)
	return events
}

// Finish emits the message-closing events. Safe to call at most once; a
// second call is a no-op since the engine is already closed.
func (e *Engine) Finish() []Event {
	if e.state == stateClosed {
		return nil
	}
	e.state = stateClosed
	return []Event{
		{Type: "message_delta", Payload: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": e.stopReason, "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": e.outputTokens},
		}},
		{Type: "message_stop", Payload: map[string]any{"type": "message_stop"}},
	}
}

// Error builds the terminal error event emitted when the upstream
// connection drops mid-stream; any partial output already written to the
// caller is left as-is.
func Error(message string) Event {
	return Event{Type: "error", Payload: map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(anthropicapi.ErrTypeAPIError),
			"message": message,
		},
	}}
}

// Run drives an Engine end-to-end over an upstream SSE body, writing every
// produced Anthropic event to out. It stops early, writing a final error
// event, if ctx is cancelled (the caller disconnected) or the upstream
// stream errors before a finish_reason was observed.
func Run(ctx context.Context, body io.ReadCloser, out Sink, engine *Engine) error {
	defer body.Close()
	for _, ev := range engine.Start() {
		if err := out.Write(ev); err != nil {
			return err
		}
	}

	parser := NewUpstreamParser(body)
	for {
		select {
		case <-ctx.Done():
			_ = out.Write(Error("client disconnected"))
			return ctx.Err()
		default:
		}

		raw, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			_ = out.Write(Error(err.Error()))
			return err
		}
		if IsStreamDone(raw) {
			return nil
		}
		chunk, err := upstream.ParseChunk([]byte(raw.Data))
		if err != nil {
			continue
		}
		for _, ev := range engine.Process(chunk) {
			if err := out.Write(ev); err != nil {
				return err
			}
		}
	}
}
