package convert

import (
	"errors"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/transcode"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
)

// ErrInvalidUpstream is returned when an upstream response carries no
// choices at all, per SPEC_FULL §4.5 step 1. Callers surface this as a
// dispatch failure rather than a well-formed-looking response.
var ErrInvalidUpstream = errors.New("invalid_upstream: upstream response has no choices")

// MapFinishReason maps an upstream finish_reason string to the Anthropic
// stop_reason vocabulary, per SPEC_FULL §4.5 step 3. Handles both the
// current ("tool_calls") and legacy ("function_call") spellings a backend
// may emit.
func MapFinishReason(reason string) anthropicapi.StopReason {
	switch reason {
	case "stop":
		return anthropicapi.StopEndTurn
	case "length":
		return anthropicapi.StopMaxTokens
	case "tool_calls", "function_call":
		return anthropicapi.StopToolUse
	case "content_filter":
		return anthropicapi.StopError
	default:
		return anthropicapi.StopEndTurn
	}
}

// ToMessagesResponse builds a non-streaming Anthropic response from an
// upstream response's first choice, per SPEC_FULL §4.5. model is the
// caller-facing model string echoed back, not the backend-canonical one.
// Returns ErrInvalidUpstream if the upstream response carries no choices.
func ToMessagesResponse(resp upstream.Response, model string) (anthropicapi.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return anthropicapi.MessagesResponse{}, ErrInvalidUpstream
	}
	out := anthropicapi.MessagesResponse{
		ID:    NewMessageID(),
		Type:  "message",
		Role:  anthropicapi.RoleAssistant,
		Model: model,
		Usage: anthropicapi.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	choice := resp.Choices[0]
	out.Content = transcode.FromUpstreamAssistant(choice.Message)
	out.StopReason = MapFinishReason(choice.FinishReason)
	return out, nil
}
