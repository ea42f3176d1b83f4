// Package convert implements the request converter (C4) and response
// converter (C5): assembling an UpstreamRequest from a MessagesRequest, and
// an Anthropic MessagesResponse from an UpstreamResponse.
package convert

import (
	"fmt"
	"strings"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/toolschema"
	"github.com/daoch4n/claude-any-router-proxy/pkg/transcode"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/google/uuid"
)

// ExtensionFields carries the optional upstream-specific fields SPEC_FULL
// §4.4 step 7 allows attaching, already validated by the caller (the
// dispatcher's configuration layer). A zero value attaches nothing.
type ExtensionFields struct {
	FallbackModels   []string
	RoutingStrategy  string
	ProviderPrefs    map[string]any
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Seed             *int64
	UserTag          string
	LogitBias        map[string]int
}

// StepLog records, in order, which conversion steps ran — used for the
// per-request debug export mentioned in SPEC_FULL §4.4.
type StepLog []string

// ToUpstreamRequest builds an UpstreamRequest from req, performing every
// step of SPEC_FULL §4.4 in order. aggressiveSchema enables the tool-capping
// sanitizer variant (used for backends known to mishandle complex schemas);
// toolCap <= 0 uses the sanitizer's default cap.
func ToUpstreamRequest(req anthropicapi.MessagesRequest, backend mapping.Backend, mapper *mapping.Mapper, aggressiveSchema bool, toolCap int, ext ExtensionFields) (upstream.Request, StepLog) {
	var steps StepLog

	canonicalModel, kind := mapper.Resolve(req.Model, backend)
	steps = append(steps, fmt.Sprintf("model mapped: %s -> %s (%s)", req.Model, canonicalModel, kind))

	out := upstream.Request{Model: canonicalModel, Stream: req.Stream}

	if req.System != nil && req.System.Text != "" {
		out.Messages = append(out.Messages, upstream.Message{Role: upstream.RoleSystem, Content: req.System.Text})
		steps = append(steps, "system message prepended")
	}

	for _, msg := range req.Messages {
		content := transcode.DegradeEmptyImages(msg.Content)
		msg.Content = content
		out.Messages = append(out.Messages, transcode.ToUpstreamMessages(msg)...)
	}
	steps = append(steps, fmt.Sprintf("%d caller messages converted to %d upstream messages", len(req.Messages), len(out.Messages)))

	if len(req.Tools) > 0 {
		var tools []anthropicapi.Tool
		if aggressiveSchema {
			tools = toolschema.SanitizeAggressive(req.Tools, toolCap)
		} else {
			tools = make([]anthropicapi.Tool, len(req.Tools))
			for i, t := range req.Tools {
				tools[i] = anthropicapi.Tool{Name: t.Name, Description: toolschema.NormalizeDescription(t.Description), InputSchema: toolschema.Sanitize(t.InputSchema)}
			}
		}
		for _, t := range tools {
			ft := upstream.FunctionTool{Type: "function"}
			ft.Function.Name = t.Name
			ft.Function.Description = t.Description
			ft.Function.Parameters = t.InputSchema
			out.Tools = append(out.Tools, ft)
		}
		steps = append(steps, fmt.Sprintf("%d tools sanitized (aggressive=%v)", len(out.Tools), aggressiveSchema))
	}

	if req.ToolChoice != nil {
		out.ToolChoice = translateToolChoice(*req.ToolChoice)
		steps = append(steps, "tool_choice translated")
	}

	out.Temperature = req.Temperature
	out.TopP = req.TopP
	out.TopK = req.TopK
	out.MaxTokens = req.MaxTokens
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	steps = append(steps, "sampling parameters carried through")

	applyExtensions(&out, ext, &steps)

	return out, steps
}

func translateToolChoice(tc anthropicapi.ToolChoice) any {
	switch tc.Type {
	case anthropicapi.ToolChoiceAuto:
		return "auto"
	case anthropicapi.ToolChoiceAny:
		return "required"
	case anthropicapi.ToolChoiceTool:
		ft := map[string]any{"type": "function", "function": map[string]any{"name": tc.Name}}
		return ft
	default:
		return "auto"
	}
}

func applyExtensions(out *upstream.Request, ext ExtensionFields, steps *StepLog) {
	if len(ext.FallbackModels) > 0 {
		out.Models = ext.FallbackModels
		*steps = append(*steps, "fallback model list attached")
	}
	if ext.RoutingStrategy != "" {
		out.Route = ext.RoutingStrategy
		*steps = append(*steps, "routing strategy attached")
	}
	if len(ext.ProviderPrefs) > 0 {
		out.Provider = ext.ProviderPrefs
		*steps = append(*steps, "provider preferences attached")
	}
	if ext.FrequencyPenalty != nil && validPenalty(*ext.FrequencyPenalty) {
		out.FrequencyPenalty = ext.FrequencyPenalty
		*steps = append(*steps, "frequency_penalty attached")
	}
	if ext.PresencePenalty != nil && validPenalty(*ext.PresencePenalty) {
		out.PresencePenalty = ext.PresencePenalty
		*steps = append(*steps, "presence_penalty attached")
	}
	if ext.Seed != nil {
		out.Seed = ext.Seed
		*steps = append(*steps, "seed attached")
	}
	if ext.UserTag != "" {
		out.User = ext.UserTag
		*steps = append(*steps, "user tag attached")
	}
	if len(ext.LogitBias) > 0 {
		out.LogitBias = ext.LogitBias
		*steps = append(*steps, "logit_bias attached")
	}
}

// validPenalty enforces the bounded range OpenAI-compatible backends expect;
// an out-of-range value is dropped by the caller, never fatal (SPEC_FULL
// §4.4 step 7). No warning is logged or recorded in the step log for it.
func validPenalty(v float64) bool {
	return v >= -2.0 && v <= 2.0
}

// NewMessageID produces a synthetic Anthropic-style message id: "msg_"
// followed by 24 hex characters, per SPEC_FULL §4.5 step 5.
func NewMessageID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "msg_" + id[:24]
}
