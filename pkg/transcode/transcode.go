// Package transcode implements the content transcoder (C2): pure, stateless
// conversion of ContentBlock sequences between the Anthropic dialect and the
// upstream OpenAI-compatible dialect.
package transcode

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/internal/jsonutil"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
)

// ToUpstreamMessages converts one Anthropic message into one or more
// upstream messages, per SPEC_FULL §4.4 step 3: a message carrying
// tool_result blocks is split into a leading text message (if any non-tool
// content precedes it) followed by one role=tool message per tool_result,
// in original order; a message carrying tool_use blocks becomes a single
// assistant message with a tool_calls array.
func ToUpstreamMessages(msg anthropicapi.Message) []upstream.Message {
	if msg.HasToolResult() {
		return splitToolResultMessage(msg)
	}
	if msg.HasToolUse() {
		return []upstream.Message{toolUseAssistantMessage(msg)}
	}
	return []upstream.Message{plainMessage(msg)}
}

func splitToolResultMessage(msg anthropicapi.Message) []upstream.Message {
	var out []upstream.Message
	var preamble []anthropicapi.ContentBlock
	for _, b := range msg.Content {
		if b.Type == anthropicapi.BlockToolResult {
			if len(preamble) > 0 {
				out = append(out, upstream.Message{Role: upstream.RoleUser, Content: contentToUpstream(preamble)})
				preamble = nil
			}
			out = append(out, upstream.Message{
				Role:       upstream.RoleTool,
				ToolCallID: b.ToolResultID,
				Content:    flattenToolResultContent(b),
			})
			continue
		}
		preamble = append(preamble, b)
	}
	if len(preamble) > 0 {
		out = append(out, upstream.Message{Role: upstream.RoleUser, Content: contentToUpstream(preamble)})
	}
	return out
}

func flattenToolResultContent(b anthropicapi.ContentBlock) string {
	if b.ResultIsBlockSeq {
		return anthropicapi.FlattenText(b.ResultBlocks)
	}
	return b.ResultText
}

func toolUseAssistantMessage(msg anthropicapi.Message) upstream.Message {
	var textParts []anthropicapi.ContentBlock
	var calls []upstream.ToolCall
	for _, b := range msg.Content {
		switch b.Type {
		case anthropicapi.BlockToolUse:
			args, err := json.Marshal(b.ToolInput)
			if err != nil {
				args = []byte("{}")
			}
			call := upstream.ToolCall{ID: b.ToolUseID, Type: "function"}
			call.Function.Name = b.ToolName
			call.Function.Arguments = string(args)
			calls = append(calls, call)
		default:
			textParts = append(textParts, b)
		}
	}
	um := upstream.Message{Role: upstream.RoleAssistant, ToolCalls: calls}
	if len(textParts) > 0 {
		um.Content = contentToUpstream(textParts)
	}
	return um
}

func plainMessage(msg anthropicapi.Message) upstream.Message {
	role := upstream.RoleUser
	if msg.Role == anthropicapi.RoleAssistant {
		role = upstream.RoleAssistant
	}
	return upstream.Message{Role: role, Content: contentToUpstream(msg.Content)}
}

// contentToUpstream implements the multi-modality collapse rule: a single
// text block collapses to a bare string, several text blocks are flattened
// into one string, and content with any non-text block becomes a multi-part
// array.
func contentToUpstream(blocks []anthropicapi.ContentBlock) any {
	if len(blocks) == 1 && blocks[0].Type == anthropicapi.BlockText {
		return blocks[0].Text
	}
	hasImage := false
	for _, b := range blocks {
		if b.Type == anthropicapi.BlockImage {
			hasImage = true
			break
		}
	}
	if !hasImage && allText(blocks) {
		return anthropicapi.FlattenText(blocks)
	}

	parts := make([]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case anthropicapi.BlockText:
			parts = append(parts, upstream.TextPart{Type: "text", Text: b.Text})
		case anthropicapi.BlockImage:
			parts = append(parts, imagePart(b))
		default:
			// tool_use/tool_result do not belong in plain content arrays; they
			// are handled by the message-layer splits above. An opaque block
			// degrades to its raw JSON as text so it is never silently lost.
			if b.Type == anthropicapi.BlockOpaque {
				parts = append(parts, upstream.TextPart{Type: "text", Text: string(b.Raw)})
			}
		}
	}
	return parts
}

func allText(blocks []anthropicapi.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type != anthropicapi.BlockText {
			return false
		}
	}
	return true
}

func imagePart(b anthropicapi.ContentBlock) upstream.ImageURLPart {
	var p upstream.ImageURLPart
	p.Type = "image_url"
	if b.Data == "" {
		// The degradation marker is not emitted here: the request converter
		// runs DegradeEmptyImages before ToUpstreamMessages, replacing empty
		// images with a text block. Callers that skip that step and reach this
		// path with empty data get an empty data URL, which upstream rejects.
		p.ImageURL.URL = ""
		return p
	}
	p.ImageURL.URL = fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data)
	return p
}

// DegradeEmptyImages replaces any image block with empty Data with a text
// degradation marker, per SPEC_FULL §4.2. Call this before ToUpstreamMessages
// so empty images never reach contentToUpstream.
func DegradeEmptyImages(blocks []anthropicapi.ContentBlock) []anthropicapi.ContentBlock {
	out := make([]anthropicapi.ContentBlock, len(blocks))
	for i, b := range blocks {
		if b.Type == anthropicapi.BlockImage && b.Data == "" {
			out[i] = anthropicapi.ContentBlock{Type: anthropicapi.BlockText, Text: "[Empty image content]"}
			continue
		}
		out[i] = b
	}
	return out
}

// FromUpstreamAssistant converts an upstream assistant message (content text
// plus tool_calls) into Anthropic content blocks, per SPEC_FULL §4.5 step 2.
func FromUpstreamAssistant(msg upstream.Message) []anthropicapi.ContentBlock {
	var out []anthropicapi.ContentBlock
	if text, ok := msg.Content.(string); ok && text != "" {
		out = append(out, anthropicapi.ContentBlock{Type: anthropicapi.BlockText, Text: text})
	}
	for _, call := range msg.ToolCalls {
		input := parseToolArguments(call.Function.Arguments)
		out = append(out, anthropicapi.ContentBlock{
			Type:      anthropicapi.BlockToolUse,
			ToolUseID: call.ID,
			ToolName:  call.Function.Name,
			ToolInput: input,
		})
	}
	return out
}

// parseToolArguments JSON-decodes a tool call's arguments string, attempting
// a best-effort repair pass before degrading to an empty object. Never
// fails the caller.
func parseToolArguments(raw string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}
	if repaired, err := jsonutil.FixJSON(raw); err == nil {
		if err := json.Unmarshal([]byte(repaired), &out); err == nil {
			return out
		}
	}
	return map[string]any{}
}

// DataURLToImageBlock parses an upstream image_url data URL back into an
// Anthropic image block. A malformed URL degrades to a diagnostic text
// block rather than raising.
func DataURLToImageBlock(dataURL string) anthropicapi.ContentBlock {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return diagnosticBlock("image data URL missing data: scheme")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return diagnosticBlock("image data URL missing comma separator")
	}
	meta, encoded := rest[:comma], rest[comma+1:]
	mediaType := strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return diagnosticBlock("image data URL payload is not valid base64")
	}
	return anthropicapi.ContentBlock{
		Type:      anthropicapi.BlockImage,
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(decoded),
	}
}

func diagnosticBlock(msg string) anthropicapi.ContentBlock {
	return anthropicapi.ContentBlock{Type: anthropicapi.BlockText, Text: "[" + msg + "]"}
}
