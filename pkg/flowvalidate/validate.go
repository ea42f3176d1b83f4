// Package flowvalidate implements the conversation-flow validator (C6):
// role-sequence rules and tool-use/tool-result pairing, enforced over the
// full message sequence before conversion.
package flowvalidate

import "github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"

// Result is the structured outcome of validating a message sequence.
type Result struct {
	Errors             []string
	Warnings           []string
	OrphanedToolIDs    []string
	MissingToolUseIDs  []string
	Suggestions        []string
}

// Valid reports whether the sequence has no errors (warnings do not fail
// validation).
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

type toolUseRef struct {
	messageIndex int
	name         string
}

// Validate checks role sequencing and tool-use/tool-result pairing over the
// full message sequence, per SPEC_FULL §4.6.
func Validate(messages []anthropicapi.Message) Result {
	var res Result

	if len(messages) == 0 {
		res.Errors = append(res.Errors, "message sequence must not be empty")
		return res
	}
	if messages[0].Role != anthropicapi.RoleUser {
		res.Errors = append(res.Errors, "first message must have role \"user\"")
	}

	validateRoleSequence(messages, &res)
	validateToolFlow(messages, &res)

	return res
}

func validateRoleSequence(messages []anthropicapi.Message, res *Result) {
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		if prev.Role != cur.Role {
			continue
		}
		if cur.Role == anthropicapi.RoleUser {
			if !cur.HasToolResult() {
				res.Errors = append(res.Errors, "consecutive user messages are only valid when the later message contains a tool_result")
			}
			continue
		}
		// Consecutive assistant turns are tolerated, not recommended.
		res.Warnings = append(res.Warnings, "consecutive assistant messages are unusual but not invalid")
	}
}

func validateToolFlow(messages []anthropicapi.Message, res *Result) {
	toolUses := map[string]toolUseRef{}
	toolResults := map[string]int{}

	for i, msg := range messages {
		for _, b := range msg.Content {
			switch b.Type {
			case anthropicapi.BlockToolUse:
				toolUses[b.ToolUseID] = toolUseRef{messageIndex: i, name: b.ToolName}
			case anthropicapi.BlockToolResult:
				toolResults[b.ToolResultID] = i
			}
		}
	}

	lastAssistantIdx := -1
	for i, msg := range messages {
		if msg.Role == anthropicapi.RoleAssistant {
			lastAssistantIdx = i
		}
	}

	for id, ref := range toolUses {
		if _, ok := toolResults[id]; ok {
			continue
		}
		// Pending: the id belongs to the latest assistant message, that
		// message ends the sequence, and it has no result yet. That is allowed.
		if ref.messageIndex == lastAssistantIdx && lastAssistantIdx == len(messages)-1 {
			continue
		}
		res.OrphanedToolIDs = append(res.OrphanedToolIDs, id)
	}
	for id, resultIdx := range toolResults {
		useRef, ok := toolUses[id]
		if !ok {
			res.MissingToolUseIDs = append(res.MissingToolUseIDs, id)
			continue
		}
		if useRef.messageIndex >= resultIdx {
			res.MissingToolUseIDs = append(res.MissingToolUseIDs, id)
		}
	}

	if len(res.OrphanedToolIDs) > 0 {
		res.Errors = append(res.Errors, "orphaned tool_use blocks with no matching tool_result")
		res.Suggestions = append(res.Suggestions, "add a tool_result message for every orphaned tool_use id, or remove the tool_use")
	}
	if len(res.MissingToolUseIDs) > 0 {
		res.Errors = append(res.Errors, "tool_result blocks reference a tool_use id that was never declared earlier")
		res.Suggestions = append(res.Suggestions, "ensure every tool_result.tool_use_id matches a tool_use.id from an earlier message")
	}
}
