package anthropicapi

import "encoding/json"

// Role is the Anthropic dialect's message role. Unlike the upstream dialect,
// "system" is never a message role here — the system prompt is a top-level
// field on MessagesRequest (SPEC_FULL §3).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn. Content is decoded from either a bare
// JSON string (collapsed to a single text block) or an array of content
// blocks; which of the two forms the caller sent is not kept.
type Message struct {
	Role    Role
	Content []ContentBlock
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	var asString string
	if err := json.Unmarshal(w.Content, &asString); err == nil {
		m.Content = []ContentBlock{{Type: BlockText, Text: asString}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(w.Content, &blocks); err != nil {
		return err
	}
	m.Content = blocks
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{Role: m.Role, Content: mustMarshalContent(m.Content)})
}

func mustMarshalContent(blocks []ContentBlock) json.RawMessage {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

// HasToolResult reports whether any block in the message is a tool_result.
func (m Message) HasToolResult() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// HasToolUse reports whether any block in the message is a tool_use.
func (m Message) HasToolUse() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ToolChoiceType selects how the model should use declared tools.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceAny  ToolChoiceType = "any"
	ToolChoiceTool ToolChoiceType = "tool"
)

// ToolChoice mirrors the Anthropic `tool_choice` variant.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"`
}

// Tool is a callable declaration attached to a request.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// System is the request's system prompt: either a bare string or an ordered
// sequence of text blocks, joined with single spaces per SPEC_FULL §4.4.
type System struct {
	Text string
}

func (s *System) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.Text = asString
		return nil
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	joined := ""
	for i, b := range blocks {
		if i > 0 {
			joined += " "
		}
		joined += b.Text
	}
	s.Text = joined
	return nil
}

func (s System) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text)
}

// MessagesRequest is the inbound unit of work for POST /v1/messages.
type MessagesRequest struct {
	Model         string      `json:"model"`
	Messages      []Message   `json:"messages"`
	System        *System     `json:"system,omitempty"`
	MaxTokens     int         `json:"max_tokens"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	TopK          *int        `json:"top_k,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
	Tools         []Tool      `json:"tools,omitempty"`
	ToolChoice    *ToolChoice `json:"tool_choice,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Usage is the Anthropic-dialect token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StopReason is the Anthropic-dialect terminal reason.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
	StopError        StopReason = "error"
)

// MessagesResponse is the non-streaming response envelope.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ErrorType is the Anthropic-dialect error envelope's error.type field.
type ErrorType string

const (
	ErrTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrTypeAuthentication ErrorType = "authentication_error"
	ErrTypePermission     ErrorType = "permission_error"
	ErrTypeNotFound       ErrorType = "not_found_error"
	ErrTypeRateLimit      ErrorType = "rate_limit_error"
	ErrTypeAPIError       ErrorType = "api_error"
	ErrTypeOverloaded     ErrorType = "overloaded_error"
)

// ErrorEnvelope is the Anthropic-dialect error response body.
type ErrorEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    ErrorType `json:"type"`
		Message string    `json:"message"`
	} `json:"error"`
}

// NewErrorEnvelope builds an error envelope for the given type and message.
func NewErrorEnvelope(t ErrorType, message string) ErrorEnvelope {
	env := ErrorEnvelope{Type: "error"}
	env.Error.Type = t
	env.Error.Message = message
	return env
}

// HTTPStatusForErrorType maps an Anthropic error type to its HTTP status
// per SPEC_FULL §6.
func HTTPStatusForErrorType(t ErrorType) int {
	switch t {
	case ErrTypeInvalidRequest:
		return 400
	case ErrTypeAuthentication:
		return 401
	case ErrTypePermission:
		return 403
	case ErrTypeNotFound:
		return 404
	case ErrTypeRateLimit:
		return 429
	case ErrTypeOverloaded:
		return 503
	default:
		return 500
	}
}
