// Package anthropicapi defines the Anthropic Messages API dialect: the
// request, message and content-block shapes a caller sends to and receives
// from this proxy, independent of whatever dialect the active backend
// actually speaks.
package anthropicapi

import "encoding/json"

// BlockType is the tag discriminating a ContentBlock's concrete shape.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	// BlockOpaque tags a block whose type discriminator this proxy does not
	// recognize. It is never produced by decoding caller input that matches
	// one of the four known cases; it exists so an unrecognized type never
	// fails decoding outright (see SPEC_FULL §3, §9).
	BlockOpaque BlockType = "__opaque__"
)

// ContentBlock is the closed tagged-union over the four Anthropic content
// block shapes plus an opaque catch-all. Exactly one of the typed fields is
// meaningful, selected by Type; callers dispatch on Type, never on Go's
// runtime type system.
type ContentBlock struct {
	Type BlockType

	// text
	Text string

	// image
	MediaType string
	Data      string

	// tool_use
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any

	// tool_result: Content is either a plain string or a sequence of text
	// blocks; ResultText holds the flattened form, ResultBlocks the
	// structured form when the caller sent an array. Exactly one is set.
	ToolResultID     string
	ResultText       string
	ResultBlocks     []ContentBlock
	ResultIsBlockSeq bool
	IsError          bool

	// opaque: the raw decoded JSON of a block whose "type" this proxy does
	// not know, kept so it can be degraded to text rather than dropped.
	RawType string
	Raw     json.RawMessage
}

// wireBlock is the JSON wire shape used for both directions of decoding.
type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *imageSource `json:"source,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// UnmarshalJSON decodes a single content block, degrading an unrecognized
// "type" into an opaque block rather than failing.
func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch BlockType(w.Type) {
	case BlockText:
		*c = ContentBlock{Type: BlockText, Text: w.Text}
	case BlockImage:
		if w.Source != nil {
			*c = ContentBlock{Type: BlockImage, MediaType: w.Source.MediaType, Data: w.Source.Data}
		} else {
			*c = ContentBlock{Type: BlockImage}
		}
	case BlockToolUse:
		*c = ContentBlock{Type: BlockToolUse, ToolUseID: w.ID, ToolName: w.Name, ToolInput: w.Input}
	case BlockToolResult:
		*c = ContentBlock{Type: BlockToolResult, ToolResultID: w.ToolUseID, IsError: w.IsError}
		if len(w.Content) > 0 {
			var asString string
			if err := json.Unmarshal(w.Content, &asString); err == nil {
				c.ResultText = asString
			} else {
				var blocks []ContentBlock
				if err := json.Unmarshal(w.Content, &blocks); err == nil {
					c.ResultBlocks = blocks
					c.ResultIsBlockSeq = true
				}
			}
		}
	default:
		*c = ContentBlock{Type: BlockOpaque, RawType: w.Type, Raw: append(json.RawMessage{}, data...)}
	}
	return nil
}

// MarshalJSON encodes a content block back to its Anthropic wire shape.
func (c ContentBlock) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case BlockText:
		return json.Marshal(wireBlock{Type: string(BlockText), Text: c.Text})
	case BlockImage:
		return json.Marshal(struct {
			Type   string      `json:"type"`
			Source imageSource `json:"source"`
		}{Type: string(BlockImage), Source: imageSource{Type: "base64", MediaType: c.MediaType, Data: c.Data}})
	case BlockToolUse:
		return json.Marshal(wireBlock{Type: string(BlockToolUse), ID: c.ToolUseID, Name: c.ToolName, Input: c.ToolInput})
	case BlockToolResult:
		var content json.RawMessage
		var err error
		if c.ResultIsBlockSeq {
			content, err = json.Marshal(c.ResultBlocks)
		} else {
			content, err = json.Marshal(c.ResultText)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireBlock{Type: string(BlockToolResult), ToolUseID: c.ToolResultID, Content: content, IsError: c.IsError})
	case BlockOpaque:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
		return json.Marshal(wireBlock{Type: c.RawType})
	default:
		return json.Marshal(wireBlock{Type: string(c.Type)})
	}
}

// FlattenText concatenates the text of a sequence of content blocks that are
// themselves text blocks, in order, joined by no separator (used to flatten
// a tool_result's block-sequence content per SPEC_FULL §4.2).
func FlattenText(blocks []ContentBlock) string {
	out := ""
	for _, b := range blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}
