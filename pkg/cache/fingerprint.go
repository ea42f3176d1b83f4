// Package cache implements the streaming cache (C9): content-addressed
// reuse of already-translated Anthropic SSE event sequences, wrapping the
// streaming engine so identical requests don't re-pay the upstream round
// trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
)

const (
	messageKeyBound  = 1000
	toolDescKeyBound = 200
)

// keyMessage is the content-bounded projection of one message used in the
// fingerprint; it never needs to round-trip back into a Message.
type keyMessage struct {
	Role    anthropicapi.Role `json:"role"`
	Content string            `json:"content"`
}

type keyTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type keyComponents struct {
	Model       string       `json:"model"`
	Messages    []keyMessage `json:"messages"`
	Tools       []keyTool    `json:"tools"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature"`
	Stream      bool         `json:"stream"`
}

// Fingerprint computes the SHA-256 content address for req, per SPEC_FULL
// §4.9. It is deterministic: the same request produces the same fingerprint
// every time, regardless of map iteration order or process restart, because
// every field that goes into it is bounded and serialized in a fixed struct
// field order rather than through a map.
func Fingerprint(req anthropicapi.MessagesRequest) string {
	key := keyComponents{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		raw, _ := json.Marshal(m.Content)
		key.Messages = append(key.Messages, keyMessage{
			Role:    m.Role,
			Content: truncate(string(raw), messageKeyBound),
		})
	}
	for _, t := range req.Tools {
		key.Tools = append(key.Tools, keyTool{
			Name:        t.Name,
			Description: truncate(t.Description, toolDescKeyBound),
		})
	}

	// json.Marshal serializes struct fields in declaration order and map
	// keys in sorted order, so this encoding is stable across runs; no
	// explicit sort-keys step is needed because keyComponents never
	// contains a bare map.
	blob, err := json.Marshal(key)
	if err != nil {
		// Unreachable for well-formed keyComponents, but fall back to a
		// hash of the model name alone rather than panic mid-request.
		blob = []byte(key.Model)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
