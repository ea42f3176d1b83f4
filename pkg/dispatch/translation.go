package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
)

// languageModelClient is the TranslationLibrary strategy's embedded
// OpenAI-dialect client abstraction (SPEC_FULL §4.7, §10.2): a
// DoGenerate/DoStream pair modeled on the language-model interface shape,
// kept independent of DirectOpenAICompatible's request/response handling so
// the two strategies can diverge even though both address OpenRouter.
type languageModelClient struct {
	client *Client
}

func newLanguageModelClient(client *Client) *languageModelClient {
	return &languageModelClient{client: client}
}

// generateEnvelope mirrors the OpenRouter chat-completions response shape
// but is decoded independently of upstream.Response, so a field-naming
// drift in one path is caught rather than silently masked by sharing a
// single struct across both strategies.
type generateEnvelope struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int             `json:"index"`
		Message      upstream.Message `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage upstream.TokenUsage `json:"usage"`
}

// DoGenerate performs a non-streaming chat-completions call through the
// translation-library code path.
func (l *languageModelClient) DoGenerate(ctx context.Context, req upstream.Request) (upstream.Response, error) {
	req.Stream = false
	httpReq, err := l.client.buildRequest(ctx, mapping.BackendLiteLLMOpenRtr, false, req)
	if err != nil {
		return upstream.Response{}, err
	}
	httpReq.Header.Set("X-Title", "claude-any-router-proxy")
	body, err := l.client.do(httpReq)
	if err != nil {
		return upstream.Response{}, err
	}
	var env generateEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return upstream.Response{}, fmt.Errorf("translation library: decode generate response: %w", err)
	}
	resp := upstream.Response{ID: env.ID, Usage: env.Usage}
	for _, c := range env.Choices {
		resp.Choices = append(resp.Choices, upstream.Choice{Index: c.Index, Message: c.Message, FinishReason: c.FinishReason})
	}
	return resp, nil
}

// DoStream performs a streaming chat-completions call through the
// translation-library code path, returning the raw SSE body for the
// streaming engine (C8) to parse exactly as it would DirectOpenAICompatible
// output — the two strategies diverge only up to the byte stream, never in
// the SSE event shape itself.
func (l *languageModelClient) DoStream(ctx context.Context, req upstream.Request) (io.ReadCloser, error) {
	req.Stream = true
	httpReq, err := l.client.buildRequest(ctx, mapping.BackendLiteLLMOpenRtr, false, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Title", "claude-any-router-proxy")
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := l.client.doStream(httpReq)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
