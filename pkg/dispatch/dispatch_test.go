package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/config"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backendURLOverride string) *config.ProxyConfig {
	t.Helper()
	return &config.ProxyConfig{
		Backend:            mapping.BackendOpenRouter,
		OpenRouterAPIKey:   "sk-test",
		RequestTimeout:     5 * time.Second,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
}

func withFakeOpenRouter(t *testing.T, handler http.HandlerFunc) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	d := New(testConfig(t, srv.URL))
	d.client.testBaseURL = srv.URL
	d.translate = newLanguageModelClient(d.client)
	return d
}

func TestDispatcher_SendDirect_Success(t *testing.T) {
	d := withFakeOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(upstream.Response{
			ID:      "gen-1",
			Choices: []upstream.Choice{{Message: upstream.Message{Role: upstream.RoleAssistant, Content: "hi"}, FinishReason: "stop"}},
		})
	})

	resp, err := d.Send(context.Background(), anthropicapi.MessagesRequest{}, upstream.Request{Model: "openrouter/anthropic/claude-sonnet-4"}, mapping.BackendOpenRouter, false)

	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
}

func TestDispatcher_Send_RetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	d := withFakeOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(upstream.Response{Choices: []upstream.Choice{{FinishReason: "stop"}}})
	})
	d.retryCfg.InitialDelay = time.Millisecond
	d.retryCfg.MaxDelay = 5 * time.Millisecond

	_, err := d.Send(context.Background(), anthropicapi.MessagesRequest{}, upstream.Request{}, mapping.BackendOpenRouter, false)

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDispatcher_Send_DoesNotRetryOn400(t *testing.T) {
	var attempts int32
	d := withFakeOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	})
	d.retryCfg.InitialDelay = time.Millisecond

	_, err := d.Send(context.Background(), anthropicapi.MessagesRequest{}, upstream.Request{}, mapping.BackendOpenRouter, false)

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDispatcher_Send_AzureUsesBasicAuthAndAnthropicBody(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	d := withFakeOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(upstream.Response{Choices: []upstream.Choice{{FinishReason: "stop"}}})
	})
	d.cfg.Backend = mapping.BackendAzureDatabricks
	d.cfg.DatabricksToken = "dbtok"

	req := anthropicapi.MessagesRequest{Model: "claude-sonnet-4", MaxTokens: 64}
	_, err := d.Send(context.Background(), req, upstream.Request{}, mapping.BackendAzureDatabricks, false)

	require.NoError(t, err)
	assert.Contains(t, gotAuth, "Basic ")
	assert.Equal(t, "claude-sonnet-4", gotBody["model"])
}
