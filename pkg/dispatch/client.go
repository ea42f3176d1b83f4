// Package dispatch implements the backend dispatcher (C7): building the
// outbound HTTP request for whichever of the three backend strategies is
// configured, sending it with per-backend rate limiting and retry-with-
// backoff, and handing back either a decoded response or a streaming body.
package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/config"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
)

// Client sends upstream-dialect requests to one of the three configured
// backends over plain net/http, adapting only the base URL and auth header
// per backend. The body it sends is whatever the caller hands it: the
// Dispatcher passes OpenAI-compatible JSON for two backends and the
// Anthropic-dialect request for AzureHostedClaude (SPEC_FULL §4.7).
type Client struct {
	http *http.Client
	cfg  *config.ProxyConfig

	// testBaseURL, when set, overrides endpoint()'s resolved base URL for
	// every backend. Used only by tests to point at an httptest server.
	testBaseURL string
}

// NewClient builds a Client with a timeout taken from cfg.
func NewClient(cfg *config.ProxyConfig) *Client {
	return &Client{
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg: cfg,
	}
}

// endpoint resolves the base URL and path for one backend/model pair. The
// Azure strategy addresses a specific serving endpoint chosen by whether the
// request targets the big or small model; OpenRouter-family strategies
// share one fixed base URL regardless of model.
func (c *Client) endpoint(backend mapping.Backend, isSmallModel bool) (baseURL, path string) {
	switch backend {
	case mapping.BackendAzureDatabricks:
		servingEndpoint := c.cfg.DatabricksBigEndpoint
		if isSmallModel {
			servingEndpoint = c.cfg.DatabricksSmallEndpoint
		}
		base := fmt.Sprintf("https://%s", c.cfg.DatabricksHost)
		if c.testBaseURL != "" {
			base = c.testBaseURL
		}
		return base, fmt.Sprintf("/serving-endpoints/%s/invocations", servingEndpoint)
	default: // OPENROUTER, LITELLM_OPENROUTER
		base := "https://openrouter.ai/api/v1"
		if c.testBaseURL != "" {
			base = c.testBaseURL
		}
		return base, "/chat/completions"
	}
}

func (c *Client) authorize(req *http.Request, backend mapping.Backend) {
	switch backend {
	case mapping.BackendAzureDatabricks:
		creds := base64.StdEncoding.EncodeToString([]byte("token:" + c.cfg.DatabricksToken))
		req.Header.Set("Authorization", "Basic "+creds)
	default:
		req.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
	}
}

// buildRequest constructs the outbound *http.Request for one send, JSON-
// encoding body and setting the headers the chosen backend requires.
func (c *Client) buildRequest(ctx context.Context, backend mapping.Backend, isSmallModel bool, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	baseURL, path := c.endpoint(backend, isSmallModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, backend)
	return req, nil
}

// StatusError is returned when the backend responds with a non-2xx status;
// the dispatcher's retry policy inspects StatusCode to decide whether to
// retry.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.StatusCode, string(e.Body))
}

// do performs req and returns its raw body, or a *StatusError for any
// non-2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

// doStream performs req and returns the live response for the caller to
// stream from; the caller owns closing resp.Body.
func (c *Client) doStream(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}
