package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/config"
	"github.com/daoch4n/claude-any-router-proxy/pkg/internal/retry"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/metrics"
	"github.com/daoch4n/claude-any-router-proxy/pkg/telemetry"
	"github.com/daoch4n/claude-any-router-proxy/pkg/upstream"
	"go.opentelemetry.io/otel/trace"
)

// retryableStatus is the set of upstream HTTP statuses the dispatcher
// retries, per SPEC_FULL §4.7: rate-limited and server-side failures, never
// a 4xx signalling a malformed request.
var retryableStatus = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Dispatcher sends converted requests to whichever backend is configured,
// applying a per-backend rate limit ahead of an exponential-backoff retry
// loop. Three strategies share this type: DirectOpenAICompatible and
// AzureHostedClaude build and parse the request inline; TranslationLibrary
// delegates to languageModelClient, a separate request/response code path
// that happens to land on the same OpenRouter endpoint (SPEC_FULL §4.7).
type Dispatcher struct {
	cfg       *config.ProxyConfig
	client    *Client
	limiters  *limiterSet
	retryCfg  retry.Config
	translate *languageModelClient
	metrics   *metrics.Registry
	telemetry *telemetry.Settings
}

// New builds a Dispatcher from a resolved configuration, with no metrics
// recording. Use NewWithMetrics to additionally record retry/dispatch
// counts.
func New(cfg *config.ProxyConfig) *Dispatcher {
	return NewWithMetrics(cfg, nil)
}

// NewWithMetrics builds a Dispatcher that records retry and dispatch counts
// into reg. A nil reg disables recording, equivalent to New.
func NewWithMetrics(cfg *config.ProxyConfig, reg *metrics.Registry) *Dispatcher {
	return NewWithTelemetry(cfg, reg, nil)
}

// NewWithTelemetry builds a Dispatcher that additionally records a span
// around every dispatch attempt using settings. A nil settings disables
// tracing, equivalent to NewWithMetrics.
func NewWithTelemetry(cfg *config.ProxyConfig, reg *metrics.Registry, settings *telemetry.Settings) *Dispatcher {
	client := NewClient(cfg)
	d := &Dispatcher{
		cfg:       cfg,
		client:    client,
		limiters:  newLimiterSet(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		translate: newLanguageModelClient(client),
		metrics:   reg,
		telemetry: settings,
	}
	d.retryCfg = retry.Config{
		MaxRetries:   2, // three attempts in all
		InitialDelay: retry.DefaultConfig().InitialDelay,
		MaxDelay:     retry.DefaultConfig().MaxDelay,
		Multiplier:   retry.DefaultConfig().Multiplier,
		Jitter:       true,
		ShouldRetry: func(err error) bool {
			retryable := shouldRetry(err)
			if retryable && d.metrics != nil {
				d.metrics.IncRetry()
			}
			return retryable
		},
	}
	return d
}

func shouldRetry(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus[statusErr.StatusCode]
	}
	return retry.IsRetryable(err)
}

// Send performs one non-streaming dispatch. anthropicReq is the original
// caller request, already model-mapped in place (its Model field must carry
// the canonical backend identifier, not the caller alias) — AzureHostedClaude
// transmits it directly per SPEC_FULL §4.7's "accepts the Anthropic dialect
// natively inbound" note; the other two strategies transmit upstreamReq.
func (d *Dispatcher) Send(ctx context.Context, anthropicReq anthropicapi.MessagesRequest, upstreamReq upstream.Request, backend mapping.Backend, isSmallModel bool) (upstream.Response, error) {
	if err := d.limiters.Wait(ctx, backend); err != nil {
		return upstream.Response{}, err
	}

	attrs := telemetry.GetBaseAttributes(string(backend), anthropicReq.Model, d.telemetry, nil)
	opts := telemetry.SpanOptions{Name: "dispatch.send", Attributes: attrs, EndWhenDone: true}
	return telemetry.RecordSpan(ctx, telemetry.GetTracer(d.telemetry), opts, func(ctx context.Context, span trace.Span) (upstream.Response, error) {
		var resp upstream.Response
		err := retry.Do(ctx, d.retryCfg, func(ctx context.Context) error {
			r, err := d.sendOnce(ctx, anthropicReq, upstreamReq, backend, isSmallModel)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		return resp, err
	})
}

func (d *Dispatcher) sendOnce(ctx context.Context, anthropicReq anthropicapi.MessagesRequest, upstreamReq upstream.Request, backend mapping.Backend, isSmallModel bool) (upstream.Response, error) {
	if d.metrics != nil {
		d.metrics.IncDispatched()
	}
	switch backend {
	case mapping.BackendLiteLLMOpenRtr:
		return d.translate.DoGenerate(ctx, upstreamReq)
	case mapping.BackendAzureDatabricks:
		return d.sendAzure(ctx, anthropicReq, isSmallModel)
	default:
		return d.sendDirect(ctx, upstreamReq, isSmallModel)
	}
}

func (d *Dispatcher) sendDirect(ctx context.Context, req upstream.Request, isSmallModel bool) (upstream.Response, error) {
	httpReq, err := d.client.buildRequest(ctx, mapping.BackendOpenRouter, isSmallModel, req)
	if err != nil {
		return upstream.Response{}, err
	}
	body, err := d.client.do(httpReq)
	if err != nil {
		return upstream.Response{}, err
	}
	var resp upstream.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return upstream.Response{}, err
	}
	return resp, nil
}

// sendAzure sends the original Anthropic-shape request and parses an
// OpenAI-shape response, per SPEC_FULL §4.7's documented mismatch.
func (d *Dispatcher) sendAzure(ctx context.Context, req anthropicapi.MessagesRequest, isSmallModel bool) (upstream.Response, error) {
	httpReq, err := d.client.buildRequest(ctx, mapping.BackendAzureDatabricks, isSmallModel, req)
	if err != nil {
		return upstream.Response{}, err
	}
	body, err := d.client.do(httpReq)
	if err != nil {
		return upstream.Response{}, err
	}
	var resp upstream.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return upstream.Response{}, err
	}
	return resp, nil
}

// SendStream performs one streaming dispatch, retrying only the attempts
// that fail before a byte of the upstream body is read — once streaming
// starts, the caller owns the body and any mid-stream failure surfaces as a
// read error rather than a fresh retry (SPEC_FULL §4.8 interacts with a
// restarted stream by replaying from empty state, which would duplicate
// already-emitted content, so it is out of scope here).
func (d *Dispatcher) SendStream(ctx context.Context, anthropicReq anthropicapi.MessagesRequest, upstreamReq upstream.Request, backend mapping.Backend, isSmallModel bool) (io.ReadCloser, error) {
	if err := d.limiters.Wait(ctx, backend); err != nil {
		return nil, err
	}

	attrs := telemetry.GetBaseAttributes(string(backend), anthropicReq.Model, d.telemetry, nil)
	opts := telemetry.SpanOptions{Name: "dispatch.stream", Attributes: attrs, EndWhenDone: true}
	return telemetry.RecordSpan(ctx, telemetry.GetTracer(d.telemetry), opts, func(ctx context.Context, span trace.Span) (io.ReadCloser, error) {
		var body io.ReadCloser
		err := retry.Do(ctx, d.retryCfg, func(ctx context.Context) error {
			rc, err := d.streamOnce(ctx, anthropicReq, upstreamReq, backend, isSmallModel)
			if err != nil {
				return err
			}
			body = rc
			return nil
		})
		return body, err
	})
}

func (d *Dispatcher) streamOnce(ctx context.Context, anthropicReq anthropicapi.MessagesRequest, upstreamReq upstream.Request, backend mapping.Backend, isSmallModel bool) (io.ReadCloser, error) {
	if d.metrics != nil {
		d.metrics.IncDispatched()
	}
	upstreamReq.Stream = true
	switch backend {
	case mapping.BackendLiteLLMOpenRtr:
		return d.translate.DoStream(ctx, upstreamReq)
	case mapping.BackendAzureDatabricks:
		anthropicReq.Stream = true
		httpReq, err := d.client.buildRequest(ctx, mapping.BackendAzureDatabricks, isSmallModel, anthropicReq)
		if err != nil {
			return nil, err
		}
		resp, err := d.client.doStream(httpReq)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	default:
		httpReq, err := d.client.buildRequest(ctx, mapping.BackendOpenRouter, isSmallModel, upstreamReq)
		if err != nil {
			return nil, err
		}
		resp, err := d.client.doStream(httpReq)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}
