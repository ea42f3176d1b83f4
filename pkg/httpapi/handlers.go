package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/cache"
	"github.com/daoch4n/claude-any-router-proxy/pkg/convert"
	"github.com/daoch4n/claude-any-router-proxy/pkg/flowvalidate"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/reqctx"
	"github.com/daoch4n/claude-any-router-proxy/pkg/streaming"
	"github.com/daoch4n/claude-any-router-proxy/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": string(s.Config.Backend)})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Cache.Stats())
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	var pattern *regexp.Regexp
	if p := c.Query("pattern"); p != "" {
		compiled, err := regexp.Compile(p)
		if err != nil {
			writeError(c, anthropicapi.ErrTypeInvalidRequest, "invalid pattern: "+err.Error())
			return
		}
		pattern = compiled
	}
	var tags []string
	if t := c.Query("tags"); t != "" {
		tags = strings.Split(t, ",")
	}
	var olderThan time.Duration
	if o := c.Query("older_than_seconds"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil {
			writeError(c, anthropicapi.ErrTypeInvalidRequest, "older_than_seconds must be an integer")
			return
		}
		olderThan = time.Duration(n) * time.Second
	}
	removed := s.Cache.Invalidate(pattern, tags, olderThan)
	c.JSON(http.StatusOK, gin.H{"invalidated": removed})
}

// handleCountTokens implements POST /v1/messages/count_tokens.
func (s *Server) handleCountTokens(c *gin.Context) {
	var req anthropicapi.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, anthropicapi.ErrTypeInvalidRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": estimateInputTokens(req)})
}

// handleMessages implements POST /v1/messages, branching on the request's
// own stream field; streaming requests go through the cache transparently,
// matching the unqualified endpoint callers expect drop-in Anthropic client
// compatibility from.
func (s *Server) handleMessages(c *gin.Context) {
	req, ok := s.bindAndValidate(c)
	if !ok {
		return
	}
	if req.Stream {
		s.serveStreaming(c, req, cacheOptions{enabled: true})
		return
	}
	s.serveNonStreaming(c, req)
}

// handleStreamingMessages implements POST /v1/streaming/messages: always
// streams regardless of the body's stream field, never touches the cache.
func (s *Server) handleStreamingMessages(c *gin.Context) {
	req, ok := s.bindAndValidate(c)
	if !ok {
		return
	}
	req.Stream = true
	s.serveStreaming(c, req, cacheOptions{enabled: false})
}

// handleCacheMessages implements POST /v1/cache/messages: always streams and
// always consults the cache, honoring the bypass_cache/cache_ttl/cache_tags
// query parameters from SPEC_FULL §6.
func (s *Server) handleCacheMessages(c *gin.Context) {
	req, ok := s.bindAndValidate(c)
	if !ok {
		return
	}
	req.Stream = true

	opts := cacheOptions{enabled: true}
	if c.Query("bypass_cache") == "true" {
		opts.enabled = false
	}
	if ttl := c.Query("cache_ttl"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil && n > 0 {
			opts.ttl = time.Duration(n) * time.Second
		}
	}
	if tags := c.Query("cache_tags"); tags != "" {
		opts.tags = strings.Split(tags, ",")
	}
	s.serveStreaming(c, req, opts)
}

// bindAndValidate decodes the request body and runs C6's conversation-flow
// validation, writing the appropriate error response and returning ok=false
// on any failure.
func (s *Server) bindAndValidate(c *gin.Context) (anthropicapi.MessagesRequest, bool) {
	var req anthropicapi.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, anthropicapi.ErrTypeInvalidRequest, err.Error())
		return req, false
	}
	if req.MaxTokens <= 0 {
		writeError(c, anthropicapi.ErrTypeInvalidRequest, "max_tokens must be positive")
		return req, false
	}
	if req.MaxTokens > s.Config.MaxTokensLimit {
		req.MaxTokens = s.Config.MaxTokensLimit
	}
	result := flowvalidate.Validate(req.Messages)
	if !result.Valid() {
		writeError(c, anthropicapi.ErrTypeInvalidRequest, strings.Join(result.Errors, "; "))
		return req, false
	}
	return req, true
}

// resolveForDispatch mirrors the model alias through the configured mapper
// once, returning an Anthropic request carrying the canonical model name
// (AzureHostedClaude dispatches it directly, SPEC_FULL §4.7) and whether the
// caller asked for the small-model alias. The upstream request is built
// separately by the caller.
func (s *Server) resolveForDispatch(req anthropicapi.MessagesRequest) (anthropicapi.MessagesRequest, bool) {
	canonical, _ := s.Mapper.Resolve(req.Model, s.Config.Backend)
	small := isSmallModelAlias(req.Model)
	canonicalReq := req
	canonicalReq.Model = canonical
	return canonicalReq, small
}

func isSmallModelAlias(model string) bool {
	return model == "small" || model == "haiku"
}

func (s *Server) serveNonStreaming(c *gin.Context, req anthropicapi.MessagesRequest) {
	canonicalReq, small := s.resolveForDispatch(req)
	aggressive := s.Config.Backend == mapping.BackendAzureDatabricks
	upstreamReq, _ := convert.ToUpstreamRequest(req, s.Config.Backend, s.Mapper, aggressive, 0, convert.ExtensionFields{})

	resp, err := s.Dispatcher.Send(c.Request.Context(), canonicalReq, upstreamReq, s.Config.Backend, small)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	messages, err := convert.ToMessagesResponse(resp, req.Model)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type cacheOptions struct {
	enabled bool
	ttl     time.Duration
	tags    []string
}

// serveStreaming drives the full C7->C8->C9 streaming pipeline over SSE,
// consulting the cache first when opts.enabled.
func (s *Server) serveStreaming(c *gin.Context, req anthropicapi.MessagesRequest, opts cacheOptions) {
	canonicalReq, small := s.resolveForDispatch(req)
	aggressive := s.Config.Backend == mapping.BackendAzureDatabricks
	upstreamReq, _ := convert.ToUpstreamRequest(req, s.Config.Backend, s.Mapper, aggressive, 0, convert.ExtensionFields{})
	upstreamReq.Stream = true

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)
	out := streaming.NewWriter(c.Writer, func() {
		if canFlush {
			flusher.Flush()
		}
	})

	ctx := c.Request.Context()
	fingerprint := cache.Fingerprint(canonicalReq)

	if opts.enabled {
		if ent, hit := s.Cache.Lookup(fingerprint); hit {
			s.Cache.RecordHit()
			_ = s.Cache.Replay(ctx, out, ent)
			return
		}
		if ent, wasInflight := s.Cache.Join(ctx, fingerprint); wasInflight && ent != nil {
			s.Cache.RecordHit()
			_ = s.Cache.Replay(ctx, out, ent)
			return
		}
		s.Cache.RecordMiss()
	}

	owner := opts.enabled && s.Cache.BeginBuild(fingerprint)

	attrs := telemetry.GetBaseAttributes(string(s.Config.Backend), canonicalReq.Model, s.Telemetry, nil)
	if rc, ok := reqctx.From(ctx); ok {
		attrs = append(attrs, attribute.String("correlation_id", rc.CorrelationID))
	}
	spanOpts := telemetry.SpanOptions{Name: "dispatch.stream", Attributes: attrs, EndWhenDone: true}

	_, err := telemetry.RecordSpan(ctx, telemetry.GetTracer(s.Telemetry), spanOpts, func(ctx context.Context, span trace.Span) (struct{}, error) {
		body, err := s.Dispatcher.SendStream(ctx, canonicalReq, upstreamReq, s.Config.Backend, small)
		if err != nil {
			if owner {
				s.Cache.AbortBuild(fingerprint)
			}
			return struct{}{}, err
		}

		engine := streaming.New(convert.NewMessageID(), req.Model, s.Log)
		var sink streaming.Sink = out
		var tee *cache.TeeWriter
		if owner {
			tee = cache.NewTeeWriter(out)
			sink = tee
		}

		runErr := streaming.Run(ctx, body, sink, engine)
		if owner {
			if runErr == nil {
				s.Cache.FinishBuild(fingerprint, opts.tags, tee.Recorded())
			} else {
				s.Cache.AbortBuild(fingerprint)
			}
		}
		return struct{}{}, runErr
	})
	if err != nil {
		_ = out.Write(streaming.Error(err.Error()))
	}
}

// estimateInputTokens gives an approximate token count for count_tokens.
// The pack carries no tokenizer for this dialect; a 4-characters-per-token
// heuristic over the same content-flattening count_tokens's callers already
// expect is accurate enough for the advisory use this endpoint serves
// (client-side budget checks before an actual call).
func estimateInputTokens(req anthropicapi.MessagesRequest) int {
	chars := 0
	if req.System != nil {
		chars += len(req.System.Text)
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case anthropicapi.BlockText:
				chars += len(b.Text)
			case anthropicapi.BlockToolResult:
				chars += len(b.ResultText)
			case anthropicapi.BlockToolUse:
				chars += len(b.ToolName) + 16
			}
		}
	}
	for _, t := range req.Tools {
		chars += len(t.Name) + len(t.Description)
	}
	if chars == 0 {
		return 0
	}
	return chars/4 + 1
}
