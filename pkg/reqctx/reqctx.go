// Package reqctx implements the request-scoped context (C10): a correlation
// ID, per-component timing, and cleanup hooks threaded through a request's
// context.Context rather than held in any process-wide registry.
package reqctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// RequestContext carries everything a request needs attached to it as it
// flows through the core's components. It is constructed once per inbound
// request and is itself safe for concurrent reads of its CorrelationID,
// plus concurrent Record calls during a single request's lifetime.
type RequestContext struct {
	CorrelationID string
	StartedAt     time.Time
	DebugMode     bool

	span trace.Span

	mu      sync.Mutex
	timings []ComponentTiming
	cleanup []func()
}

// ComponentTiming is one per-component timing sample, returned by Timings
// only when DebugMode is enabled; no response carries these samples.
type ComponentTiming struct {
	Component string
	Duration  time.Duration
}

// New creates a RequestContext with a fresh 128-bit correlation ID and
// attaches it to ctx, returning both the enriched context and the value for
// direct access. tracer opens a span spanning the whole request, closed by
// Cleanup; pass a noop tracer (telemetry.GetTracer handles this when
// disabled) rather than nil.
func New(ctx context.Context, debugMode bool, tracer trace.Tracer) (context.Context, *RequestContext) {
	ctx, span := tracer.Start(ctx, "request")
	rc := &RequestContext{
		CorrelationID: uuid.New().String(),
		StartedAt:     time.Now(),
		DebugMode:     debugMode,
		span:          span,
	}
	span.SetAttributes(attribute.String("correlation_id", rc.CorrelationID))
	return context.WithValue(ctx, ctxKey{}, rc), rc
}

// From extracts the RequestContext attached to ctx, if any.
func From(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

// Record appends a component timing sample. Safe for concurrent use.
func (rc *RequestContext) Record(component string, d time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.timings = append(rc.timings, ComponentTiming{Component: component, Duration: d})
}

// Timed runs fn and records its duration under component, returning fn's
// error. Use at each component boundary that does I/O.
func (rc *RequestContext) Timed(component string, fn func() error) error {
	start := time.Now()
	err := fn()
	rc.Record(component, time.Since(start))
	return err
}

// Timings returns a snapshot of recorded component timings, or nil if debug
// mode is off (callers should not pay the snapshot cost otherwise).
func (rc *RequestContext) Timings() []ComponentTiming {
	if !rc.DebugMode {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]ComponentTiming, len(rc.timings))
	copy(out, rc.timings)
	return out
}

// OnCleanup registers a function to run when Cleanup is called at request
// end: releasing a cache writer slot, cancelling a background task spawned
// for this request, or similar. Cleanup functions run in registration order.
func (rc *RequestContext) OnCleanup(fn func()) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup = append(rc.cleanup, fn)
}

// Cleanup runs every registered cleanup function exactly once. Mandatory at
// request end per SPEC_FULL §4.10.
func (rc *RequestContext) Cleanup() {
	rc.mu.Lock()
	fns := rc.cleanup
	rc.cleanup = nil
	rc.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	if rc.span != nil {
		rc.span.End()
	}
}
