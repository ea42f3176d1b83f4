package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide OTLP/HTTP exporter and trace provider
// backing RecordSpan/GetTracer. Its lifecycle is one per process, created at
// boot and shut down on graceful exit so buffered spans flush.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	exporter       *otlptrace.Exporter
}

// NewProvider dials endpoint over OTLP/HTTP and installs the resulting
// TracerProvider as the global one, so otel.Tracer(TracerName) (GetTracer's
// fallback when no *Settings.Tracer is set) resolves to it.
func NewProvider(ctx context.Context, serviceName, endpoint string, insecure bool) (*Provider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tracerProvider: tp, exporter: exporter}, nil
}

// Tracer returns the provider's tracer under the shared TracerName, the same
// name GetTracer falls back to through otel.Tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(TracerName)
}

// Shutdown flushes and closes the exporter. Call once at process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tracerProvider.Shutdown(ctx)
}
