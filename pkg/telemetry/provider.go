package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/docmodel/docmodel/pkg/config"
)

// TracerProvider is a trace.TracerProvider the boot command can flush on exit.
type TracerProvider interface {
	trace.TracerProvider

	// Enabled reports whether store spans are exported anywhere.
	Enabled() bool
	Close(context.Context) error
	RegisterSpanProcessor(sdktrace.SpanProcessor)
}

// NewFromConfig installs the global tracer provider the memory and mongodb stores start their
// spans from. With tracing disabled a noop provider is installed, so store spans cost nothing.
func NewFromConfig(cfg config.TraceConfig) TracerProvider {
	if !cfg.Enabled {
		tp := Noop()
		otel.SetTracerProvider(tp)
		return tp
	}

	return MustNewTracerProvider(
		WithOTLPEndpoint(cfg.Endpoint),
		WithServiceName(cfg.ServiceName),
		WithSamplingRatio(cfg.SampleRatio),
	)
}

type tracerProvider struct {
	embedded.TracerProvider

	tp *sdktrace.TracerProvider
}

func (t *tracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return t.tp.Tracer(name, options...)
}

func (t *tracerProvider) Enabled() bool {
	return t.tp != nil
}

// Close flushes pending spans and shuts the provider down. Calling it twice is a no-op.
func (t *tracerProvider) Close(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	if err := t.tp.ForceFlush(ctx); err != nil {
		return err
	}
	if err := t.tp.Shutdown(ctx); err != nil {
		return err
	}
	t.tp = nil
	return nil
}

func (t *tracerProvider) RegisterSpanProcessor(spanProcessor sdktrace.SpanProcessor) {
	t.tp.RegisterSpanProcessor(spanProcessor)
}

type noopTracerProvider struct {
	embedded.TracerProvider

	tp trace.TracerProvider
}

func (t *noopTracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return t.tp.Tracer(name, options...)
}

func (t *noopTracerProvider) Enabled() bool { return false }

func (t *noopTracerProvider) Close(_ context.Context) error { return nil }

func (t *noopTracerProvider) RegisterSpanProcessor(_ sdktrace.SpanProcessor) {}

// Noop returns a provider whose spans are never recorded.
func Noop() TracerProvider {
	return &noopTracerProvider{tp: noop.NewTracerProvider()}
}
