package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "conductor"

// TracingOptions configures OpenTelemetry export.
type TracingOptions struct {
	// Enabled turns export on; when false every span is a no-op.
	Enabled bool
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	// SampleRate is the head sampling ratio in [0,1].
	SampleRate float64
	// ServiceVersion and Environment annotate the trace resource.
	ServiceVersion string
	Environment    string
}

// Tracing owns the tracer the orchestrator opens spans on. Disabled
// tracing carries a no-op tracer so call sites never branch.
type Tracing struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// SetupTracing builds the exporter pipeline and installs it as the
// global provider. The returned Tracing must be shut down on exit.
func SetupTracing(ctx context.Context, opts TracingOptions) (*Tracing, error) {
	if !opts.Enabled {
		return &Tracing{
			tracer:   noop.NewTracerProvider().Tracer(tracerName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(), // collector is expected on localhost
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(tracerName),
		semconv.ServiceVersionKey.String(opts.ServiceVersion),
		attribute.String("environment", opts.Environment),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracing{
		tracer:   provider.Tracer(tracerName),
		shutdown: provider.Shutdown,
	}, nil
}

// Shutdown flushes and stops the exporter pipeline.
func (t *Tracing) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// TaskSpan opens the span covering one orchestrated task execution.
func (t *Tracing) TaskSpan(ctx context.Context, taskID, role string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "orchestrator.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.role", role),
		),
	)
}

// ProviderSpan opens the span covering one provider invocation.
func (t *Tracing) ProviderSpan(ctx context.Context, provider string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.execute_prompt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider.name", provider)),
	)
}

// RecordSpanError marks the current span failed. A nil error is a
// no-op.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CurrentTraceID returns the active trace id, or "" outside a span.
func CurrentTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
