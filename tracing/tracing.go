// Package tracing carries OpenTelemetry trace context through relay calls and into
// the outbound requests sent to the execution backends.
package tracing

import (
	"context"
	"net/http"
	"time"

	"github.com/flashbots/engine-relay/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "github.com/flashbots/engine-relay"

	EventBackendCall = "backend_call"
)

var propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Setup installs a global tracer provider and propagator. Exporters are passed in as
// provider options by the caller; the returned func flushes and shuts the provider down.
func Setup(ctx context.Context, serviceName string, opts ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)
	return provider.Shutdown, nil
}

func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan opens the span for one inbound relay method
func StartSpan(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan sets the span status from the relay method's outcome and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordBackendCall adds an event with the duration and outcome of one backend call
func RecordBackendCall(span trace.Span, backend common.BackendID, method string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend.String()),
		attribute.String("method", method),
		attribute.Float64("duration_ms", float64(duration.Microseconds())/1000),
		attribute.Bool("success", err == nil),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.kind", common.ErrorKind(err)))
	}
	span.AddEvent(EventBackendCall, trace.WithAttributes(attrs...))
}

// Inject returns HTTP headers carrying the trace context of ctx
func Inject(ctx context.Context) http.Header {
	h := make(http.Header)
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
	return h
}

// Extract returns ctx with the remote trace context found in h
func Extract(ctx context.Context, h http.Header) context.Context {
	return propagator.Extract(ctx, propagation.HeaderCarrier(h))
}
