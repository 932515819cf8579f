// Package metrics provides prometheus metrics primitives to the rest of the app
package metrics

import (
	"context"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	metricsNamespace = "engine_relay"
)

var (
	meter otelapi.Meter

	BackendRequestLatencyHistogram otelapi.Float64Histogram

	BuilderFailureCount       otelapi.Int64Counter
	NewPayloadDivergenceCount otelapi.Int64Counter
	PayloadSourceCount        otelapi.Int64Counter
	PayloadStoreEvictionCount otelapi.Int64Counter

	latencyBoundaries = otelapi.WithExplicitBucketBoundaries(func() []float64 {
		base := math.Exp(math.Log(12.0) / 15.0)
		res := make([]float64, 0, 31)
		for i := -15; i < 16; i++ {
			res = append(res, math.Pow(base, float64(i)))
		}
		return res
	}()...)
)

// instruments are backed by a noop meter until Setup is called
func init() {
	meter = noop.NewMeterProvider().Meter(metricsNamespace)
	_ = setupInstruments(context.Background())
}

func Setup(ctx context.Context) error {
	if err := setupMeter(ctx); err != nil {
		return err
	}
	return setupInstruments(ctx)
}

// Handler serves the prometheus registry the exporter writes to
func Handler() http.Handler {
	return promhttp.Handler()
}

func setupInstruments(ctx context.Context) error {
	for _, setup := range []func(context.Context) error{
		setupBackendRequestLatency,
		setupBuilderFailureCount,
		setupNewPayloadDivergenceCount,
		setupPayloadSourceCount,
		setupPayloadStoreEvictionCount,
	} {
		if err := setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

func setupMeter(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(metricsNamespace)),
	)
	if err != nil {
		return err
	}

	exporter, err := prometheus.New(
		prometheus.WithNamespace(metricsNamespace),
	)
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	meter = provider.Meter(metricsNamespace)

	return nil
}

func setupBackendRequestLatency(ctx context.Context) error {
	latency, err := meter.Float64Histogram(
		"backend_request_latency",
		otelapi.WithDescription("statistics on the duration of requests sent to the execution backends"),
		otelapi.WithUnit("ms"),
		latencyBoundaries,
	)
	BackendRequestLatencyHistogram = latency
	if err != nil {
		return err
	}
	return nil
}

func setupBuilderFailureCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"builder_failure_count",
		otelapi.WithDescription("number of failed requests to the building backend"),
	)
	BuilderFailureCount = counter
	if err != nil {
		return err
	}
	return nil
}

func setupNewPayloadDivergenceCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"new_payload_divergence_count",
		otelapi.WithDescription("number of newPayload calls where the building backend disagreed with the canonical verdict"),
	)
	NewPayloadDivergenceCount = counter
	if err != nil {
		return err
	}
	return nil
}

func setupPayloadSourceCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"payload_source_count",
		otelapi.WithDescription("number of getPayload responses served, by backend"),
	)
	PayloadSourceCount = counter
	if err != nil {
		return err
	}
	return nil
}

func setupPayloadStoreEvictionCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"payload_store_eviction_count",
		otelapi.WithDescription("number of build jobs evicted from the payload store before retrieval"),
	)
	PayloadStoreEvictionCount = counter
	if err != nil {
		return err
	}
	return nil
}

// RecordBackendRequest records the latency and outcome of one backend call
func RecordBackendRequest(ctx context.Context, backend, method string, latencyMs float64, success bool) {
	BackendRequestLatencyHistogram.Record(ctx, latencyMs, otelapi.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}

func IncBuilderFailure(ctx context.Context, method, reason string) {
	BuilderFailureCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason),
	))
}

func IncNewPayloadDivergence(ctx context.Context, canonicalStatus, builderStatus string) {
	NewPayloadDivergenceCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.String("canonical_status", canonicalStatus),
		attribute.String("builder_status", builderStatus),
	))
}

func IncPayloadSource(ctx context.Context, backend string) {
	PayloadSourceCount.Add(ctx, 1, otelapi.WithAttributes(attribute.String("backend", backend)))
}

func IncPayloadStoreEviction(ctx context.Context) {
	PayloadStoreEvictionCount.Add(ctx, 1)
}
