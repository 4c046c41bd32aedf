// Package observe provides application-wide observability primitives for
// roamfit: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all roamfit metrics.
const meterName = "github.com/roamfit/roamfit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per orchestration stage ---

	// CycleDuration tracks end-to-end coordination cycle latency.
	CycleDuration metric.Float64Histogram

	// AdapterDuration tracks single capability invocation latency.
	AdapterDuration metric.Float64Histogram

	// OperationCallDuration tracks individual capability operation call latency.
	OperationCallDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// Cycles counts coordination cycles. Use with attributes:
	//   attribute.String("status", ...) — "finalized", "partial", or "failed"
	Cycles metric.Int64Counter

	// AdapterErrors counts invocation failures. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("kind", ...)
	AdapterErrors metric.Int64Counter

	// LLMRequests counts LLM completions. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// LLMTokens counts consumed tokens. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("direction", ...) — "prompt" or "completion"
	LLMTokens metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Cycles
// span multiple LLM round trips, so the upper buckets reach into minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CycleDuration, err = m.Float64Histogram("roamfit.cycle.duration",
		metric.WithDescription("End-to-end coordination cycle latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AdapterDuration, err = m.Float64Histogram("roamfit.adapter.duration",
		metric.WithDescription("Latency of single capability invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OperationCallDuration, err = m.Float64Histogram("roamfit.operation_call.duration",
		metric.WithDescription("Latency of individual capability operation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("roamfit.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Cycles, err = m.Int64Counter("roamfit.cycles",
		metric.WithDescription("Total coordination cycles by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("roamfit.adapter.errors",
		metric.WithDescription("Total invocation failures by capability and kind."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("roamfit.llm.requests",
		metric.WithDescription("Total LLM completions by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("roamfit.llm.tokens",
		metric.WithDescription("Total tokens consumed by provider and direction."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("roamfit.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("roamfit.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCycle records one finished coordination cycle.
func (m *Metrics) RecordCycle(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, seconds, attrs)
}

// RecordAdapterError records an invocation failure.
func (m *Metrics) RecordAdapterError(ctx context.Context, capability, kind string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("kind", kind),
		),
	)
}

// RecordLLMRequest records one LLM completion with its latency and token
// usage.
func (m *Metrics) RecordLLMRequest(ctx context.Context, provider, status string, seconds float64, promptTokens, completionTokens int) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.LLMRequests.Add(ctx, 1, attrs)
	m.LLMDuration.Record(ctx, seconds, attrs)
	if promptTokens > 0 {
		m.LLMTokens.Add(ctx, int64(promptTokens), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("direction", "prompt"),
		))
	}
	if completionTokens > 0 {
		m.LLMTokens.Add(ctx, int64(completionTokens), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("direction", "completion"),
		))
	}
}
