// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/cadenza-ai/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks per-utterance transcription latency, from first
	// frame fed to the final transcript.
	ASRDuration metric.Float64Histogram

	// NLUDuration tracks intent classification latency. Use with attribute:
	//   attribute.String("pass", "provisional"|"confirmed")
	NLUDuration metric.Float64Histogram

	// RespondDuration tracks response generation latency to the last
	// fragment.
	RespondDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency to the last audio chunk.
	TTSDuration metric.Float64Histogram

	// ResponseLatency tracks end-of-speech to first audio chunk, the
	// user-perceived response time.
	ResponseLatency metric.Float64Histogram

	// --- Counters ---

	// Utterances counts completed utterance cycles. Use with attribute:
	//   attribute.String("outcome", "completed"|"cancelled"|"failed")
	Utterances metric.Int64Counter

	// WakeDetections counts wake gate activations.
	WakeDetections metric.Int64Counter

	// BargeIns counts barge-in triggers. Use with attribute:
	//   attribute.String("policy", "cancel"|"reject")
	BargeIns metric.Int64Counter

	// FastPathResults counts speculative fast-path outcomes. Use with
	// attribute: attribute.String("result", "confirmed"|"mismatch"|"skipped")
	FastPathResults metric.Int64Counter

	// CacheLookups counts intent cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"fuzzy_hit"|"miss")
	CacheLookups metric.Int64Counter

	// ProviderErrors counts provider faults by provider and stage.
	ProviderErrors metric.Int64Counter

	// Fallbacks counts requests served by a non-primary provider, by stage.
	Fallbacks metric.Int64Counter

	// BackpressureStalls counts capture-side waits on a full utterance
	// buffer.
	BackpressureStalls metric.Int64Counter

	// --- Gauges ---

	// ActiveUtterances tracks in-flight utterances. The pipeline holds this
	// at most at 1; a higher reading indicates a lifecycle leak.
	ActiveUtterances metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("cadenza.asr.duration",
		metric.WithDescription("Per-utterance transcription latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NLUDuration, err = m.Float64Histogram("cadenza.nlu.duration",
		metric.WithDescription("Intent classification latency by pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RespondDuration, err = m.Float64Histogram("cadenza.respond.duration",
		metric.WithDescription("Response generation latency to the last fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("cadenza.tts.duration",
		metric.WithDescription("Synthesis latency to the last audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("cadenza.response.latency",
		metric.WithDescription("End-of-speech to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("cadenza.utterances",
		metric.WithDescription("Completed utterance cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("cadenza.wake.detections",
		metric.WithDescription("Wake gate activations."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("cadenza.barge_ins",
		metric.WithDescription("Barge-in triggers by policy."),
	); err != nil {
		return nil, err
	}
	if met.FastPathResults, err = m.Int64Counter("cadenza.fast_path.results",
		metric.WithDescription("Speculative fast-path outcomes."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("cadenza.intent_cache.lookups",
		metric.WithDescription("Intent cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cadenza.provider.errors",
		metric.WithDescription("Provider faults by provider and stage."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("cadenza.provider.fallbacks",
		metric.WithDescription("Requests served by a non-primary provider, by stage."),
	); err != nil {
		return nil, err
	}
	if met.BackpressureStalls, err = m.Int64Counter("cadenza.buffer.stalls",
		metric.WithDescription("Capture-side waits on a full utterance buffer."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveUtterances, err = m.Int64UpDownCounter("cadenza.active_utterances",
		metric.WithDescription("In-flight utterances."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadenza.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordUtterance records one completed utterance cycle.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCacheLookup records one intent cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProviderError records one provider fault.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, stage string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
		),
	)
}

// RecordFallback records one request served by a non-primary provider.
func (m *Metrics) RecordFallback(ctx context.Context, provider, stage string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
		),
	)
}
