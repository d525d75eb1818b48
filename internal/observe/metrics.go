// Package observe provides application-wide observability primitives for
// verbalis: OpenTelemetry metrics, tracing helpers, and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all verbalis metrics.
const meterName = "github.com/verbalis/verbalis"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SegmentDuration tracks the audio length of emitted speech segments.
	SegmentDuration metric.Float64Histogram

	// STTDuration tracks segment-dispatch-to-final-transcript latency.
	STTDuration metric.Float64Histogram

	// TurnDuration tracks turn-submit-to-completion latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsEmitted counts segments handed to the STT session.
	SegmentsEmitted metric.Int64Counter

	// SegmentsDropped counts segments discarded for being under the minimum
	// duration.
	SegmentsDropped metric.Int64Counter

	// TranscriptionEvents counts canonical transcription events. Use with:
	//   attribute.String("kind", ...)
	TranscriptionEvents metric.Int64Counter

	// Turns counts conversation turns by outcome. Use with:
	//   attribute.String("outcome", "completed"|"aborted"|"failed")
	Turns metric.Int64Counter

	// FallbackRetries counts multimodal-fallback retries.
	FallbackRetries metric.Int64Counter

	// Interruptions counts speech onsets that interrupted assistant output.
	Interruptions metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live STT sessions.
	ActiveSessions metric.Int64UpDownCounter

	// CaptureActive tracks whether audio capture is running (0 or 1 per
	// pipeline).
	CaptureActive metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("verbalis.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("verbalis.stt.duration",
		metric.WithDescription("Latency from segment dispatch to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("verbalis.turn.duration",
		metric.WithDescription("Latency from turn submission to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsEmitted, err = m.Int64Counter("verbalis.segments.emitted",
		metric.WithDescription("Total speech segments handed to the STT session."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("verbalis.segments.dropped",
		metric.WithDescription("Total segments discarded below the minimum duration."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionEvents, err = m.Int64Counter("verbalis.transcription.events",
		metric.WithDescription("Total canonical transcription events by kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("verbalis.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FallbackRetries, err = m.Int64Counter("verbalis.fallback.retries",
		metric.WithDescription("Total multimodal-fallback retries."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("verbalis.interruptions",
		metric.WithDescription("Total speech onsets that interrupted assistant output."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("verbalis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("verbalis.active_sessions",
		metric.WithDescription("Number of live STT sessions."),
	); err != nil {
		return nil, err
	}
	if met.CaptureActive, err = m.Int64UpDownCounter("verbalis.capture_active",
		metric.WithDescription("Whether audio capture is running."),
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

// RecordSegment records one emitted segment with its audio duration.
func (m *Metrics) RecordSegment(ctx context.Context, d time.Duration) {
	m.SegmentsEmitted.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, d.Seconds())
}

// RecordTranscriptionEvent increments the event counter for one canonical
// event kind ("interim", "final", "status", "error").
func (m *Metrics) RecordTranscriptionEvent(ctx context.Context, kind string) {
	m.TranscriptionEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTurn records one finished turn with its outcome and duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.TurnDuration.Record(ctx, d.Seconds())
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
