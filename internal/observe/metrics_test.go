package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectMetrics flushes the reader and indexes the scope metrics by name.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data type = %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	met, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	met.RecordSegment(ctx, 800*time.Millisecond)
	met.RecordSegment(ctx, 1200*time.Millisecond)
	met.RecordTranscriptionEvent(ctx, "final")
	met.RecordTurn(ctx, "completed", 2*time.Second)
	met.RecordProviderError(ctx, "deepgram", "stt")
	met.ActiveSessions.Add(ctx, 1)
	met.ActiveSessions.Add(ctx, -1)

	got := collectMetrics(t, reader)

	if v := counterValue(t, got["verbalis.segments.emitted"]); v != 2 {
		t.Errorf("segments emitted = %d, want 2", v)
	}
	if v := counterValue(t, got["verbalis.transcription.events"]); v != 1 {
		t.Errorf("transcription events = %d, want 1", v)
	}
	if v := counterValue(t, got["verbalis.turns"]); v != 1 {
		t.Errorf("turns = %d, want 1", v)
	}
	if v := counterValue(t, got["verbalis.provider.errors"]); v != 1 {
		t.Errorf("provider errors = %d, want 1", v)
	}
	if v := counterValue(t, got["verbalis.active_sessions"]); v != 0 {
		t.Errorf("active sessions = %d, want 0 after add/remove", v)
	}

	hist, ok := got["verbalis.segment.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("segment duration data type = %T", got["verbalis.segment.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("segment duration observations = %d, want 2", count)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
