package audio

import (
	"math"
	"testing"
)

// constFrame returns a frame whose samples all carry the given int16 value.
func constFrame(sample int16, n int) AudioFrame {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

func TestRMS16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sample int16
		want   float64
	}{
		{"silence", 0, 0},
		{"half scale", 16384, 0.5},
		{"quarter scale", 8192, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RMS16(constFrame(tt.sample, 160).Data)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS16 = %v, want %v", got, tt.want)
			}
		})
	}

	if got := RMS16(nil); got != 0 {
		t.Errorf("RMS16(nil) = %v, want 0", got)
	}
}

func TestLevelMeter_SilenceReadsZero(t *testing.T) {
	t.Parallel()

	m := NewLevelMeter(LevelMeterConfig{})
	for i := 0; i < 20; i++ {
		if got := m.Observe(constFrame(0, 160)); got != 0 {
			t.Fatalf("level for silence = %v, want 0", got)
		}
	}
}

func TestLevelMeter_EmptyFrame(t *testing.T) {
	t.Parallel()

	m := NewLevelMeter(LevelMeterConfig{})
	if got := m.Observe(AudioFrame{}); got != 0 {
		t.Errorf("level for empty frame = %v, want 0", got)
	}
}

func TestLevelMeter_FirstLoudFrame(t *testing.T) {
	t.Parallel()

	// Half scale RMS (0.5) is far above MaxLevel, so the instantaneous level
	// clamps to 1. With one history entry the first smoothed value is exactly
	// the smoothing factor.
	m := NewLevelMeter(LevelMeterConfig{Smoothing: 0.3})
	got := m.Observe(constFrame(16384, 160))
	if math.Abs(got-0.3) > 1e-9 {
		t.Errorf("first smoothed level = %v, want 0.3", got)
	}
}

func TestLevelMeter_BelowNoiseFloorClampsToZero(t *testing.T) {
	t.Parallel()

	// RMS of sample 64 is about 0.002, below the default 0.01 noise floor.
	m := NewLevelMeter(LevelMeterConfig{})
	if got := m.Observe(constFrame(64, 160)); got != 0 {
		t.Errorf("level below noise floor = %v, want 0", got)
	}
}

func TestLevelMeter_ConvergesToOne(t *testing.T) {
	t.Parallel()

	m := NewLevelMeter(LevelMeterConfig{})
	var got float64
	for i := 0; i < 200; i++ {
		got = m.Observe(constFrame(16384, 160))
	}
	if got < 0.99 || got > 1.0 {
		t.Errorf("steady-state level = %v, want ~1", got)
	}
}
