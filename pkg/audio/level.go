package audio

import (
	"encoding/binary"
	"math"
)

const (
	defaultNoiseFloor  = 0.01
	defaultMaxLevel    = 0.25
	defaultHistorySize = 10
	defaultSmoothing   = 0.3
)

// LevelMeterConfig holds the tuning parameters for a [LevelMeter].
// The zero value selects sensible defaults for 16 kHz mono speech.
type LevelMeterConfig struct {
	// NoiseFloor is the RMS value (on the normalised [0, 1] sample scale)
	// below which the level reads as zero. Default 0.01.
	NoiseFloor float64

	// MaxLevel is the RMS value that maps to a level of 1.0. Default 0.25;
	// normal speech rarely exceeds a quarter of full scale.
	MaxLevel float64

	// HistorySize is the number of recent levels averaged before smoothing.
	// Default 10.
	HistorySize int

	// Smoothing is the exponential smoothing factor α in
	// smoothed = smoothed*(1-α) + mean(history)*α. Default 0.3.
	Smoothing float64
}

// withDefaults fills zero fields with the package defaults.
func (c LevelMeterConfig) withDefaults() LevelMeterConfig {
	if c.NoiseFloor == 0 {
		c.NoiseFloor = defaultNoiseFloor
	}
	if c.MaxLevel == 0 {
		c.MaxLevel = defaultMaxLevel
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.Smoothing == 0 {
		c.Smoothing = defaultSmoothing
	}
	return c
}

// LevelMeter computes a smoothed 0–1 loudness value per audio frame.
//
// Observe never fails: an empty frame pushes a zero into the rolling history
// and yields level 0. Create one per capture stream; it is mutated only inside
// the capture loop and is not safe for concurrent use.
type LevelMeter struct {
	cfg      LevelMeterConfig
	history  []float64
	next     int
	filled   int
	smoothed float64
}

// NewLevelMeter creates a meter with the given config (zero value = defaults).
func NewLevelMeter(cfg LevelMeterConfig) *LevelMeter {
	cfg = cfg.withDefaults()
	return &LevelMeter{
		cfg:     cfg,
		history: make([]float64, cfg.HistorySize),
	}
}

// Observe processes one frame and returns the smoothed loudness in [0, 1].
func (m *LevelMeter) Observe(frame AudioFrame) float64 {
	if len(frame.Data) < 2 {
		m.push(0)
		return 0
	}

	rms := RMS16(frame.Data)

	// Rescale between the noise floor and the expected maximum, clamped.
	level := (rms - m.cfg.NoiseFloor) / (m.cfg.MaxLevel - m.cfg.NoiseFloor)
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}

	m.push(level)

	mean := 0.0
	for i := range m.filled {
		mean += m.history[i]
	}
	mean /= float64(m.filled)

	m.smoothed = m.smoothed*(1-m.cfg.Smoothing) + mean*m.cfg.Smoothing
	return m.smoothed
}

// push appends a level to the fixed-size rolling history.
func (m *LevelMeter) push(level float64) {
	m.history[m.next] = level
	m.next = (m.next + 1) % len(m.history)
	if m.filled < len(m.history) {
		m.filled++
	}
}

// RMS16 computes the root-mean-square of little-endian PCM16 data on the
// normalised [0, 1] scale. A trailing odd byte is ignored.
func RMS16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
