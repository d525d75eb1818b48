// Package energy implements a dependency-free vad.Engine based on short-term
// RMS energy with hysteresis between the speech and silence thresholds.
//
// It is the default frame-level decision source for the capture pipeline and
// the reference implementation against which external probabilistic detectors
// are swapped in.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/verbalis/verbalis/pkg/provider/vad"
)

// Compile-time assertions.
var _ vad.Engine = (*Engine)(nil)
var _ vad.SessionHandle = (*session)(nil)

const (
	// defaultSpeechRMS is the RMS (normalised [0,1] scale) that maps to
	// probability 1.0. Speech at normal microphone gain sits well above it.
	defaultSpeechRMS = 0.12
)

// Engine implements vad.Engine using per-frame RMS energy.
type Engine struct {
	speechRMS float64
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithSpeechRMS sets the RMS value that maps to speech probability 1.0.
func WithSpeechRMS(rms float64) Option {
	return func(e *Engine) { e.speechRMS = rms }
}

// New creates an energy-threshold VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{speechRMS: defaultSpeechRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates a new energy VAD session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: sample rate must be positive")
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.2f out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.2f exceeds speech threshold %.2f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = 0.5
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = 0.35
	}
	return &session{
		cfg:       cfg,
		speechRMS: e.speechRMS,
		speech:    speech,
		silence:   silence,
	}, nil
}

// session holds the per-stream hysteresis state.
type session struct {
	cfg       vad.Config
	speechRMS float64
	speech    float64
	silence   float64

	mu     sync.Mutex
	active bool // previous classification, for hysteresis
	closed bool
}

// ProcessFrame classifies one PCM16 frame. Between the silence and speech
// thresholds the previous classification is retained (hysteresis band).
func (s *session) ProcessFrame(frame []byte) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Decision{}, errors.New("energy: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.Decision{}, fmt.Errorf("energy: odd PCM byte count %d", len(frame))
	}

	prob := s.probability(frame)

	switch {
	case prob >= s.speech:
		s.active = true
	case prob < s.silence:
		s.active = false
	}

	return vad.Decision{Voiced: s.active, Probability: prob}, nil
}

// probability maps frame RMS onto [0, 1] against the configured speech RMS.
func (s *session) probability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:i*2+2]))) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))
	p := rms / s.speechRMS
	if p > 1 {
		p = 1
	}
	return p
}

// Reset clears the hysteresis state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
