package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/verbalis/verbalis/pkg/provider/vad"
)

// SegmentSink receives completed speech segments from the capture pipeline.
// Dispatch happens on a background goroutine per segment; a sink error is
// logged and does not stop capture.
type SegmentSink interface {
	DispatchSegment(ctx context.Context, seg Segment) error
}

// SegmentSinkFunc adapts a function to the SegmentSink interface.
type SegmentSinkFunc func(ctx context.Context, seg Segment) error

// DispatchSegment implements SegmentSink.
func (f SegmentSinkFunc) DispatchSegment(ctx context.Context, seg Segment) error {
	return f(ctx, seg)
}

// CaptureConfig assembles the tunables of one capture pipeline.
type CaptureConfig struct {
	// Device selects and formats the input device.
	Device DeviceConfig

	// Segmenter controls utterance boundary detection.
	Segmenter SegmenterConfig

	// Meter controls the UI level computation.
	Meter LevelMeterConfig

	// VAD configures the frame-level voice decision engine.
	VAD vad.Config

	// TargetSampleRate is the rate segments are normalised to before
	// dispatch. Zero keeps the device rate.
	TargetSampleRate int
}

// CapturePipeline runs the audio hot path: device frames flow through the
// level meter, the VAD engine, and the segmenter; completed segments are
// handed to the sink in the background so transcription latency never blocks
// frame processing.
//
// All per-frame processing happens on a single goroutine owned by the
// pipeline. The exported observers (Level, State, IsActive) are safe to call
// from any goroutine.
type CapturePipeline struct {
	cfg    CaptureConfig
	device Device
	engine vad.Engine
	sink   SegmentSink
	log    *slog.Logger

	meter     *LevelMeter
	segmenter *Segmenter

	// levelBits holds the latest smoothed level as math.Float64bits.
	levelBits atomic.Uint64
	active    atomic.Bool

	// onFrame, if set, is invoked on the capture goroutine for every frame.
	onFrame func(FrameStatus)

	mu      sync.Mutex
	stream  Stream
	vadSess vad.SessionHandle
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCapturePipeline assembles a pipeline. The sink must not be nil; the
// logger may be nil, in which case slog.Default is used.
func NewCapturePipeline(cfg CaptureConfig, device Device, engine vad.Engine, sink SegmentSink, log *slog.Logger) (*CapturePipeline, error) {
	if device == nil {
		return nil, errors.New("audio: device must not be nil")
	}
	if engine == nil {
		return nil, errors.New("audio: vad engine must not be nil")
	}
	if sink == nil {
		return nil, errors.New("audio: segment sink must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CapturePipeline{
		cfg:       cfg,
		device:    device,
		engine:    engine,
		sink:      sink,
		log:       log,
		meter:     NewLevelMeter(cfg.Meter),
		segmenter: NewSegmenter(cfg.Segmenter),
	}, nil
}

// SetOnsetHook installs fn to run synchronously when speech onset is
// confirmed, before the onset frames are committed. Must be called before
// Start.
func (p *CapturePipeline) SetOnsetHook(fn func()) {
	p.segmenter.SetOnsetHook(fn)
}

// SetFrameHook installs fn to run on the capture goroutine for every
// processed frame. Must be called before Start. The hook must be fast; it
// sits on the hot path.
func (p *CapturePipeline) SetFrameHook(fn func(FrameStatus)) {
	p.onFrame = fn
}

// SetAssistantSpeaking toggles echo suppression for the onset hook while the
// assistant's own audio is playing. Safe to call from any goroutine.
func (p *CapturePipeline) SetAssistantSpeaking(speaking bool) {
	p.segmenter.SetAssistantSpeaking(speaking)
}

// Start opens the device and begins processing frames. Returns an error if
// the device cannot be acquired or the pipeline is already running.
func (p *CapturePipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return errors.New("audio: capture already running")
	}

	vadSess, err := p.engine.NewSession(p.cfg.VAD)
	if err != nil {
		return fmt.Errorf("audio: start vad session: %w", err)
	}

	stream, err := p.device.Open(ctx, p.cfg.Device)
	if err != nil {
		vadSess.Close()
		return fmt.Errorf("audio: open device: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.stream = stream
	p.vadSess = vadSess
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active.Store(true)

	go p.run(runCtx, stream, vadSess)
	return nil
}

// Stop halts capture, flushes any buffered speech as a final segment, and
// releases the device. Safe to call when not running.
func (p *CapturePipeline) Stop() {
	p.mu.Lock()
	stream := p.stream
	vadSess := p.vadSess
	cancel := p.cancel
	done := p.done
	p.stream = nil
	p.vadSess = nil
	p.cancel = nil
	p.mu.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil {
		p.log.Warn("closing capture stream", "error", err)
	}
	<-done
	vadSess.Close()
	// Let the flushed final segment reach the sink before cancelling.
	p.wg.Wait()
	cancel()
	p.active.Store(false)
}

// IsActive reports whether the pipeline is currently capturing.
func (p *CapturePipeline) IsActive() bool { return p.active.Load() }

// Level returns the latest smoothed input level in [0, 1].
func (p *CapturePipeline) Level() float64 {
	return math.Float64frombits(p.levelBits.Load())
}

// State returns the segmenter's current state. Only meaningful while active;
// reads race with the capture goroutine and are advisory (UI display).
func (p *CapturePipeline) State() SegmenterState { return p.segmenter.State() }

// Dropped returns the number of segments discarded below the minimum
// duration since the pipeline was created.
func (p *CapturePipeline) Dropped() uint64 { return p.segmenter.Dropped() }

// run is the capture hot loop. It exits when the device stream's frame
// channel is closed.
func (p *CapturePipeline) run(ctx context.Context, stream Stream, vadSess vad.SessionHandle) {
	defer close(p.done)

	for frame := range stream.Frames() {
		if p.cfg.TargetSampleRate > 0 {
			frame = Normalize(frame, p.cfg.TargetSampleRate)
		}

		level := p.meter.Observe(frame)
		p.levelBits.Store(math.Float64bits(level))

		voiced := false
		decision, err := vadSess.ProcessFrame(frame.Data)
		if err != nil {
			// A broken detector must not stall capture; an unvoiced
			// classification only delays segmentation.
			p.log.Warn("vad frame decision failed, treating as silence", "error", err)
		} else {
			voiced = decision.Voiced
		}

		status, seg := p.segmenter.Process(frame, voiced, level)
		if p.onFrame != nil {
			p.onFrame(status)
		}
		if seg != nil {
			p.dispatch(ctx, *seg)
		}
	}

	// Device closed; whatever speech is buffered becomes the last segment.
	if seg := p.segmenter.Flush(); seg != nil {
		p.dispatch(ctx, *seg)
	}
}

// dispatch hands a completed segment to the sink without blocking the hot
// loop. Sink failures are logged, never propagated.
func (p *CapturePipeline) dispatch(ctx context.Context, seg Segment) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sink.DispatchSegment(ctx, seg); err != nil {
			p.log.Error("segment dispatch failed",
				"duration", seg.Duration,
				"bytes", len(seg.Data),
				"error", err)
		}
	}()
}
