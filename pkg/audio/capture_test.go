package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/verbalis/verbalis/pkg/provider/vad"
)

// scriptedDevice delivers a fixed frame sequence and then closes its stream.
// drained is closed once every frame has been handed to the consumer; tests
// wait on it before calling Stop so no frame is cut off mid-stream.
type scriptedDevice struct {
	frames  []AudioFrame
	drained chan struct{}
}

func newScriptedDevice(frames []AudioFrame) *scriptedDevice {
	return &scriptedDevice{frames: frames, drained: make(chan struct{})}
}

func (d *scriptedDevice) Open(ctx context.Context, cfg DeviceConfig) (Stream, error) {
	s := &scriptedStream{frames: make(chan AudioFrame), closed: make(chan struct{})}
	go func() {
		defer close(s.frames)
		defer close(d.drained)
		for _, f := range d.frames {
			select {
			case s.frames <- f:
			case <-s.closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}

type scriptedStream struct {
	frames    chan AudioFrame
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *scriptedStream) Frames() <-chan AudioFrame { return s.frames }

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// loudnessVAD classifies a frame as voiced when any sample is non-zero.
type loudnessVAD struct{}

func (loudnessVAD) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return loudnessSession{}, nil
}

type loudnessSession struct{}

func (loudnessSession) ProcessFrame(frame []byte) (vad.Decision, error) {
	for _, b := range frame {
		if b != 0 {
			return vad.Decision{Voiced: true, Probability: 1}, nil
		}
	}
	return vad.Decision{}, nil
}

func (loudnessSession) Reset()       {}
func (loudnessSession) Close() error { return nil }

// collectSink records dispatched segments.
type collectSink struct {
	mu   sync.Mutex
	segs []Segment
}

func (c *collectSink) DispatchSegment(_ context.Context, seg Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, seg)
	return nil
}

func (c *collectSink) segments() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Segment(nil), c.segs...)
}

func TestCapturePipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	// 5 voiced frames followed by silence; the stream then ends, so the
	// trailing utterance is flushed as the final segment.
	voiced := []bool{true, true, true, true, true, false, false}
	device := newScriptedDevice(frameSeq(t, voiced))
	sink := &collectSink{}

	p, err := NewCapturePipeline(CaptureConfig{
		Segmenter: SegmenterConfig{
			StartFrames:      2,
			EndSilenceFrames: 5,
			MinSegment:       200 * time.Millisecond,
		},
	}, device, loudnessVAD{}, sink, nil)
	if err != nil {
		t.Fatalf("NewCapturePipeline: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsActive() {
		t.Error("IsActive = false after Start")
	}

	// Let the scripted stream deliver everything, then stop. Stop waits for
	// the run loop to exit and for segment dispatch to finish.
	<-device.drained
	p.Stop()

	segs := sink.segments()
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1 flushed utterance", len(segs))
	}
	if want := 700 * time.Millisecond; segs[0].Duration != want {
		t.Errorf("Duration = %v, want %v", segs[0].Duration, want)
	}
	if p.IsActive() {
		t.Error("IsActive = true after Stop")
	}
}

func TestCapturePipeline_StartTwiceFails(t *testing.T) {
	t.Parallel()

	device := newScriptedDevice(nil)
	p, err := NewCapturePipeline(CaptureConfig{}, device, loudnessVAD{}, &collectSink{}, nil)
	if err != nil {
		t.Fatalf("NewCapturePipeline: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestCapturePipeline_NilCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewCapturePipeline(CaptureConfig{}, nil, loudnessVAD{}, &collectSink{}, nil); err == nil {
		t.Error("nil device accepted")
	}
	if _, err := NewCapturePipeline(CaptureConfig{}, newScriptedDevice(nil), nil, &collectSink{}, nil); err == nil {
		t.Error("nil engine accepted")
	}
	if _, err := NewCapturePipeline(CaptureConfig{}, newScriptedDevice(nil), loudnessVAD{}, nil, nil); err == nil {
		t.Error("nil sink accepted")
	}
}

func TestCapturePipeline_FrameHookSeesEveryFrame(t *testing.T) {
	t.Parallel()

	voiced := []bool{true, false, true, false}
	device := newScriptedDevice(frameSeq(t, voiced))
	sink := &collectSink{}

	p, err := NewCapturePipeline(CaptureConfig{}, device, loudnessVAD{}, sink, nil)
	if err != nil {
		t.Fatalf("NewCapturePipeline: %v", err)
	}

	var mu sync.Mutex
	var statuses []FrameStatus
	p.SetFrameHook(func(st FrameStatus) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-device.drained
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != len(voiced) {
		t.Fatalf("frame hook calls = %d, want %d", len(statuses), len(voiced))
	}
	for i, st := range statuses {
		if st.Voiced != voiced[i] {
			t.Errorf("frame %d voiced = %v, want %v", i, st.Voiced, voiced[i])
		}
	}
}
