package audio

import (
	"testing"
	"time"
)

// frameSeq builds consecutive 100 ms mono frames at 16 kHz. Voiced frames
// carry a constant non-zero sample, silent frames are all zero.
func frameSeq(t *testing.T, voiced []bool) []AudioFrame {
	t.Helper()
	const frameBytes = 16000 * 2 / 10 // 100 ms mono PCM16

	frames := make([]AudioFrame, len(voiced))
	for i, v := range voiced {
		data := make([]byte, frameBytes)
		if v {
			for j := 0; j < frameBytes; j += 2 {
				data[j] = 0x00
				data[j+1] = 0x20 // 8192, comfortably audible
			}
		}
		frames[i] = AudioFrame{
			Data:       data,
			SampleRate: 16000,
			Channels:   1,
			Timestamp:  time.Duration(i) * 100 * time.Millisecond,
		}
	}
	return frames
}

// feed runs the frames through the segmenter using the voiced flags directly
// and collects every finalized segment.
func feed(s *Segmenter, frames []AudioFrame, voiced []bool) []*Segment {
	var segs []*Segment
	for i, f := range frames {
		if _, seg := s.Process(f, voiced[i], 0.5); seg != nil {
			segs = append(segs, seg)
		}
	}
	return segs
}

func TestSegmenter_SingleBlipIsDiscarded(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{StartFrames: 2, EndSilenceFrames: 3})
	voiced := []bool{true, false, false, false, false}
	segs := feed(s, frameSeq(t, voiced), voiced)

	if len(segs) != 0 {
		t.Fatalf("segments = %d, want 0 for a one-frame blip", len(segs))
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", s.State())
	}
	if s.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0 (blip never became a segment)", s.Dropped())
	}
}

func TestSegmenter_BasicUtterance(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{
		StartFrames:      2,
		EndSilenceFrames: 3,
		MinSegment:       200 * time.Millisecond,
	})
	voiced := []bool{true, true, true, true, true, false, false, false}
	segs := feed(s, frameSeq(t, voiced), voiced)

	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	seg := segs[0]

	// The segment starts at speech onset, not at the frame that crossed the
	// start threshold.
	if seg.Start != 0 {
		t.Errorf("Start = %v, want 0", seg.Start)
	}
	// 5 voiced + 3 trailing silence frames, 100 ms each.
	if want := 800 * time.Millisecond; seg.Duration != want {
		t.Errorf("Duration = %v, want %v", seg.Duration, want)
	}
	if s.State() != StateIdle {
		t.Errorf("state after finalize = %v, want IDLE", s.State())
	}
}

func TestSegmenter_MinDurationDrop(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{
		StartFrames:      2,
		EndSilenceFrames: 2,
		MinSegment:       time.Second,
	})
	voiced := []bool{true, true, false, false}
	segs := feed(s, frameSeq(t, voiced), voiced)

	if len(segs) != 0 {
		t.Fatalf("segments = %d, want 0 (below minimum duration)", len(segs))
	}
	if s.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", s.Dropped())
	}
}

func TestSegmenter_MaxDurationForceFinalize(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{
		StartFrames:      2,
		EndSilenceFrames: 3,
		MinSegment:       100 * time.Millisecond,
		MaxSegment:       time.Second,
	})

	// 15 voiced frames then enough silence to close the tail segment.
	voiced := make([]bool, 18)
	for i := 0; i < 15; i++ {
		voiced[i] = true
	}
	segs := feed(s, frameSeq(t, voiced), voiced)

	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2 (cap split + tail)", len(segs))
	}

	// The frame that tripped the cap belongs to the first segment.
	if want := time.Second; segs[0].Duration != want {
		t.Errorf("capped Duration = %v, want %v", segs[0].Duration, want)
	}
	// The follow-up segment starts empty and accumulates from the next frame.
	if want := time.Second; segs[1].Start != want {
		t.Errorf("tail Start = %v, want %v", segs[1].Start, want)
	}
	// 5 remaining voiced frames + 3 trailing silence frames.
	if want := 800 * time.Millisecond; segs[1].Duration != want {
		t.Errorf("tail Duration = %v, want %v", segs[1].Duration, want)
	}
}

func TestSegmenter_OnsetHook(t *testing.T) {
	t.Parallel()

	t.Run("fires once per onset while assistant speaks", func(t *testing.T) {
		t.Parallel()

		s := NewSegmenter(SegmenterConfig{StartFrames: 1, EndSilenceFrames: 5})
		var fired int
		s.SetOnsetHook(func() { fired++ })
		s.SetAssistantSpeaking(true)

		// First voiced frame fires the hook.
		voiced := []bool{true, true, true}
		feed(s, frameSeq(t, voiced), voiced)
		if fired != 1 {
			t.Fatalf("fired = %d after continuous voice, want 1", fired)
		}

		// A dip into silence candidate and a voice resume is a fresh onset.
		resume := []bool{false, true}
		feed(s, frameSeq(t, resume), resume)
		if fired != 2 {
			t.Errorf("fired = %d after resume, want 2", fired)
		}
	})

	t.Run("silent while assistant is not speaking", func(t *testing.T) {
		t.Parallel()

		s := NewSegmenter(SegmenterConfig{StartFrames: 1})
		var fired int
		s.SetOnsetHook(func() { fired++ })

		voiced := []bool{true, true}
		feed(s, frameSeq(t, voiced), voiced)
		if fired != 0 {
			t.Errorf("fired = %d, want 0 without assistant speech", fired)
		}
	})

	t.Run("runs before onset samples are buffered", func(t *testing.T) {
		t.Parallel()

		s := NewSegmenter(SegmenterConfig{StartFrames: 1})
		var bufLenAtOnset = -1
		s.SetOnsetHook(func() { bufLenAtOnset = len(s.buf) + len(s.pending) })
		s.SetAssistantSpeaking(true)

		voiced := []bool{true}
		feed(s, frameSeq(t, voiced), voiced)
		if bufLenAtOnset != 0 {
			t.Errorf("buffered data at onset = %d, want 0", bufLenAtOnset)
		}
	})
}

func TestSegmenter_Flush(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{
		StartFrames:      2,
		EndSilenceFrames: 5,
		MinSegment:       200 * time.Millisecond,
	})

	if seg := s.Flush(); seg != nil {
		t.Fatalf("Flush while idle = %+v, want nil", seg)
	}

	voiced := []bool{true, true, true}
	feed(s, frameSeq(t, voiced), voiced)

	seg := s.Flush()
	if seg == nil {
		t.Fatal("Flush during active speech = nil, want segment")
	}
	if want := 300 * time.Millisecond; seg.Duration != want {
		t.Errorf("Duration = %v, want %v", seg.Duration, want)
	}
	if s.State() != StateIdle {
		t.Errorf("state after Flush = %v, want IDLE", s.State())
	}
}

func TestSegmenter_EmptyFrameIsSilence(t *testing.T) {
	t.Parallel()

	s := NewSegmenter(SegmenterConfig{StartFrames: 1, EndSilenceFrames: 1, MinSegment: time.Millisecond})

	status, _ := s.Process(AudioFrame{SampleRate: 16000, Channels: 1}, true, 0.9)
	if status.Voiced {
		t.Error("empty frame classified as voiced, want silence")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", s.State())
	}
}
