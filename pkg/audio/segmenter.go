package audio

import (
	"sync/atomic"
	"time"
)

// SegmenterState enumerates the states of the segmentation state machine.
type SegmenterState int

const (
	// StateIdle means no speech is being tracked.
	StateIdle SegmenterState = iota

	// StateVoiceCandidate means voice frames are accumulating towards the
	// start threshold; the segment is not yet committed.
	StateVoiceCandidate

	// StateActiveSpeech means an utterance is being buffered.
	StateActiveSpeech

	// StateSilenceCandidate means silence frames are accumulating towards the
	// end threshold while the utterance buffer keeps growing.
	StateSilenceCandidate
)

// String returns the human-readable state name.
func (s SegmenterState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateVoiceCandidate:
		return "VOICE_CANDIDATE"
	case StateActiveSpeech:
		return "ACTIVE_SPEECH"
	case StateSilenceCandidate:
		return "SILENCE_CANDIDATE"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultStartFrames      = 2
	defaultEndSilenceFrames = 5
	defaultMinSegment       = 500 * time.Millisecond
	defaultMaxSegment       = 30 * time.Second
)

// SegmenterConfig holds the hysteresis thresholds for a [Segmenter].
// The zero value selects the package defaults (2 start frames, 5 end-silence
// frames, 500 ms minimum, 30 s hard cap).
type SegmenterConfig struct {
	// StartFrames is the number of consecutive voiced frames required before
	// a candidate becomes active speech. Default 2 (≈200 ms at 100 ms chunks).
	StartFrames int

	// EndSilenceFrames is the number of consecutive unvoiced frames that end
	// an active utterance. Default 5 (≈500 ms at 100 ms chunks).
	EndSilenceFrames int

	// MinSegment is the minimum duration for an emitted segment; shorter
	// segments are dropped (counted, not emitted). Default 500 ms.
	MinSegment time.Duration

	// MaxSegment is the hard duration cap. A segment reaching it is
	// force-finalized regardless of voice state. Default 30 s.
	MaxSegment time.Duration
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.StartFrames == 0 {
		c.StartFrames = defaultStartFrames
	}
	if c.EndSilenceFrames == 0 {
		c.EndSilenceFrames = defaultEndSilenceFrames
	}
	if c.MinSegment == 0 {
		c.MinSegment = defaultMinSegment
	}
	if c.MaxSegment == 0 {
		c.MaxSegment = defaultMaxSegment
	}
	return c
}

// Segmenter turns a per-frame voice/no-voice stream into bounded speech
// segments using onset/offset hysteresis.
//
// Process is called once per capture frame, strictly from the capture loop;
// the state machine has a single writer. The only cross-goroutine input is
// the assistant-speaking flag, which may be toggled from the orchestrator.
type Segmenter struct {
	cfg SegmenterConfig

	state      SegmenterState
	voiceRun   int
	silenceRun int

	// pending holds candidate frames from the first voiced frame onward, so
	// that a committed segment starts at speech onset rather than at the
	// frame that crossed the start threshold.
	pending      []AudioFrame
	pendingStart time.Duration

	buf        []byte
	bufStart   time.Duration
	sampleRate int
	channels   int

	// onsetSignalled guards the interruption hook: it must fire once per
	// speech onset, not once per voiced frame.
	onsetSignalled bool

	assistantSpeaking atomic.Bool
	onOnset           func()

	dropped uint64
}

// NewSegmenter creates a segmenter with the given config (zero value = defaults).
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// SetOnsetHook registers fn to be invoked synchronously when a new speech
// onset is detected while the assistant-speaking flag is set. The hook runs
// before the onset frame's samples are buffered.
func (s *Segmenter) SetOnsetHook(fn func()) {
	s.onOnset = fn
}

// SetAssistantSpeaking records whether assistant speech output is currently
// playing. Safe to call from any goroutine.
func (s *Segmenter) SetAssistantSpeaking(speaking bool) {
	s.assistantSpeaking.Store(speaking)
}

// State returns the current state machine state. Intended for tests.
func (s *Segmenter) State() SegmenterState { return s.state }

// Dropped returns the number of segments discarded for being shorter than
// the configured minimum.
func (s *Segmenter) Dropped() uint64 { return s.dropped }

// Process advances the state machine by one frame. It returns the realtime
// feedback pair for this frame and, when an utterance was finalized by this
// frame, the completed segment. Frames with no PCM data are treated as silence.
func (s *Segmenter) Process(frame AudioFrame, voiced bool, level float64) (FrameStatus, *Segment) {
	if len(frame.Data) == 0 {
		voiced = false
	}
	status := FrameStatus{Voiced: voiced, Level: level}

	var finalized *Segment

	switch s.state {
	case StateIdle:
		if voiced {
			s.signalOnset()
			s.state = StateVoiceCandidate
			s.voiceRun = 1
			s.pending = append(s.pending[:0], frame)
			s.pendingStart = frame.Timestamp
			s.maybePromote()
		}

	case StateVoiceCandidate:
		if !voiced {
			// Spurious blip: abandon the candidate.
			s.state = StateIdle
			s.voiceRun = 0
			s.pending = s.pending[:0]
			s.onsetSignalled = false
			break
		}
		s.voiceRun++
		s.pending = append(s.pending, frame)
		s.maybePromote()

	case StateActiveSpeech:
		s.appendFrame(frame)
		if !voiced {
			s.state = StateSilenceCandidate
			s.silenceRun = 1
			// A voice resume after this point is a fresh onset.
			s.onsetSignalled = false
		}
		finalized = s.checkMaxDuration(voiced)

	case StateSilenceCandidate:
		if voiced {
			s.signalOnset()
			s.state = StateActiveSpeech
			s.silenceRun = 0
			s.appendFrame(frame)
			finalized = s.checkMaxDuration(voiced)
			break
		}
		s.appendFrame(frame)
		s.silenceRun++
		if s.silenceRun >= s.cfg.EndSilenceFrames {
			finalized = s.finalize()
		} else {
			finalized = s.checkMaxDuration(voiced)
		}
	}

	return status, finalized
}

// Flush finalizes any in-progress segment, applying the usual minimum-duration
// check. Called when capture stops.
func (s *Segmenter) Flush() *Segment {
	switch s.state {
	case StateActiveSpeech, StateSilenceCandidate:
		return s.finalize()
	default:
		s.reset()
		return nil
	}
}

// maybePromote commits the pending candidate frames into an active segment
// once the start threshold is reached.
func (s *Segmenter) maybePromote() {
	if s.voiceRun < s.cfg.StartFrames {
		return
	}
	s.state = StateActiveSpeech
	s.buf = s.buf[:0]
	s.bufStart = s.pendingStart
	for _, f := range s.pending {
		s.appendFrame(f)
	}
	s.pending = s.pending[:0]
	s.voiceRun = 0
}

func (s *Segmenter) appendFrame(frame AudioFrame) {
	if len(s.buf) == 0 {
		s.bufStart = frame.Timestamp
		s.sampleRate = frame.SampleRate
		s.channels = frame.Channels
	}
	s.buf = append(s.buf, frame.Data...)
}

// bufDuration returns the accumulated duration of the current buffer.
func (s *Segmenter) bufDuration() time.Duration {
	if s.sampleRate <= 0 || s.channels <= 0 {
		return 0
	}
	samples := len(s.buf) / (2 * s.channels)
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

// checkMaxDuration force-finalizes the current segment once it reaches the
// hard cap. The frame that tripped the cap belongs to the finalized segment;
// if voice is still present, a new empty segment begins immediately under the
// same run (accumulating from the next frame).
func (s *Segmenter) checkMaxDuration(voiced bool) *Segment {
	if s.bufDuration() < s.cfg.MaxSegment {
		return nil
	}
	seg := s.take()
	if voiced {
		s.state = StateActiveSpeech
		s.silenceRun = 0
	} else {
		s.state = StateIdle
		s.onsetSignalled = false
	}
	return seg
}

// finalize ends the current segment normally and resets to Idle. Segments
// shorter than the minimum are dropped (counted, nil returned).
func (s *Segmenter) finalize() *Segment {
	seg := s.take()
	s.reset()
	if seg != nil && seg.Duration < s.cfg.MinSegment {
		s.dropped++
		return nil
	}
	return seg
}

// take detaches the current buffer as a Segment value, leaving the buffer empty.
func (s *Segmenter) take() *Segment {
	if len(s.buf) == 0 {
		return nil
	}
	data := make([]byte, len(s.buf))
	copy(data, s.buf)
	seg := &Segment{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Start:      s.bufStart,
		Duration:   s.bufDuration(),
	}
	s.buf = s.buf[:0]
	return seg
}

func (s *Segmenter) reset() {
	s.state = StateIdle
	s.voiceRun = 0
	s.silenceRun = 0
	s.pending = s.pending[:0]
	s.buf = s.buf[:0]
	s.onsetSignalled = false
}

// signalOnset fires the interruption hook exactly once per speech onset while
// assistant speech output is active. It runs before any sample of the onset
// frame is buffered.
func (s *Segmenter) signalOnset() {
	if s.onsetSignalled {
		return
	}
	s.onsetSignalled = true
	if s.onOnset != nil && s.assistantSpeaking.Load() {
		s.onOnset()
	}
}
