package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/verbalis/verbalis/pkg/audio"
	"github.com/verbalis/verbalis/pkg/provider/stt"
)

// Session owns one live STT adapter session and its Normalizer. It drains the
// adapter's raw message channel on a dedicated goroutine and emits canonical
// TranscriptionEvents, and it implements audio.SegmentSink so the capture
// pipeline can hand finalized segments straight to it.
type Session struct {
	handle stt.SessionHandle
	norm   *Normalizer
	cfg    stt.SessionConfig
	log    *slog.Logger

	events chan TranscriptionEvent

	listening atomic.Bool
	stopping  atomic.Bool
	closeOnce sync.Once
	drained   chan struct{}
}

// Compile-time assertion.
var _ audio.SegmentSink = (*Session)(nil)

// NewSession opens an STT session with the given provider and starts the
// event drain. The first event on Events is StatusChanged(ready).
func NewSession(ctx context.Context, provider stt.Provider, cfg stt.SessionConfig, log *slog.Logger, opts ...NormalizerOption) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	norm, err := NewNormalizer(provider.Name(), opts...)
	if err != nil {
		return nil, err
	}

	handle, err := provider.StartSession(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voice: start %s session: %w", provider.Name(), err)
	}

	s := &Session{
		handle:  handle,
		norm:    norm,
		cfg:     cfg,
		log:     log.With("stt", provider.Name()),
		events:  make(chan TranscriptionEvent, 32),
		drained: make(chan struct{}),
	}

	s.events <- TranscriptionEvent{Kind: EventStatusChanged, Status: StatusReady}
	go s.drain()

	return s, nil
}

// Events returns the canonical transcription event stream. The channel is
// closed after the terminal StatusChanged event: stopped when the session
// ended via Close, disconnected when the transport dropped.
func (s *Session) Events() <-chan TranscriptionEvent { return s.events }

// DispatchSegment implements audio.SegmentSink: it converts one finalized
// speech segment into the adapter payload and sends it for transcription.
func (s *Session) DispatchSegment(_ context.Context, seg audio.Segment) error {
	if len(seg.Data) == 0 {
		return nil
	}

	if s.listening.CompareAndSwap(false, true) {
		s.emit(TranscriptionEvent{Kind: EventStatusChanged, Status: StatusListening})
	}

	payload := stt.Payload{
		PCM:      seg.Data,
		Base64:   audio.EncodePCM16Base64(seg.Data),
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", seg.SampleRate),
	}
	if err := s.handle.SendRealtimeInput(payload); err != nil {
		return fmt.Errorf("voice: send segment: %w", err)
	}

	s.log.Debug("segment dispatched",
		"duration", seg.Duration,
		"bytes", len(seg.Data))
	return nil
}

// Close releases the adapter. Idempotent; the terminal StatusChanged event is
// emitted exactly once, stopped here rather than disconnected because the end
// was requested.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		if err := s.handle.Close(); err != nil {
			s.log.Warn("closing stt session", "error", err)
		}
	})
	<-s.drained
	return nil
}

// drain pumps raw adapter messages through the normalizer until the adapter's
// channel closes, then emits the terminal status.
func (s *Session) drain() {
	defer close(s.events)
	defer close(s.drained)

	for raw := range s.handle.Messages() {
		ev := s.norm.OnRawMessage(raw)
		if ev == nil {
			continue
		}
		if ev.Kind == EventError {
			s.log.Error("transcription error", "error", ev.Err)
		}
		s.emit(*ev)
	}

	s.norm.Reset()
	terminal := StatusDisconnected
	if s.stopping.Load() {
		terminal = StatusStopped
	}
	s.emit(TranscriptionEvent{Kind: EventStatusChanged, Status: terminal})
}

// emit delivers an event without ever blocking the drain forever: if the
// consumer stopped reading, the oldest pending event is logged and replaced.
func (s *Session) emit(ev TranscriptionEvent) {
	select {
	case s.events <- ev:
	default:
		select {
		case dropped := <-s.events:
			s.log.Warn("event consumer lagging, dropping oldest", "kind", dropped.Kind.String())
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
