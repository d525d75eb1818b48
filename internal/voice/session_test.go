package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/verbalis/verbalis/pkg/audio"
	"github.com/verbalis/verbalis/pkg/provider/stt"
)

// fakeSTT is a scriptable stt.Provider for session tests.
type fakeSTT struct {
	name     string
	startErr error
	handle   *fakeHandle
}

func (f *fakeSTT) Name() string { return f.name }

func (f *fakeSTT) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.SessionHandle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.handle == nil {
		f.handle = newFakeHandle()
	}
	return f.handle, nil
}

type fakeHandle struct {
	mu       sync.Mutex
	payloads []stt.Payload
	sendErr  error

	messages  chan stt.RawMessage
	closeOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{messages: make(chan stt.RawMessage, 16)}
}

func (h *fakeHandle) SendRealtimeInput(p stt.Payload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.payloads = append(h.payloads, p)
	return nil
}

func (h *fakeHandle) Messages() <-chan stt.RawMessage { return h.messages }

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() { close(h.messages) })
	return nil
}

// push injects a raw provider message.
func (h *fakeHandle) push(data string) {
	h.messages <- stt.RawMessage{Data: []byte(data)}
}

func (h *fakeHandle) sent() []stt.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stt.Payload(nil), h.payloads...)
}

// waitEvent reads the next event with a timeout so a broken session fails the
// test instead of hanging it.
func waitEvent(t *testing.T, s *Session) TranscriptionEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return TranscriptionEvent{}
}

func TestSession_Lifecycle(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "deepgram"}
	s, err := NewSession(context.Background(), provider, stt.SessionConfig{SampleRate: 16000, Channels: 1}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if ev := waitEvent(t, s); ev.Kind != EventStatusChanged || ev.Status != StatusReady {
		t.Fatalf("first event = %+v, want ready", ev)
	}

	// Dispatching the first segment flips the session to listening.
	seg := audio.Segment{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, Channels: 1}
	if err := s.DispatchSegment(context.Background(), seg); err != nil {
		t.Fatalf("DispatchSegment: %v", err)
	}
	if ev := waitEvent(t, s); ev.Status != StatusListening {
		t.Fatalf("event = %+v, want listening", ev)
	}

	// The payload carries every transport representation.
	sent := provider.handle.sent()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}
	if string(sent[0].PCM) != string(seg.Data) {
		t.Error("payload PCM does not match segment data")
	}
	if sent[0].Base64 == "" {
		t.Error("payload Base64 is empty")
	}
	if sent[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("payload MIMEType = %q", sent[0].MIMEType)
	}

	// Raw provider messages surface as canonical events.
	provider.handle.push(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`)
	if ev := waitEvent(t, s); ev.Kind != EventFinal || ev.Text != "hello" {
		t.Fatalf("event = %+v, want final %q", ev, "hello")
	}

	// A deliberate Close ends the session as stopped, not disconnected.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ev := waitEvent(t, s); ev.Kind != EventStatusChanged || ev.Status != StatusStopped {
		t.Fatalf("event = %+v, want stopped", ev)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel still open after the terminal status")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "gemini"}
	s, err := NewSession(context.Background(), provider, stt.SessionConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Exactly one terminal stopped event, then the channel closes. A
	// deliberate Close must never read as a transport drop.
	var stopped, disconnects int
	for ev := range s.Events() {
		if ev.Kind != EventStatusChanged {
			continue
		}
		switch ev.Status {
		case StatusStopped:
			stopped++
		case StatusDisconnected:
			disconnects++
		}
	}
	if stopped != 1 {
		t.Errorf("stopped events = %d, want exactly 1", stopped)
	}
	if disconnects != 0 {
		t.Errorf("disconnected events = %d, want 0 for deliberate close", disconnects)
	}
}

func TestSession_TransportDropEmitsDisconnect(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "openai-realtime"}
	s, err := NewSession(context.Background(), provider, stt.SessionConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if ev := waitEvent(t, s); ev.Status != StatusReady {
		t.Fatalf("first event = %+v, want ready", ev)
	}

	// The transport drops on its own: the adapter closes its message channel
	// without anyone calling Session.Close.
	provider.handle.Close()

	if ev := waitEvent(t, s); ev.Status != StatusDisconnected {
		t.Fatalf("event = %+v, want disconnected", ev)
	}

	// A later Close must not panic or emit a second disconnect.
	if err := s.Close(); err != nil {
		t.Errorf("Close after drop: %v", err)
	}
}

func TestSession_EmptySegmentIgnored(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "whisper"}
	s, err := NewSession(context.Background(), provider, stt.SessionConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.DispatchSegment(context.Background(), audio.Segment{}); err != nil {
		t.Fatalf("DispatchSegment: %v", err)
	}
	if got := provider.handle.sent(); len(got) != 0 {
		t.Errorf("payloads = %d, want 0 for empty segment", len(got))
	}
}

func TestSession_SendFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "whisper", handle: newFakeHandle()}
	provider.handle.sendErr = errors.New("connection reset")

	s, err := NewSession(context.Background(), provider, stt.SessionConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	err = s.DispatchSegment(context.Background(), audio.Segment{Data: []byte{0, 0}, SampleRate: 16000})
	if err == nil {
		t.Error("DispatchSegment succeeded, want send error")
	}
}

func TestSession_UnknownProviderName(t *testing.T) {
	t.Parallel()

	provider := &fakeSTT{name: "morse-code"}
	if _, err := NewSession(context.Background(), provider, stt.SessionConfig{}, nil); err == nil {
		t.Error("NewSession accepted unknown provider name")
	}
}
