// Package oairealtime provides an STT adapter for OpenAI's Realtime API.
//
// It establishes a WebSocket connection to the Realtime endpoint, configures
// the session for input audio transcription, and appends audio as
// base64-encoded PCM16 buffer events.
//
// OpenAI's transcription output is the delta/completed pair shape:
// conversation.item.input_audio_transcription.delta events append to a running
// buffer and ...transcription.completed carries the committed text. Events are
// forwarded verbatim; the normalizer interprets them.
package oairealtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/verbalis/verbalis/pkg/provider/stt"
)

// Compile-time assertions.
var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-transcribe"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider for OpenAI's Realtime transcription API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("oairealtime: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai-realtime" }

// StartSession establishes a new Realtime transcription session. The returned
// handle accepts audio immediately after the session.update event is sent.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?intent=transcription", p.baseURL)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oairealtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan stt.RawMessage, 64),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.sendSessionUpdate(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("oairealtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription *transcriptionModel `json:"input_audio_transcription,omitempty"`
	Language                string              `json:"language,omitempty"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan stt.RawMessage

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures audio format and the transcription model.
func (s *session) sendSessionUpdate(model string, cfg stt.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:        "pcm16",
		InputAudioTranscription: &transcriptionModel{Model: model},
	}
	if cfg.Language != "" {
		params.Language = cfg.Language
	}
	return s.writeJSON(sessionUpdateMessage{Type: "transcription_session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("oairealtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// SendRealtimeInput appends one base64 audio chunk to the input buffer.
// The Realtime API takes the encoded-string form.
func (s *session) SendRealtimeInput(p stt.Payload) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("oairealtime: session is closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: p.Base64,
	})
}

// Messages returns the channel of verbatim Realtime server events.
func (s *session) Messages() <-chan stt.RawMessage { return s.messages }

// Close terminates the session. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// receiveLoop reads events from the WebSocket and forwards them verbatim.
// It owns the messages channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.messages)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			select {
			case s.messages <- stt.RawMessage{Err: fmt.Errorf("oairealtime: read: %w", err)}:
			case <-s.ctx.Done():
			}
			return
		}

		select {
		case s.messages <- stt.RawMessage{Data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}
