// Package geminilive provides an STT adapter for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol, configured for input transcription only. Audio is transmitted as
// base64-encoded PCM media chunks.
//
// Gemini's transcription output is the turn-based incremental shape:
// serverContent.inputTranscription carries accumulating text deltas, and
// serverContent.turnComplete marks the end of the utterance. Messages are
// forwarded verbatim; the normalizer interprets them.
package geminilive

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
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("geminilive: apiKey must not be empty")
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
func (p *Provider) Name() string { return "gemini" }

// StartSession establishes a new Gemini Live session configured for input
// transcription. The returned handle accepts audio immediately after the
// setup message is sent.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("geminilive: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan stt.RawMessage, 64),
		mime:     mimeType(cfg),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("geminilive: setup: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

func mimeType(cfg stt.SessionConfig) string {
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 16000
	}
	return fmt.Sprintf("audio/pcm;rate=%d", sr)
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model              string           `json:"model"`
	GenerationConfig   generationConfig `json:"generationConfig"`
	InputTranscription *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded PCM16
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan stt.RawMessage
	mime     string

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message requesting
// text responses and input transcription.
func (s *session) sendSetup(model string, _ stt.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"text"},
			},
			InputTranscription: &struct{}{},
		},
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("geminilive: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// SendRealtimeInput delivers one base64 media chunk. Gemini takes the
// structured-object form.
func (s *session) SendRealtimeInput(p stt.Payload) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("geminilive: session is closed")
	}
	s.mu.Unlock()

	mime := p.MIMEType
	if mime == "" {
		mime = s.mime
	}
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: mime, Data: p.Base64}},
		},
	})
}

// Messages returns the channel of verbatim Gemini server messages.
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

// receiveLoop reads messages from the WebSocket and forwards them verbatim.
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
			case s.messages <- stt.RawMessage{Err: fmt.Errorf("geminilive: read: %w", err)}:
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
