// Package whisperapi provides an STT adapter backed by OpenAI's batch audio
// transcription endpoint (Whisper and its successors).
//
// Unlike the streaming adapters, there is no realtime connection: every
// payload delivered via SendRealtimeInput is treated as one complete speech
// segment. The adapter wraps the PCM in a WAV container, submits it to the
// transcriptions endpoint in the background, and synthesizes exactly one JSON
// envelope of the form {"text": "..."} on the messages channel per segment.
// The normalizer treats that envelope as the batch-transcript shape.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/verbalis/verbalis/pkg/provider/stt"
)

// Compile-time assertions.
var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)

const defaultModel = "whisper-1"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "whisper-1", "gpt-4o-transcribe").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the OpenAI API base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new batch transcription Provider with the given API key.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("whisperapi: apiKey must not be empty")
	}
	p := &Provider{
		apiKey: apiKey,
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// StartSession creates a batch transcription session. No network activity
// happens until the first payload arrives.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisperapi: start session: %w", err)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(p.apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	return &session{
		client:     oai.NewClient(reqOpts...),
		model:      p.model,
		language:   cfg.Language,
		sampleRate: sampleRate,
		channels:   channels,
		messages:   make(chan stt.RawMessage, 16),
		ctx:        sessCtx,
		cancel:     sessCancel,
	}, nil
}

// transcriptEnvelope is the single message synthesized per segment.
type transcriptEnvelope struct {
	Text string `json:"text"`
}

type session struct {
	client     oai.Client
	model      string
	language   string
	sampleRate int
	channels   int

	messages chan stt.RawMessage

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SendRealtimeInput submits one complete segment for transcription. The call
// returns immediately; the result arrives on the messages channel.
func (s *session) SendRealtimeInput(p stt.Payload) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("whisperapi: session is closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	pcm := p.PCM
	go func() {
		defer s.wg.Done()
		s.transcribe(pcm)
	}()
	return nil
}

// transcribe runs one transcription request and delivers the envelope.
func (s *session) transcribe(pcm []byte) {
	wav := wrapWAV(pcm, s.sampleRate, s.channels)

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(s.model),
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
	}
	if s.language != "" {
		params.Language = oai.String(s.language)
	}

	resp, err := s.client.Audio.Transcriptions.New(s.ctx, params)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.emit(stt.RawMessage{Err: fmt.Errorf("whisperapi: transcribe: %w", err)})
		return
	}

	data, err := json.Marshal(transcriptEnvelope{Text: resp.Text})
	if err != nil {
		s.emit(stt.RawMessage{Err: fmt.Errorf("whisperapi: marshal envelope: %w", err)})
		return
	}
	s.emit(stt.RawMessage{Data: data})
}

func (s *session) emit(msg stt.RawMessage) {
	select {
	case s.messages <- msg:
	case <-s.ctx.Done():
	}
}

// Messages returns the channel of synthesized transcript envelopes.
func (s *session) Messages() <-chan stt.RawMessage { return s.messages }

// Close waits for in-flight transcriptions and shuts the session down.
// Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		// Cancel in-flight requests, then wait for their goroutines so that
		// nothing races the channel close below.
		s.cancel()
		s.wg.Wait()
		close(s.messages)
	})
	return nil
}

// wrapWAV prepends a canonical 44-byte RIFF/WAVE header to raw PCM16 data.
func wrapWAV(pcm []byte, sampleRate, channels int) []byte {
	const (
		bitsPerSample = 16
		headerSize    = 44
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, headerSize+len(pcm))
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+len(pcm)))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16)) // PCM chunk size
	binary.Write(w, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bitsPerSample))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)

	return w.Bytes()
}
