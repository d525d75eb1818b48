package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/verbalis/verbalis/pkg/provider/stt"
)

// Default filters. Batch engines emit bracketed placeholder tokens when a
// segment contains no usable speech; these must never surface as user text.
var defaultNoiseTokens = []string{
	"[BLANK_AUDIO]",
	"[INAUDIBLE]",
	"[MUSIC]",
	"[NOISE]",
	"[SILENCE]",
	"(silence)",
}

// defaultNoSpeechToken is the literal delta some turn-based engines emit for
// non-speech audio. It is dropped, never appended.
const defaultNoSpeechToken = "<noise>"

// defaultArtifactSubstrings mark delta fragments that are audio-decoding
// artifacts rather than speech.
var defaultArtifactSubstrings = []string{"[inaudible]"}

// minFinalLength is the rune-count floor below which a batch transcript is
// considered noise.
const minFinalLength = 2

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithNoiseTokens replaces the batch noise-token allow-list.
func WithNoiseTokens(tokens []string) NormalizerOption {
	return func(n *Normalizer) { n.noiseTokens = tokens }
}

// WithNoSpeechToken replaces the literal no-speech delta token.
func WithNoSpeechToken(token string) NormalizerOption {
	return func(n *Normalizer) { n.noSpeechToken = token }
}

// WithArtifactSubstrings replaces the delta artifact substring filter.
func WithArtifactSubstrings(subs []string) NormalizerOption {
	return func(n *Normalizer) { n.artifacts = subs }
}

// Normalizer translates one provider's raw messages into TranscriptionEvents.
//
// The dispatch is closed over the known provider identities; adding a provider
// means adding an adapter and a parse arm here, nothing else. The normalizer
// exclusively owns the running transcription accumulator for its session; it
// is reset only on a final event or an explicit Reset.
//
// Not safe for concurrent use: OnRawMessage is called from the single
// goroutine draining the adapter's message channel.
type Normalizer struct {
	provider string

	noiseTokens   []string
	noSpeechToken string
	artifacts     []string

	// current accumulates interim text across deltas for one utterance.
	current strings.Builder
}

// NewNormalizer creates a Normalizer for the named provider. The name must be
// one of the stt.Provider identities ("whisper", "deepgram", "gemini",
// "openai-realtime").
func NewNormalizer(provider string, opts ...NormalizerOption) (*Normalizer, error) {
	switch provider {
	case "whisper", "deepgram", "gemini", "openai-realtime":
	default:
		return nil, fmt.Errorf("voice: unknown stt provider %q", provider)
	}
	n := &Normalizer{
		provider:      provider,
		noiseTokens:   defaultNoiseTokens,
		noSpeechToken: defaultNoSpeechToken,
		artifacts:     defaultArtifactSubstrings,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Current returns the accumulated interim transcription.
func (n *Normalizer) Current() string { return n.current.String() }

// Reset clears the accumulator. Called on session close.
func (n *Normalizer) Reset() { n.current.Reset() }

// OnRawMessage translates one raw adapter message into zero or one event.
// A nil return means the message carried nothing actionable; unrecognized
// messages are tolerated silently.
func (n *Normalizer) OnRawMessage(msg stt.RawMessage) *TranscriptionEvent {
	if msg.Err != nil {
		return &TranscriptionEvent{Kind: EventError, Err: msg.Err}
	}
	if len(msg.Data) == 0 {
		return nil
	}

	switch n.provider {
	case "whisper":
		return n.onBatchMessage(msg.Data)
	case "deepgram":
		return n.onInterimFinalMessage(msg.Data)
	case "gemini":
		return n.onTurnBasedMessage(msg.Data)
	case "openai-realtime":
		return n.onDeltaCompletedMessage(msg.Data)
	}
	return nil
}

// ── Batch-transcript shape (whisper) ──────────────────────────────────────────

// onBatchMessage handles the single {"text": ...} envelope per segment. Every
// message is terminal; noise placeholders and too-short results are dropped.
func (n *Normalizer) onBatchMessage(data []byte) *TranscriptionEvent {
	var env struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Error != "" {
		return &TranscriptionEvent{Kind: EventError, Err: errors.New(env.Error)}
	}

	text := strings.TrimSpace(env.Text)
	if text == "" {
		return nil
	}
	for _, tok := range n.noiseTokens {
		if text == tok {
			return nil
		}
	}
	if utf8.RuneCountInString(text) <= minFinalLength {
		return nil
	}
	return &TranscriptionEvent{Kind: EventFinal, Text: text}
}

// ── Streaming interim/final shape (deepgram) ──────────────────────────────────

// onInterimFinalMessage handles Results messages where is_final discriminates
// a provisional guess from the committed transcript. Empty text is ignored.
func (n *Normalizer) onInterimFinalMessage(data []byte) *TranscriptionEvent {
	var env struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channel"`
		Error       string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Error != "" || env.Type == "Error" {
		cause := env.Error
		if cause == "" {
			cause = env.Description
		}
		return &TranscriptionEvent{Kind: EventError, Err: errors.New(cause)}
	}
	if len(env.Channel.Alternatives) == 0 {
		return nil
	}

	text := strings.TrimSpace(env.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}
	if !env.IsFinal {
		n.current.Reset()
		n.current.WriteString(text)
		return &TranscriptionEvent{Kind: EventInterim, Text: text}
	}
	n.current.Reset()
	return &TranscriptionEvent{Kind: EventFinal, Text: text}
}

// ── Turn-based incremental shape (gemini) ─────────────────────────────────────

// onTurnBasedMessage handles serverContent messages: inputTranscription
// deltas accumulate, turnComplete commits the accumulator. The literal
// no-speech token is filtered, not appended.
func (n *Normalizer) onTurnBasedMessage(data []byte) *TranscriptionEvent {
	var env struct {
		ServerContent struct {
			InputTranscription struct {
				Text string `json:"text"`
			} `json:"inputTranscription"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"serverContent"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Error.Message != "" {
		return &TranscriptionEvent{Kind: EventError, Err: errors.New(env.Error.Message)}
	}

	if env.ServerContent.TurnComplete {
		text := strings.TrimSpace(n.current.String())
		n.current.Reset()
		if text == "" {
			return nil
		}
		return &TranscriptionEvent{Kind: EventFinal, Text: text}
	}

	delta := env.ServerContent.InputTranscription.Text
	if delta == "" || strings.TrimSpace(delta) == n.noSpeechToken {
		return nil
	}
	n.current.WriteString(delta)
	return &TranscriptionEvent{Kind: EventInterim, Text: n.current.String()}
}

// ── Delta/completed shape (openai-realtime) ───────────────────────────────────

// onDeltaCompletedMessage handles the transcription delta/completed event
// pair. Deltas matching an artifact substring are dropped; completed events
// with non-empty trimmed text commit the transcript.
func (n *Normalizer) onDeltaCompletedMessage(data []byte) *TranscriptionEvent {
	var env struct {
		Type       string `json:"type"`
		Delta      string `json:"delta"`
		Transcript string `json:"transcript"`
		Error      struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}

	switch env.Type {
	case "error":
		return &TranscriptionEvent{Kind: EventError, Err: errors.New(env.Error.Message)}

	case "conversation.item.input_audio_transcription.delta":
		if env.Delta == "" {
			return nil
		}
		for _, sub := range n.artifacts {
			if strings.Contains(env.Delta, sub) {
				return nil
			}
		}
		n.current.WriteString(env.Delta)
		return &TranscriptionEvent{Kind: EventInterim, Text: n.current.String()}

	case "conversation.item.input_audio_transcription.completed":
		n.current.Reset()
		text := strings.TrimSpace(env.Transcript)
		if text == "" {
			return nil
		}
		return &TranscriptionEvent{Kind: EventFinal, Text: text}
	}
	return nil
}
