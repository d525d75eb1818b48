// Package stt defines the session contract for Speech-to-Text backends.
//
// An STT adapter wraps one provider's realtime or batch transcription surface
// (Deepgram streaming, Gemini Live, OpenAI Realtime, or the OpenAI batch
// audio API) and exposes a uniform session: audio payloads go in via
// SendRealtimeInput, the provider's verbatim messages come out on a channel.
//
// Adapters deliberately do NOT interpret provider messages. Translating each
// provider's message shape into the canonical transcription event set is the
// job of the normalizer (internal/voice), keyed by [Provider.Name]. Keeping
// the adapters dumb means a new provider is added as one adapter plus one
// normalizer arm; downstream consumers never branch on provider identity.
//
// Implementations must be safe for concurrent use. The Messages channel is
// closed when the session ends; callers must drain it.
package stt

import "context"

// SessionConfig describes the audio format and recognition hints for a new
// STT session.
type SessionConfig struct {
	// SampleRate is the audio sample rate in Hz of the payloads that will be
	// sent. Typical: 16000 or 24000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string
}

// Payload is one transport chunk of segment audio. The capture pipeline fills
// every representation; each adapter picks the form its wire protocol wants:
// a structured media chunk (Gemini), raw binary (Deepgram), or the base64
// string (OpenAI Realtime and batch).
type Payload struct {
	// PCM is raw little-endian PCM16.
	PCM []byte

	// Base64 is the base64 encoding of PCM.
	Base64 string

	// MIMEType describes the audio format, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// RawMessage is one verbatim provider message, or an adapter-level transport
// error. Exactly one of Data and Err is set.
type RawMessage struct {
	// Data is the provider's message bytes (JSON for all current adapters;
	// batch adapters synthesize a single JSON envelope per segment).
	Data []byte

	// Err carries a transport or provider-client failure.
	Err error
}

// SessionHandle represents an open STT session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the adapter. Close is
// idempotent. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendRealtimeInput delivers one audio payload for transcription.
	// Returns an error if the session is closed or the payload cannot be
	// queued; it must not block on network I/O.
	SendRealtimeInput(p Payload) error

	// Messages returns the read-only channel of raw provider messages.
	// The channel is closed when the session ends.
	Messages() <-chan RawMessage

	// Close terminates the session, flushes pending audio where the protocol
	// allows it, and releases resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Name returns the stable provider identity used by the normalizer's
	// dispatch (e.g., "deepgram", "gemini", "openai-realtime", "whisper").
	Name() string

	// StartSession opens a new transcription session. Returns an error if
	// the session cannot be established (authentication failure, unsupported
	// configuration, or ctx already cancelled).
	StartSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
