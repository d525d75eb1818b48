// Package voice turns raw STT provider messages into one canonical
// transcription event protocol.
//
// Each STT adapter forwards its provider's messages verbatim; the Normalizer
// holds one parse arm per provider and owns the per-session transcription
// accumulator. Consumers only ever see TranscriptionEvent values and never
// branch on provider identity.
package voice

// Status describes the lifecycle of a transcription session.
type Status int

const (
	// StatusUninitialized is the zero value before a session is established.
	StatusUninitialized Status = iota

	// StatusReady means the provider session is open and accepting audio.
	StatusReady

	// StatusListening means audio is actively flowing to the provider.
	StatusListening

	// StatusStopped means the session was ended deliberately via Close.
	StatusStopped

	// StatusDisconnected means the provider transport dropped without a
	// deliberate Close.
	StatusDisconnected
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusReady:
		return "ready"
	case StatusListening:
		return "listening"
	case StatusStopped:
		return "stopped"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventKind discriminates the TranscriptionEvent variants.
type EventKind int

const (
	// EventInterim carries a provisional transcription that may be revised.
	EventInterim EventKind = iota

	// EventFinal carries the confirmed end-of-utterance transcription. Final
	// is terminal for its segment.
	EventFinal

	// EventStatusChanged carries a session lifecycle transition.
	EventStatusChanged

	// EventError carries a provider or transport failure. The session is not
	// automatically retried; the orchestrator decides what happens next.
	EventError
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventStatusChanged:
		return "status"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptionEvent is one canonical transcription protocol event. Exactly
// the fields relevant to Kind are set.
type TranscriptionEvent struct {
	// Kind selects the variant.
	Kind EventKind

	// Text is set for EventInterim and EventFinal.
	Text string

	// Status is set for EventStatusChanged.
	Status Status

	// Err is set for EventError.
	Err error
}
