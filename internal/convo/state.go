// Package convo implements the conversation orchestrator: it owns the
// per-turn state machine, the replace-by-cancel streaming discipline, the
// multimodal fallback retry, and the parallel spoken-style generation.
package convo

// State is the presentation-facing conversation state. It is mutated
// exclusively by the Orchestrator and broadcast as a value snapshot on every
// change.
type State struct {
	// IsLoading is true between turn submission and the first token.
	IsLoading bool

	// IsStreaming is true while response tokens are arriving.
	IsStreaming bool

	// CurrentQuestion is the user text of the turn in flight.
	CurrentQuestion string

	// CurrentResponse is the primary response accumulated so far.
	CurrentResponse string

	// ConversationalResponse is the spoken-style rendering, set when the
	// parallel generation completes before the next turn starts.
	ConversationalResponse string

	// IsListening is true while voice capture is active.
	IsListening bool

	// SttTranscription is the latest interim or final transcription.
	SttTranscription string

	// ShowTextInput is true when the typed-input surface should be visible.
	ShowTextInput bool
}

// TurnPhase is the per-turn lifecycle.
type TurnPhase int

const (
	PhaseIdle TurnPhase = iota
	PhaseSubmitting
	PhaseStreaming
	PhaseCompleted
	PhaseAborted
	PhaseFailed
)

// String implements fmt.Stringer.
func (p TurnPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Abort reasons. Both perform identical state resets; the reason only
// distinguishes the log lines.
const (
	ReasonSuperseded   = "superseded by new request"
	ReasonWindowClosed = "window closed by user"
)

// Sink receives state snapshots and discrete named events from the
// orchestrator. Implementations must not block; delivery happens on
// orchestrator goroutines.
type Sink interface {
	// PublishState delivers a read-only snapshot after every mutation.
	PublishState(s State)

	// PublishEvent delivers a discrete named event, e.g. "error" or
	// "conversational-response-ready".
	PublishEvent(name string, payload any)
}

// nopSink discards everything.
type nopSink struct{}

func (nopSink) PublishState(State)       {}
func (nopSink) PublishEvent(string, any) {}
