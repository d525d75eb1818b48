// Package app wires the verbalis subsystems into a running application: the
// capture pipeline, the STT session and normalizer, the conversation
// orchestrator, persistence, and the observability endpoints.
package app

import (
	"log/slog"

	"github.com/verbalis/verbalis/internal/convo"
)

// Discrete event names delivered to the EventSink alongside state snapshots.
const (
	EventSpeechStarted               = "speech-started"
	EventSpeechEnded                 = "speech-ended"
	EventTranscriptionUpdate         = "transcription-update"
	EventTranscriptionComplete       = "transcription-complete"
	EventStatusUpdate                = "status-update"
	EventError                       = "error"
	EventInterruption                = "interruption"
	EventConversationalResponseReady = "conversational-response-ready"
)

// EventSink is the presentation collaborator: it receives a full
// ConversationState snapshot on every mutation plus discrete named events.
// Implementations must not block.
type EventSink = convo.Sink

// VisibilityRequester asks the presentation layer to show or hide the voice
// surface. Fire and forget; the core never manages window lifecycle itself.
type VisibilityRequester interface {
	RequestVisibility(show bool)
}

// LogSink is an EventSink that writes everything to the structured log. It is
// the default sink for headless runs.
type LogSink struct {
	Log *slog.Logger
}

// PublishState implements EventSink.
func (s LogSink) PublishState(state convo.State) {
	s.logger().Debug("state",
		"loading", state.IsLoading,
		"streaming", state.IsStreaming,
		"listening", state.IsListening,
		"response_len", len(state.CurrentResponse),
	)
}

// PublishEvent implements EventSink.
func (s LogSink) PublishEvent(name string, payload any) {
	s.logger().Info("event", "name", name, "payload", payload)
}

func (s LogSink) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
