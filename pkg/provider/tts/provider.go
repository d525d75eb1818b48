// Package tts defines the Speaker interface for Text-to-Speech output.
//
// Speech synthesis itself is out of scope for this module; the pipeline only
// needs a collaborator it can hand spoken-style text to and a way to know
// whether playback is in progress, so that the segmenter can suppress echo
// onsets while the assistant is talking.
package tts

import "context"

// Speaker is the playback collaborator fed by the conversation orchestrator.
//
// Implementations must be safe for concurrent use. Speak calls for a session
// are serialised by the caller; Stop may arrive from any goroutine.
type Speaker interface {
	// Speak synthesises and plays the given spoken-style text. It returns once
	// playback has been accepted, not once it has finished; use Speaking to
	// observe progress. Returns an error if synthesis cannot be started or ctx
	// is cancelled.
	Speak(ctx context.Context, text string) error

	// Stop cancels any in-progress playback. Safe to call when idle.
	Stop()

	// Speaking reports whether audio output is currently playing.
	Speaking() bool
}
