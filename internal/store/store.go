// Package store persists conversation history.
//
// The conversation orchestrator writes every user turn before generation and
// every assistant response after it, keyed by a session. Two implementations
// exist: a PostgreSQL store for durable history and an in-memory store for
// ephemeral runs and tests.
package store

import (
	"context"
	"time"
)

// Message is one persisted conversation turn.
type Message struct {
	// ID is the store-assigned identifier, zero until persisted.
	ID int64

	// SessionID groups messages into one conversation.
	SessionID string

	// Role is "user" or "assistant".
	Role string

	// Content is the message text.
	Content string

	// CreatedAt is the persistence timestamp.
	CreatedAt time.Time
}

// Session is one conversation container.
type Session struct {
	// ID is the session identifier.
	ID string

	// Kind distinguishes how the session was opened, e.g. "voice" or "text".
	Kind string

	// CreatedAt is when the session was opened.
	CreatedAt time.Time

	// Active marks the session messages are currently appended to.
	Active bool
}

// Store is the conversation persistence contract. Implementations must be
// safe for concurrent use.
type Store interface {
	// GetOrCreateActiveSession returns the active session of the given kind,
	// creating one if none exists.
	GetOrCreateActiveSession(ctx context.Context, kind string) (Session, error)

	// AddMessage appends one message to its session and fills in the
	// store-assigned ID and timestamp.
	AddMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns up to limit messages of the session in
	// chronological order (oldest first). limit <= 0 means no limit.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// Close releases the store's resources.
	Close()
}
