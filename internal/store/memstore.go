package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for ephemeral runs and tests. History is
// lost on process exit.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]Session   // keyed by kind, active session only
	messages map[string][]Message // keyed by session ID
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

// GetOrCreateActiveSession implements Store.
func (s *MemStore) GetOrCreateActiveSession(_ context.Context, kind string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[kind]; ok {
		return sess, nil
	}
	sess := Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now(),
		Active:    true,
	}
	s.sessions[kind] = sess
	return sess, nil
}

// AddMessage implements Store.
func (s *MemStore) AddMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

// RecentMessages implements Store.
func (s *MemStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

// Close implements Store.
func (s *MemStore) Close() {}
