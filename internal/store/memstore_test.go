package store

import (
	"context"
	"fmt"
	"testing"
)

func TestMemStore_GetOrCreateActiveSession(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	first, err := s.GetOrCreateActiveSession(ctx, "voice")
	if err != nil {
		t.Fatalf("GetOrCreateActiveSession: %v", err)
	}
	if first.ID == "" || first.Kind != "voice" || !first.Active {
		t.Errorf("session = %+v", first)
	}

	// The same kind resolves to the same active session.
	again, err := s.GetOrCreateActiveSession(ctx, "voice")
	if err != nil {
		t.Fatalf("GetOrCreateActiveSession: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second lookup returned a new session: %q vs %q", again.ID, first.ID)
	}

	// Different kinds get independent sessions.
	text, err := s.GetOrCreateActiveSession(ctx, "text")
	if err != nil {
		t.Fatalf("GetOrCreateActiveSession: %v", err)
	}
	if text.ID == first.ID {
		t.Error("different kinds share a session")
	}
}

func TestMemStore_Messages(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	sess, _ := s.GetOrCreateActiveSession(ctx, "voice")

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := &Message{SessionID: sess.ID, Role: role, Content: fmt.Sprintf("message %d", i)}
		if err := s.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		if msg.ID == 0 {
			t.Error("AddMessage did not assign an ID")
		}
		if msg.CreatedAt.IsZero() {
			t.Error("AddMessage did not stamp CreatedAt")
		}
	}

	t.Run("chronological order", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, sess.ID, 0)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(msgs) != 5 {
			t.Fatalf("messages = %d, want 5", len(msgs))
		}
		for i, m := range msgs {
			if want := fmt.Sprintf("message %d", i); m.Content != want {
				t.Errorf("message %d = %q, want %q", i, m.Content, want)
			}
		}
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, sess.ID, 2)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("messages = %d, want 2", len(msgs))
		}
		if msgs[0].Content != "message 3" || msgs[1].Content != "message 4" {
			t.Errorf("limited window = %q, %q; want the two newest", msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("unknown session is empty", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, "no-such-session", 10)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("messages = %d, want 0", len(msgs))
		}
	})
}
