package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT         PRIMARY KEY,
    kind       TEXT         NOT NULL,
    active     BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_kind_active
    ON sessions (kind, active);

CREATE TABLE IF NOT EXISTS messages (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL REFERENCES sessions (id),
    role       TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);
`

// PostgresStore implements Store on a pgx connection pool.
//
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// GetOrCreateActiveSession implements Store.
func (s *PostgresStore) GetOrCreateActiveSession(ctx context.Context, kind string) (Session, error) {
	const qGet = `
		SELECT id, kind, active, created_at
		FROM   sessions
		WHERE  kind = $1 AND active
		ORDER  BY created_at DESC
		LIMIT  1`

	var sess Session
	err := s.pool.QueryRow(ctx, qGet, kind).Scan(&sess.ID, &sess.Kind, &sess.Active, &sess.CreatedAt)
	if err == nil {
		return sess, nil
	}
	if !isNoRows(err) {
		return Session{}, fmt.Errorf("postgres store: get active session: %w", err)
	}

	const qCreate = `
		INSERT INTO sessions (id, kind)
		VALUES ($1, $2)
		RETURNING id, kind, active, created_at`

	err = s.pool.QueryRow(ctx, qCreate, uuid.NewString(), kind).
		Scan(&sess.ID, &sess.Kind, &sess.Active, &sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("postgres store: create session: %w", err)
	}
	return sess, nil
}

// AddMessage implements Store.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *Message) error {
	const q = `
		INSERT INTO messages (session_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, q, msg.SessionID, msg.Role, msg.Content).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: add message: %w", err)
	}
	return nil
}

// RecentMessages implements Store.
func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	q := `
		SELECT id, session_id, role, content, created_at
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY created_at, id`
	args := []any{sessionID}

	if limit > 0 {
		// Take the newest N, then restore chronological order.
		q = `
		SELECT id, session_id, role, content, created_at
		FROM (
		    SELECT id, session_id, role, content, created_at
		    FROM   messages
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC, id DESC
		    LIMIT  $2
		) newest
		ORDER BY created_at, id`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// isNoRows reports whether err means the query matched nothing. pgx may wrap
// the sentinel, so a direct comparison is not enough.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
