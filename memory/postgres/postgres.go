// Package postgres implements bluebonnet.ConversationStore on PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// Store implements bluebonnet.ConversationStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ bluebonnet.ConversationStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Init creates the thread and message tables.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			seq BIGSERIAL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, threadID string) (bluebonnet.Thread, error) {
	now := s.now().Unix()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`,
		threadID, now,
	)
	if err != nil {
		return bluebonnet.Thread{}, &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("create thread: %w", err)}
	}

	var t bluebonnet.Thread
	err = s.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM threads WHERE id = $1`, threadID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return bluebonnet.Thread{}, &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("get thread: %w", err)}
	}

	t.Messages, err = s.messages(ctx, threadID)
	if err != nil {
		return bluebonnet.Thread{}, err
	}
	return t, nil
}

func (s *Store) Append(ctx context.Context, threadID, role, content string) error {
	if err := bluebonnet.ValidateRole(role); err != nil {
		return err
	}
	now := s.now().Unix()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO threads (id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO UPDATE SET updated_at = $2`,
		threadID, now,
	)
	if err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("touch thread: %w", err)}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		bluebonnet.NewID(), threadID, role, content, now,
	)
	if err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("insert message: %w", err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("commit append: %w", err)}
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, threadID string, maxTurns int) ([]bluebonnet.ThreadMessage, error) {
	msgs, err := s.messages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return bluebonnet.RecentMessages(msgs, maxTurns), nil
}

func (s *Store) Reset(ctx context.Context, threadID string) error {
	// Messages cascade.
	if _, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, threadID); err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("delete thread: %w", err)}
	}
	return nil
}

// messages returns a thread's messages oldest first. The seq column breaks
// ties between messages created in the same second.
func (s *Store) messages(ctx context.Context, threadID string) ([]bluebonnet.ThreadMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM messages WHERE thread_id = $1 ORDER BY created_at, seq`,
		threadID,
	)
	if err != nil {
		return nil, &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("get messages: %w", err)}
	}
	defer rows.Close()

	var msgs []bluebonnet.ThreadMessage
	for rows.Next() {
		var m bluebonnet.ThreadMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
