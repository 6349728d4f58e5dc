// Package sqlite implements bluebonnet.ConversationStore on a local SQLite
// file using the pure-Go driver. Zero CGO required. Suited to single-node
// deployments where conversation history must survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// nopLogger discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger. When set, the store emits debug logs
// for every operation including timing and row counts.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements bluebonnet.ConversationStore backed by a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ bluebonnet.ConversationStore = (*Store)(nil)

// New creates a Store at dbPath. It opens a single shared connection pool
// with SetMaxOpenConns(1) so all goroutines serialize through one
// connection, eliminating SQLITE_BUSY errors from concurrent writers.
func New(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: conversation store opened", "path", dbPath)
	return s
}

// Init creates the thread and message tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id)`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, threadID string) (bluebonnet.Thread, error) {
	start := time.Now()
	now := s.now().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)`,
		threadID, now, now,
	)
	if err != nil {
		return bluebonnet.Thread{}, fmt.Errorf("sqlite: create thread: %w", err)
	}

	var t bluebonnet.Thread
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM threads WHERE id = ?`, threadID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return bluebonnet.Thread{}, fmt.Errorf("sqlite: get thread: %w", err)
	}

	t.Messages, err = s.messages(ctx, threadID)
	if err != nil {
		return bluebonnet.Thread{}, err
	}
	s.logger.Debug("sqlite: get thread ok", "thread_id", threadID, "messages", len(t.Messages), "duration", time.Since(start))
	return t, nil
}

func (s *Store) Append(ctx context.Context, threadID, role, content string) error {
	if err := bluebonnet.ValidateRole(role); err != nil {
		return err
	}

	start := time.Now()
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)`,
		threadID, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create thread: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		bluebonnet.NewID(), threadID, role, content, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, now, threadID)
	if err != nil {
		return fmt.Errorf("sqlite: touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit append: %w", err)
	}
	s.logger.Debug("sqlite: append ok", "thread_id", threadID, "role", role, "duration", time.Since(start))
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
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("sqlite: delete thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit reset: %w", err)
	}
	s.logger.Debug("sqlite: reset ok", "thread_id", threadID, "duration", time.Since(start))
	return nil
}

// messages returns a thread's messages oldest first. Insertion order breaks
// ties between messages created in the same second.
func (s *Store) messages(ctx context.Context, threadID string) ([]bluebonnet.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE thread_id = ? ORDER BY created_at, rowid`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get messages: %w", err)
	}
	defer rows.Close()

	var msgs []bluebonnet.ThreadMessage
	for rows.Next() {
		var m bluebonnet.ThreadMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
