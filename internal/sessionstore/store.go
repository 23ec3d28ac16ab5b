// Package sessionstore is the durable backing store for codi sessions: an
// append-only, journaled SQLite database under $CODI_SESSION_DIR holding
// sessions, messages, tool calls, and todos. It keeps a crash-recoverable
// log alongside the agent loop's history, which the loop itself still holds
// in memory.
package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the current schema version. Migrations are forward-only:
// Open applies every migration strictly greater than the database's
// recorded version, in order.
const SchemaVersion = 1

// Store is a single-writer, many-reader handle onto the session database.
// The owning agent loop is the sole writer per session; concurrent readers
// (e.g. a TUI status pane) are tolerated through SQLite's own locking.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, enables
// write-ahead logging so a crash mid-write leaves the file recoverable at
// the last committed transaction, and applies any pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; SQLite serializes anyway

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("sessionstore: creating schema_meta: %w", err)
	}

	current := 0
	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`)
	_ = row.Scan(&current) // no row yet -> current stays 0

	for v := current + 1; v <= SchemaVersion; v++ {
		migration, ok := migrations[v]
		if !ok {
			return fmt.Errorf("sessionstore: no migration registered for version %d", v)
		}
		if err := migration(ctx, s.db); err != nil {
			return fmt.Errorf("sessionstore: migration %d: %w", v, err)
		}
	}

	if current == 0 {
		_, err := s.db.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, SchemaVersion)
		return err
	}
	if current != SchemaVersion {
		_, err := s.db.ExecContext(ctx, `UPDATE schema_meta SET version = ?`, SchemaVersion)
		return err
	}
	return nil
}

var migrations = map[int]func(ctx context.Context, db *sql.DB) error{
	1: migrateV1,
}

func migrateV1(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			provider    TEXT NOT NULL,
			model       TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			state       TEXT NOT NULL DEFAULT 'idle',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			content     TEXT NOT NULL,
			reasoning   TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			message_id   INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			tool_name    TEXT NOT NULL,
			arguments    TEXT NOT NULL,
			result       TEXT NOT NULL DEFAULT '',
			is_error     INTEGER NOT NULL DEFAULT 0,
			approved_by  TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			resolved_at  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			content     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_session ON todos(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Session is the persisted row for one codi session.
type Session struct {
	ID         string
	Provider   string
	Model      string
	WorkingDir string
	State      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	now := sess.CreatedAt.Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, provider, model, working_dir, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Provider, sess.Model, sess.WorkingDir, sess.State, now, now,
	)
	if err != nil {
		return fmt.Errorf("sessionstore: create session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSessionState updates a session's lifecycle state and touches
// updated_at.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().Unix(), sessionID,
	)
	return err
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, model, working_dir, state, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	)
	var sess Session
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.WorkingDir, &sess.State, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("sessionstore: get session %s: %w", sessionID, err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, model, working_dir, state, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt int64
		if err := rows.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.WorkingDir, &sess.State, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Message is a persisted append-only history entry.
type Message struct {
	ID         int64
	SessionID  string
	Seq        int
	Kind       string
	Content    string
	Reasoning  string
	TokenCount int
	CreatedAt  time.Time
}

// AppendMessage inserts the next message for a session, assigning seq as
// one past the current max. The append-only discipline plus the unique
// (session_id, seq) index is what makes "serialise, deserialise, serialise
// again" byte-equal: order is a stored column, never positional.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM messages WHERE session_id = ?`, msg.SessionID,
	).Scan(&maxSeq); err != nil {
		return 0, err
	}
	seq := 0
	if maxSeq.Valid {
		seq = int(maxSeq.Int64) + 1
	}

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, kind, content, reasoning, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, seq, msg.Kind, msg.Content, msg.Reasoning, msg.TokenCount, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListMessages returns every message for a session in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, kind, content, reasoning, token_count, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Kind, &m.Content, &m.Reasoning, &m.TokenCount, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ReplaceHistory atomically deletes every message for a session and
// re-inserts the given ones, preserving their relative order. This is the
// store-level counterpart of compaction: turns 1..N are collapsed into a
// summary message plus the retained tail.
func (s *Store) ReplaceHistory(ctx context.Context, sessionID string, msgs []*Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	now := time.Now().Unix()
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, kind, content, reasoning, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, m.Kind, m.Content, m.Reasoning, m.TokenCount, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ToolCall is a persisted tool invocation and its eventual resolution.
type ToolCall struct {
	ID         string
	SessionID  string
	MessageID  int64
	ToolName   string
	Arguments  string
	Result     string
	IsError    bool
	ApprovedBy string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// RecordToolCall inserts the tool_use side of a call, before execution.
func (s *Store) RecordToolCall(ctx context.Context, tc *ToolCall) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, session_id, message_id, tool_name, arguments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.SessionID, tc.MessageID, tc.ToolName, tc.Arguments, time.Now().Unix(),
	)
	return err
}

// ResolveToolCall fills in the result side once the tool (and the Approval
// Gate, for a denial) has produced an outcome.
func (s *Store) ResolveToolCall(ctx context.Context, id, result string, isError bool, approvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls SET result = ?, is_error = ?, approved_by = ?, resolved_at = ?
		WHERE id = ?`,
		result, isError, approvedBy, time.Now().Unix(), id,
	)
	return err
}

// Todo is a persisted task-tracking entry (the agent's own TODO list tool,
// when the profile registers one).
type Todo struct {
	ID        int64
	SessionID string
	Content   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertTodos replaces a session's todo list wholesale — the natural
// operation for a tool that resubmits the full list on every update.
func (s *Store) UpsertTodos(ctx context.Context, sessionID string, todos []Todo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, t := range todos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO todos (session_id, content, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, t.Content, t.Status, now, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTodos returns a session's current todo list.
func (s *Store) ListTodos(ctx context.Context, sessionID string) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, content, status, created_at, updated_at FROM todos WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Todo
	for rows.Next() {
		var t Todo
		var createdAt, updatedAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Content, &t.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		t.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}
