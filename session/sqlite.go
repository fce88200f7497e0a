package session

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the "embedded" backend: a single-file, single-writer
// database, matching graph/store.SQLiteStore's connection tuning
// (WAL mode, one connection) since both share a process and a disk.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the sessions database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_node TEXT,
			execution_count INTEGER NOT NULL DEFAULT 0,
			conversation_history TEXT NOT NULL DEFAULT '[]',
			workflow_state TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.SessionID == "" {
		sess.SessionID = uuid.NewString()
	}
	now := clock()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.WorkflowType, string(sess.Status), sess.CurrentNode,
		sess.ExecutionCount, string(history), string(sess.WorkflowState), sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = clock()
	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_id=?, workflow_type=?, status=?, current_node=?, execution_count=?, conversation_history=?, workflow_state=?, updated_at=?
		WHERE session_id=?`,
		sess.UserID, sess.WorkflowType, string(sess.Status), sess.CurrentNode, sess.ExecutionCount,
		string(history), string(sess.WorkflowState), sess.UpdatedAt, sess.SessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) ListPendingApproval(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE status = ? ORDER BY created_at DESC`, string(StatusPendingApproval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var status, history, state string
	if err := row.Scan(&sess.SessionID, &sess.UserID, &sess.WorkflowType, &status, &sess.CurrentNode,
		&sess.ExecutionCount, &history, &state, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	sess.Status = Status(status)
	sess.WorkflowState = []byte(state)
	if err := json.Unmarshal([]byte(history), &sess.ConversationHistory); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
