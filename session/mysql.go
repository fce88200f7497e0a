package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is the "shared-cache" backend for multi-replica
// deployments, pooled the same way graph/store.MySQLStore is.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a pooled connection to dsn and ensures the
// sessions table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			workflow_type VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_node VARCHAR(255),
			execution_count INT NOT NULL DEFAULT 0,
			conversation_history JSON NOT NULL,
			workflow_state JSON,
			created_at TIMESTAMP(6) NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL,
			INDEX idx_sessions_user (user_id, created_at),
			INDEX idx_sessions_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	return err
}

func (s *MySQLStore) Create(ctx context.Context, sess *Session) error {
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
	state := sess.WorkflowState
	if len(state) == 0 {
		state = []byte("null")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.WorkflowType, string(sess.Status), sess.CurrentNode,
		sess.ExecutionCount, string(history), string(state), sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *MySQLStore) Get(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

func (s *MySQLStore) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = clock()
	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return err
	}
	state := sess.WorkflowState
	if len(state) == 0 {
		state = []byte("null")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_id=?, workflow_type=?, status=?, current_node=?, execution_count=?, conversation_history=?, workflow_state=?, updated_at=?
		WHERE session_id=?`,
		sess.UserID, sess.WorkflowType, string(sess.Status), sess.CurrentNode, sess.ExecutionCount,
		string(history), string(state), sess.UpdatedAt, sess.SessionID)
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

func (s *MySQLStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *MySQLStore) ListPendingApproval(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node, execution_count, conversation_history, workflow_state, created_at, updated_at
		FROM sessions WHERE status = ? ORDER BY created_at DESC`, string(StatusPendingApproval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *MySQLStore) Close() error { return s.db.Close() }
