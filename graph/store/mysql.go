package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is the "shared-cache" CheckpointStore backend: a
// connection-pooled relational store suitable for multiple engine
// replicas reading and writing the same session history (§4.1).
//
// Type parameter S is the state type to persist (must be
// JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens (and migrates) a MySQL-backed checkpoint store.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example:
//
//	user:password@tcp(127.0.0.1:3306)/workflows?parseTime=true
//
// Credentials should come from environment variables, never be
// hardcoded at the call site.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			checkpoint_id VARCHAR(64) NOT NULL UNIQUE,
			session_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			metadata JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_checkpoints_session (session_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// Save persists a new checkpoint row. Never overwrites: checkpoint_id
// is freshly generated per call and seq is an autoincrement primary key.
func (m *MySQLStore[S]) Save(ctx context.Context, sessionID, nodeID string, state S, metadata map[string]any) (string, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", fmt.Errorf("mysql store is closed")
	}
	m.mu.RUnlock()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	cpID := uuid.NewString()
	now := clock()

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, session_id, node_id, state, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		cpID, sessionID, nodeID, string(stateJSON), string(metaJSON), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return cpID, nil
}

// LoadLatest returns the checkpoint with the largest seq for sessionID.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT seq, checkpoint_id, session_id, node_id, state, metadata, created_at
		 FROM checkpoints WHERE session_id = ? ORDER BY seq DESC LIMIT 1`,
		sessionID,
	)
	var cp Checkpoint[S]
	var stateJSON, metaJSON string
	var createdAt time.Time
	if err := row.Scan(&cp.Seq, &cp.CheckpointID, &cp.SessionID, &cp.NodeID, &stateJSON, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return cp, ErrNotFound
		}
		return cp, fmt.Errorf("scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
		return cp, fmt.Errorf("unmarshal metadata: %w", err)
	}
	cp.CreatedAt = createdAt
	return cp, nil
}

// List returns every checkpoint for sessionID, oldest first.
func (m *MySQLStore[S]) List(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT seq, checkpoint_id, session_id, node_id, state, metadata, created_at
		 FROM checkpoints WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint[S]
	for rows.Next() {
		var cp Checkpoint[S]
		var stateJSON, metaJSON string
		var createdAt time.Time
		if err := rows.Scan(&cp.Seq, &cp.CheckpointID, &cp.SessionID, &cp.NodeID, &stateJSON, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		cp.CreatedAt = createdAt
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Clear deletes every checkpoint row for sessionID.
func (m *MySQLStore[S]) Clear(ctx context.Context, sessionID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the underlying connection pool.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
