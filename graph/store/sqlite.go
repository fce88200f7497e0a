package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the "embedded" CheckpointStore backend: a single-file
// durable table with indexes on session_id and checkpoint_id, suitable
// for a single engine replica (§4.1).
//
// Uses WAL mode for concurrent reads and a busy timeout so concurrent
// writers from different sessions don't immediately fail with
// SQLITE_BUSY.
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed checkpoint store.
//
// path may be a file path ("./workflow.db") or ":memory:" for a
// process-local, non-durable database useful in tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			checkpoint_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, seq)"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_id ON checkpoints(checkpoint_id)"); err != nil {
		return err
	}
	return nil
}

// Save persists a new checkpoint row. Never overwrites: checkpoint_id
// is freshly generated per call and seq is an autoincrement primary key.
func (s *SQLiteStore[S]) Save(ctx context.Context, sessionID, nodeID string, state S, metadata map[string]any) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", fmt.Errorf("sqlite store is closed")
	}
	s.mu.RUnlock()

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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, session_id, node_id, state, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		cpID, sessionID, nodeID, string(stateJSON), string(metaJSON), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return cpID, nil
}

// LoadLatest returns the checkpoint with the largest seq for sessionID.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx,
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
func (s *SQLiteStore[S]) List(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *SQLiteStore[S]) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
