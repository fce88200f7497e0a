// Package store provides persistence implementations for checkpoints:
// the append-only per-session log of node-boundary snapshots the
// engine writes to and the facade/HIL gate read from. Two real
// backends are provided (SQLiteStore for the "embedded" deployment,
// MySQLStore for the "shared-cache" multi-replica deployment) plus an
// in-memory store for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session has no checkpoints,
// or a specific checkpoint id does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// CheckpointStore persists the append-only checkpoint log described in
// §4.1 of the workflow engine's specification: save never overwrites,
// load-latest returns the record with the largest CreatedAt for a
// session, list returns the full ordered history, and clear is an
// administrative operation the engine itself never calls.
//
// Type parameter S is the workflow state type to persist.
type CheckpointStore[S any] interface {
	// Save persists a new checkpoint record with a server-assigned id
	// and CreatedAt. It never overwrites an existing record.
	Save(ctx context.Context, sessionID, nodeID string, state S, metadata map[string]any) (checkpointID string, err error)

	// LoadLatest returns the checkpoint with the largest CreatedAt for
	// sessionID, or ErrNotFound if the session has none.
	LoadLatest(ctx context.Context, sessionID string) (Checkpoint[S], error)

	// List returns every checkpoint for sessionID ordered by CreatedAt
	// ascending (oldest first).
	List(ctx context.Context, sessionID string) ([]Checkpoint[S], error)

	// Clear removes every checkpoint for sessionID. Administrative
	// only -- the engine itself never calls Clear.
	Clear(ctx context.Context, sessionID string) error

	// Close releases any underlying resources (database handles).
	Close() error
}

// clock lets stores stamp CreatedAt deterministically in tests.
var clock = func() time.Time { return time.Now().UTC() }
