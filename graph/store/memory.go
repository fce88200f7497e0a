package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemCheckpointStore is an in-memory CheckpointStore.
//
// Designed for testing and for single-process development -- data is
// lost when the process terminates. Thread-safe for concurrent access
// across sessions; the engine itself only ever touches one session at
// a time (see §5 of the specification this engine implements), but the
// facade serves many sessions concurrently.
type MemCheckpointStore[S any] struct {
	mu      sync.RWMutex
	records map[string][]Checkpoint[S] // sessionID -> ordered checkpoints
	seq     int64
}

// NewMemCheckpointStore creates a new in-memory checkpoint store.
func NewMemCheckpointStore[S any]() *MemCheckpointStore[S] {
	return &MemCheckpointStore[S]{
		records: make(map[string][]Checkpoint[S]),
	}
}

// Save appends a new checkpoint record. Thread-safe for concurrent writes.
func (m *MemCheckpointStore[S]) Save(_ context.Context, sessionID, nodeID string, state S, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	cp := Checkpoint[S]{
		CheckpointID: uuid.NewString(),
		SessionID:    sessionID,
		NodeID:       nodeID,
		State:        state,
		Metadata:     metadata,
		CreatedAt:    clock(),
		Seq:          m.seq,
	}
	m.records[sessionID] = append(m.records[sessionID], cp)
	return cp.CheckpointID, nil
}

// LoadLatest returns the checkpoint with the highest Seq for sessionID.
func (m *MemCheckpointStore[S]) LoadLatest(_ context.Context, sessionID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs, ok := m.records[sessionID]
	if !ok || len(recs) == 0 {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	return recs[len(recs)-1], nil
}

// List returns every checkpoint for sessionID, oldest first.
func (m *MemCheckpointStore[S]) List(_ context.Context, sessionID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[sessionID]
	out := make([]Checkpoint[S], len(recs))
	copy(out, recs)
	return out, nil
}

// Clear removes every checkpoint for sessionID.
func (m *MemCheckpointStore[S]) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemCheckpointStore[S]) Close() error { return nil }
