package approval

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ledgerflow/workflow/errs"
)

// MemStore is an in-memory Store for tests and single-process dev.
type MemStore struct {
	mu       sync.RWMutex
	requests map[string]Request // approvalID -> request
	bySession map[string][]string // sessionID -> approvalIDs, oldest first
}

// NewMemStore creates a new in-memory approval store.
func NewMemStore() *MemStore {
	return &MemStore{
		requests:  make(map[string]Request),
		bySession: make(map[string][]string),
	}
}

func (m *MemStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.bySession[r.SessionID] {
		if m.requests[id].Status == StatusPending {
			return errs.Conflict(r.SessionID, "session already has a pending approval")
		}
	}

	if r.ApprovalID == "" {
		r.ApprovalID = uuid.NewString()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = clock()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}

	m.requests[r.ApprovalID] = *r
	m.bySession[r.SessionID] = append(m.bySession[r.SessionID], r.ApprovalID)
	return nil
}

func (m *MemStore) Get(_ context.Context, approvalID string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[approvalID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (m *MemStore) LatestForSession(_ context.Context, sessionID string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.bySession[sessionID]
	if len(ids) == 0 {
		return Request{}, ErrNotFound
	}
	return m.requests[ids[len(ids)-1]], nil
}

func (m *MemStore) Update(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ApprovalID]; !ok {
		return ErrNotFound
	}
	m.requests[r.ApprovalID] = *r
	return nil
}

func (m *MemStore) ListPending(_ context.Context) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Request
	for _, r := range m.requests {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].RequestedAt.After(out[j-1].RequestedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }
