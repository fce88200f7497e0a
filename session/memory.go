package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and single-process dev.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemStore creates a new in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Session)}
}

func (m *MemStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	now := clock()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *MemStore) Get(_ context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.SessionID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = clock()
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *MemStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortByCreatedAtDesc(out)
	return out, nil
}

func (m *MemStore) ListPendingApproval(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Status == StatusPendingApproval {
			out = append(out, s)
		}
	}
	sortByCreatedAtDesc(out)
	return out, nil
}

func (m *MemStore) Close() error { return nil }

func sortByCreatedAtDesc(sessions []Session) {
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].CreatedAt.After(sessions[j-1].CreatedAt); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}
