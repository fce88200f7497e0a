package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session: not found")

// Store persists Session records. Create assigns SessionID if empty;
// Update rejects an invalid status transition by returning the
// errs.Conflict from Session.Transition (callers should call
// Transition before Update, not rely on Update to validate).
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Update(ctx context.Context, s *Session) error

	// ListByUser returns every session for userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	// ListPendingApproval returns every session currently parked at
	// StatusPendingApproval, used by GET /approvals/pending.
	ListPendingApproval(ctx context.Context) ([]Session, error)

	Close() error
}

var clock = func() time.Time { return time.Now().UTC() }
