// Package session implements the per-conversation container described
// in the workflow engine's data model: user id, workflow type, status,
// timestamps, the node currently paused or last run, an idempotency
// counter, the conversation history, and the last-known workflow
// state. SessionStore persists it with the same Mem/SQLite/MySQL
// backend split as graph/store's CheckpointStore.
package session

import (
	"time"

	"github.com/ledgerflow/workflow/errs"
)

// Status is one of the seven session lifecycle states.
type Status string

const (
	StatusActive          Status = "active"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusTimeout         Status = "timeout"
)

// validTransitions enumerates the allowed status transitions. A
// session starts active; it either runs to completion/failure in one
// turn, or a HIL gate parks it at pending_approval until an approval
// decision (or an external timeout sweeper, per the engine's open
// question on who enforces timeout) moves it on. rejected is terminal;
// approved is transient: the resumed run carries the session on to
// completed or failed.
var validTransitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusPendingApproval: true,
		StatusCompleted:       true,
		StatusFailed:          true,
	},
	StatusPendingApproval: {
		StatusApproved: true,
		StatusRejected: true,
		StatusTimeout:  true,
	},
	StatusApproved: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusRejected:  {},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusTimeout:   {},
}

// CanTransition reports whether moving from 'from' to 'to' is allowed.
func CanTransition(from, to Status) bool {
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is the per-conversation record. WorkflowState is stored as
// opaque JSON (json.RawMessage in the SQL backends) so that the
// session package has no dependency on any concrete workflow state
// type such as banking.State.
type Session struct {
	SessionID           string    `json:"session_id"`
	UserID              string    `json:"user_id"`
	WorkflowType        string    `json:"workflow_type"`
	Status              Status    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	CurrentNode         string    `json:"current_node"`
	ExecutionCount      int       `json:"execution_count"`
	ConversationHistory []Message `json:"conversation_history"`
	WorkflowState       []byte    `json:"workflow_state"`
}

// Transition moves the session to 'to', returning an errs.Conflict if
// the transition is not allowed from the session's current status.
// Callers still must persist the session afterward.
func (s *Session) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return errs.Conflict(s.SessionID, "cannot transition session from "+string(s.Status)+" to "+string(to))
	}
	s.Status = to
	return nil
}
