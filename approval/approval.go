// Package approval implements the ApprovalRequest record the HIL gate
// creates when a turn pauses for a human decision, and the store that
// persists it. Exactly one approval is ever pending per session
// (invariant I3); once decided an approval is terminal (invariant I4).
package approval

import (
	"time"

	"github.com/ledgerflow/workflow/errs"
)

// Status is the lifecycle of a single approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// Request is a single human-in-the-loop decision point.
type Request struct {
	ApprovalID       string         `json:"approval_id"`
	SessionID        string         `json:"session_id"`
	WorkflowType     string         `json:"workflow_type"`
	RequestData      map[string]any `json:"request_data"`
	Status           Status         `json:"status"`
	Amount           float64        `json:"amount"`
	Recipient        string         `json:"recipient"`
	RequestedAt      time.Time      `json:"requested_at"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	ApproverID       string         `json:"approver_id,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
}

// Decide transitions the request to approved or rejected. It refuses
// to re-decide an already-terminal request (invariant I4): approving
// or rejecting an approval that is not StatusPending is a conflict,
// not a silent no-op.
func (r *Request) Decide(approved bool, approverID, rejectionReason string, at time.Time) error {
	if r.Status != StatusPending {
		return errs.Conflict(r.ApprovalID, "approval already decided: "+string(r.Status))
	}
	if approved {
		r.Status = StatusApproved
		r.ApproverID = approverID
		r.ApprovedAt = &at
	} else {
		r.Status = StatusRejected
		r.ApproverID = approverID
		r.RejectionReason = rejectionReason
	}
	return nil
}
