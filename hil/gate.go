// Package hil implements the human-in-the-loop gate: a node that
// either auto-approves a state transition or parks the session at
// pending_approval until an external Approve/Reject decision arrives.
// It is generic over the workflow state type the same way graph.Engine
// is, using accessor functions rather than requiring S to implement an
// interface (see Accessors).
package hil

import (
	"context"
	"time"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/errs"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/session"
)

// Decision is the outcome merged into state once a gate is resolved,
// auto or human. Mirrors the data model's hil_decision field exactly.
type Decision struct {
	Approved   bool      `json:"approved"`
	ApproverID string    `json:"approver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Auto       bool      `json:"auto,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Accessors bridges the generic gate to a concrete state type S. The
// threshold predicate is itself a plain function of state (§9's "a
// single boolean expression", not a subclass hierarchy) so that
// "amount over threshold OR conversational completion OR low
// confidence" composes with ordinary boolean operators in the caller.
type Accessors[S any] struct {
	ShouldPause    func(state S) bool
	Amount         func(state S) float64
	Recipient      func(state S) string
	RequestData    func(state S) map[string]any
	SetHILDecision func(state S, d Decision) S
	SetHalt        func(state S, halt bool) S
}

// Gate executes, approves, and rejects human-in-the-loop pauses for
// workflow state type S, against a shared approval.Store, session.Store,
// and checkpoint store.CheckpointStore[S].
type Gate[S any] struct {
	approvals   approval.Store
	sessions    session.Store
	checkpoints store.CheckpointStore[S]
	accessors   Accessors[S]
	autoApprove bool
	clock       func() time.Time
}

// New constructs a Gate. autoApprove mirrors the hil.auto_approve
// configuration key: when true, every gate auto-approves regardless of
// ShouldPause, useful for local development and tests.
func New[S any](approvals approval.Store, sessions session.Store, checkpoints store.CheckpointStore[S], accessors Accessors[S], autoApprove bool) *Gate[S] {
	return &Gate[S]{
		approvals:   approvals,
		sessions:    sessions,
		checkpoints: checkpoints,
		accessors:   accessors,
		autoApprove: autoApprove,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Outcome is what Execute returns: either the turn continues
// (Paused == false, State carries the merged auto-approved decision)
// or it has been parked at pending_approval (Paused == true, the
// other fields describing where and why).
type Outcome[S any] struct {
	State        S
	Paused       bool
	ApprovalID   string
	CheckpointID string
	Amount       float64
	Recipient    string
	PausedAt     time.Time
}

// Execute runs the gate against state at nodeID within sessionID. When
// the predicate does not require a human decision it merges an
// auto-approved Decision and returns immediately; otherwise it creates
// a pending approval.Request, writes an explicit phase=pause
// checkpoint (carrying the approval id in its metadata; the engine
// skips its own end checkpoint for a node that halts, so this pause
// record stays the session's latest checkpoint),
// transitions the session to pending_approval, and sets the state's
// halt marker so the engine's HaltCheck stops the turn here.
func (g *Gate[S]) Execute(ctx context.Context, sessionID, nodeID string, state S) (Outcome[S], error) {
	if g.autoApprove || !g.accessors.ShouldPause(state) {
		now := g.clock()
		state = g.accessors.SetHILDecision(state, Decision{Approved: true, Auto: true, DecidedAt: now})
		return Outcome[S]{State: state, Paused: false}, nil
	}

	amount := g.accessors.Amount(state)
	recipient := g.accessors.Recipient(state)
	requestData := g.accessors.RequestData(state)
	now := g.clock()

	req := &approval.Request{
		SessionID:   sessionID,
		RequestData: requestData,
		Amount:      amount,
		Recipient:   recipient,
		RequestedAt: now,
	}
	if err := g.approvals.Create(ctx, req); err != nil {
		return Outcome[S]{}, err
	}

	haltState := g.accessors.SetHalt(state, true)
	checkpointID, err := g.checkpoints.Save(ctx, sessionID, nodeID, haltState, map[string]any{
		"phase":       store.PhasePause,
		"approval_id": req.ApprovalID,
	})
	if err != nil {
		return Outcome[S]{}, errs.Storage(sessionID, "save pause checkpoint", err)
	}

	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome[S]{}, err
	}
	if err := sess.Transition(session.StatusPendingApproval); err != nil {
		return Outcome[S]{}, err
	}
	sess.CurrentNode = nodeID
	if err := g.sessions.Update(ctx, &sess); err != nil {
		return Outcome[S]{}, err
	}

	return Outcome[S]{
		State:        haltState,
		Paused:       true,
		ApprovalID:   req.ApprovalID,
		CheckpointID: checkpointID,
		Amount:       amount,
		Recipient:    recipient,
		PausedAt:     now,
	}, nil
}

// Approve decides sessionID's latest pending approval in favor,
// asserts the latest checkpoint is the phase=pause record invariant I2
// requires, unwraps its state (handling the legacy
// {workflow_state: {...}} envelope per §9), merges an approved
// Decision, writes a phase=approved checkpoint, and transitions the
// session to approved. It does not resume the graph; the caller is
// expected to feed the returned state into Engine.ResumeFrom.
//
// Replaying Approve against a session whose latest approval is already
// approved is idempotent: it returns the previously persisted decided
// state with no new checkpoint. Calling it against an already-rejected
// session (a mismatched outcome) still fails with Conflict.
func (g *Gate[S]) Approve(ctx context.Context, sessionID, approverID string) (S, error) {
	return g.decide(ctx, sessionID, true, approverID, "")
}

// Reject mirrors Approve for a negative decision.
func (g *Gate[S]) Reject(ctx context.Context, sessionID, approverID, reason string) (S, error) {
	return g.decide(ctx, sessionID, false, approverID, reason)
}

func (g *Gate[S]) decide(ctx context.Context, sessionID string, approved bool, approverID, reason string) (S, error) {
	var zero S

	req, err := g.approvals.LatestForSession(ctx, sessionID)
	if err != nil {
		return zero, err
	}

	if req.Status != approval.StatusPending {
		wantStatus := approval.StatusRejected
		if approved {
			wantStatus = approval.StatusApproved
		}
		if req.Status != wantStatus {
			return zero, errs.Conflict(sessionID, "approval already decided: "+string(req.Status))
		}
		// Replaying the same decision against an already-decided approval
		// is idempotent: return the state the original decide() already
		// persisted instead of writing a second checkpoint or erroring.
		// Later checkpoints (a resumed run) may follow the decision, so
		// search back for the decision checkpoint itself.
		cps, err := g.checkpoints.List(ctx, sessionID)
		if err != nil {
			return zero, errs.Storage(sessionID, "load decided state for idempotent replay", err)
		}
		wantPhase := store.PhaseRejected
		if approved {
			wantPhase = store.PhaseApproved
		}
		for i := len(cps) - 1; i >= 0; i-- {
			if store.MetaPhase(cps[i].Metadata) == wantPhase {
				return cps[i].State, nil
			}
		}
		return zero, errs.Conflict(sessionID, "no decision checkpoint to replay")
	}

	now := g.clock()
	if err := req.Decide(approved, approverID, reason, now); err != nil {
		return zero, err
	}
	if err := g.approvals.Update(ctx, &req); err != nil {
		return zero, err
	}

	cp, err := g.checkpoints.LoadLatest(ctx, sessionID)
	if err != nil {
		return zero, errs.Storage(sessionID, "load latest checkpoint for decision", err)
	}
	if store.MetaPhase(cp.Metadata) != store.PhasePause {
		return zero, errs.Conflict(sessionID, "latest checkpoint is not a pending pause")
	}

	state := cp.State
	decision := Decision{Approved: approved, ApproverID: approverID, Reason: reason, DecidedAt: now}
	state = g.accessors.SetHILDecision(state, decision)
	state = g.accessors.SetHalt(state, false)

	phase := store.PhaseApproved
	nextStatus := session.StatusApproved
	if !approved {
		phase = store.PhaseRejected
		nextStatus = session.StatusRejected
	}

	if _, err := g.checkpoints.Save(ctx, sessionID, cp.NodeID, state, map[string]any{
		"phase":       phase,
		"approval_id": req.ApprovalID,
	}); err != nil {
		return zero, errs.Storage(sessionID, "save decision checkpoint", err)
	}

	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return zero, err
	}
	if err := sess.Transition(nextStatus); err != nil {
		return zero, err
	}
	if err := g.sessions.Update(ctx, &sess); err != nil {
		return zero, err
	}

	return state, nil
}
