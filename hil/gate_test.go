package hil_test

import (
	"context"
	"testing"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
	"github.com/ledgerflow/workflow/session"
)

type state struct {
	Amount      float64
	Recipient   string
	Halted      bool
	Decision    *hil.Decision
}

func accessors() hil.Accessors[state] {
	return hil.Accessors[state]{
		ShouldPause: func(s state) bool { return s.Amount >= 5000 },
		Amount:      func(s state) float64 { return s.Amount },
		Recipient:   func(s state) string { return s.Recipient },
		RequestData: func(s state) map[string]any { return map[string]any{"amount": s.Amount, "recipient": s.Recipient} },
		SetHILDecision: func(s state, d hil.Decision) state {
			s.Decision = &d
			return s
		},
		SetHalt: func(s state, halt bool) state {
			s.Halted = halt
			return s
		},
	}
}

func newGate(t *testing.T) (*hil.Gate[state], session.Store, approval.Store, store.CheckpointStore[state]) {
	t.Helper()
	sessions := session.NewMemStore()
	approvals := approval.NewMemStore()
	checkpoints := store.NewMemCheckpointStore[state]()
	g := hil.New[state](approvals, sessions, checkpoints, accessors(), false)
	return g, sessions, approvals, checkpoints
}

func TestExecuteAutoApprovesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	g, sessions, _, _ := newGate(t)

	sess := &session.Session{SessionID: "s1", Status: session.StatusActive}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	out, err := g.Execute(ctx, "s1", "money_transfer_hil", state{Amount: 100})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Paused {
		t.Fatal("expected auto-approve, got paused")
	}
	if out.State.Decision == nil || !out.State.Decision.Approved || !out.State.Decision.Auto {
		t.Errorf("Decision = %+v, want approved+auto", out.State.Decision)
	}
}

func TestExecutePausesAboveThresholdAndApprove(t *testing.T) {
	ctx := context.Background()
	g, sessions, approvals, checkpoints := newGate(t)

	sess := &session.Session{SessionID: "s2", Status: session.StatusActive}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	out, err := g.Execute(ctx, "s2", "money_transfer_hil", state{Amount: 9000, Recipient: "Bob"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Paused {
		t.Fatal("expected pause above threshold")
	}
	if !out.State.Halted {
		t.Error("expected halt marker set on paused state")
	}

	got, err := sessions.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if got.Status != session.StatusPendingApproval {
		t.Errorf("session status = %v, want pending_approval", got.Status)
	}

	pending, err := approvals.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending = %v, %v, want 1 pending", pending, err)
	}

	cp, err := checkpoints.LoadLatest(ctx, "s2")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if store.MetaPhase(cp.Metadata) != store.PhasePause {
		t.Errorf("checkpoint phase = %v, want pause", store.MetaPhase(cp.Metadata))
	}

	final, err := g.Approve(ctx, "s2", "approver-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if final.Decision == nil || !final.Decision.Approved || final.Decision.Auto {
		t.Errorf("Decision = %+v, want approved, non-auto", final.Decision)
	}
	if final.Halted {
		t.Error("expected halt cleared after approve")
	}

	got, err = sessions.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get session after approve: %v", err)
	}
	if got.Status != session.StatusApproved {
		t.Errorf("session status = %v, want approved", got.Status)
	}
}

func TestRejectSetsSessionRejectedAndRefusesRedecision(t *testing.T) {
	ctx := context.Background()
	g, sessions, _, _ := newGate(t)

	sess := &session.Session{SessionID: "s3", Status: session.StatusActive}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if _, err := g.Execute(ctx, "s3", "money_transfer_hil", state{Amount: 9000, Recipient: "Carol"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final, err := g.Reject(ctx, "s3", "approver-1", "suspicious recipient")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if final.Decision == nil || final.Decision.Approved {
		t.Errorf("Decision = %+v, want rejected", final.Decision)
	}

	if _, err := g.Approve(ctx, "s3", "approver-2"); err == nil {
		t.Fatal("expected error re-deciding an already-rejected approval")
	}
}

func TestApproveIsIdempotentWhenReplayed(t *testing.T) {
	ctx := context.Background()
	g, sessions, _, checkpoints := newGate(t)

	sess := &session.Session{SessionID: "s4", Status: session.StatusActive}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if _, err := g.Execute(ctx, "s4", "money_transfer_hil", state{Amount: 9000, Recipient: "Dave"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	first, err := g.Approve(ctx, "s4", "approver-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	before, err := checkpoints.List(ctx, "s4")
	if err != nil {
		t.Fatalf("List checkpoints: %v", err)
	}

	replayed, err := g.Approve(ctx, "s4", "approver-1")
	if err != nil {
		t.Fatalf("replayed Approve: %v", err)
	}
	if replayed.Decision == nil || !replayed.Decision.Approved {
		t.Errorf("replayed Decision = %+v, want approved", replayed.Decision)
	}
	if replayed.Halted != first.Halted {
		t.Errorf("replayed Halted = %v, want %v", replayed.Halted, first.Halted)
	}

	after, err := checkpoints.List(ctx, "s4")
	if err != nil {
		t.Fatalf("List checkpoints after replay: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("checkpoint count = %d after replay, want unchanged %d", len(after), len(before))
	}

	got, err := sessions.Get(ctx, "s4")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if got.Status != session.StatusApproved {
		t.Errorf("session status = %v, want approved", got.Status)
	}

	if _, err := g.Reject(ctx, "s4", "approver-2", "changed my mind"); err == nil {
		t.Fatal("expected error rejecting an already-approved approval (mismatched outcome)")
	}
}
