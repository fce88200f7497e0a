package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/errs"
)

func TestCreateRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	store := approval.NewMemStore()

	r1 := &approval.Request{SessionID: "s1", Amount: 100}
	if err := store.Create(ctx, r1); err != nil {
		t.Fatalf("Create r1: %v", err)
	}

	r2 := &approval.Request{SessionID: "s1", Amount: 200}
	err := store.Create(ctx, r2)
	if err == nil {
		t.Fatal("expected conflict creating a second pending approval for the same session")
	}
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("KindOf(err) = %v, want KindConflict", errs.KindOf(err))
	}
}

func TestDecideRejectsRedecision(t *testing.T) {
	r := &approval.Request{ApprovalID: "a1", Status: approval.StatusPending}
	if err := r.Decide(true, "approver-1", "", time.Now()); err != nil {
		t.Fatalf("first Decide: %v", err)
	}
	if r.Status != approval.StatusApproved {
		t.Fatalf("Status = %v, want approved", r.Status)
	}

	err := r.Decide(false, "approver-2", "too late", time.Now())
	if err == nil {
		t.Fatal("expected conflict re-deciding an already-decided approval")
	}
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("KindOf(err) = %v, want KindConflict", errs.KindOf(err))
	}
}

func TestLatestForSessionAndListPending(t *testing.T) {
	ctx := context.Background()
	store := approval.NewMemStore()

	r1 := &approval.Request{SessionID: "s1", Amount: 100}
	if err := store.Create(ctx, r1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	latest, err := store.LatestForSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LatestForSession: %v", err)
	}
	if latest.ApprovalID != r1.ApprovalID {
		t.Errorf("LatestForSession = %v, want %v", latest.ApprovalID, r1.ApprovalID)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("ListPending returned %d, want 1", len(pending))
	}

	latest.Status = approval.StatusApproved
	if err := store.Update(ctx, &latest); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending, err = store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending after decide: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("ListPending after decide returned %d, want 0", len(pending))
	}

	r2 := &approval.Request{SessionID: "s1", Amount: 50}
	if err := store.Create(ctx, r2); err != nil {
		t.Fatalf("Create r2: %v", err)
	}
}
