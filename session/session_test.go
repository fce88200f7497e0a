package session_test

import (
	"context"
	"testing"

	"github.com/ledgerflow/workflow/errs"
	"github.com/ledgerflow/workflow/session"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusActive, session.StatusPendingApproval, true},
		{session.StatusActive, session.StatusCompleted, true},
		{session.StatusPendingApproval, session.StatusApproved, true},
		{session.StatusPendingApproval, session.StatusRejected, true},
		{session.StatusApproved, session.StatusActive, false},
		{session.StatusRejected, session.StatusApproved, false},
		{session.StatusCompleted, session.StatusActive, false},
		{session.StatusFailed, session.StatusActive, false},
	}
	for _, c := range cases {
		if got := session.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestSessionTransitionRejectsInvalid(t *testing.T) {
	s := &session.Session{SessionID: "s1", Status: session.StatusCompleted}
	err := s.Transition(session.StatusActive)
	if err == nil {
		t.Fatal("expected error transitioning out of a terminal status")
	}
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("KindOf(err) = %v, want KindConflict", errs.KindOf(err))
	}
}

func TestMemStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemStore()

	s := &session.Session{UserID: "u1", WorkflowType: "banking", Status: session.StatusActive}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.SessionID == "" {
		t.Fatal("expected SessionID to be assigned")
	}

	got, err := store.Get(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got.UserID)
	}

	if err := got.Transition(session.StatusPendingApproval); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Update(ctx, &got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending, err := store.ListPendingApproval(ctx)
	if err != nil {
		t.Fatalf("ListPendingApproval: %v", err)
	}
	if len(pending) != 1 || pending[0].SessionID != s.SessionID {
		t.Errorf("ListPendingApproval = %v, want [%s]", pending, s.SessionID)
	}
}

func TestMemStoreGetMissingIsNotFound(t *testing.T) {
	store := session.NewMemStore()
	if _, err := store.Get(context.Background(), "missing"); err != session.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
