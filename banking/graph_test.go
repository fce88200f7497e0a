package banking_test

import (
	"context"
	"testing"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/banking"
	"github.com/ledgerflow/workflow/classifier"
	"github.com/ledgerflow/workflow/downstream"
	"github.com/ledgerflow/workflow/graph/emit"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
	"github.com/ledgerflow/workflow/session"
)

const threshold = 5000.0
const confidenceThreshold = 0.80

func newHarness(t *testing.T) (*banking.Deps, session.Store, store.CheckpointStore[banking.State], *downstream.FakeClient) {
	t.Helper()
	checkpoints := store.NewMemCheckpointStore[banking.State]()
	sessions := session.NewMemStore()
	approvals := approval.NewMemStore()
	fake := downstream.NewFakeClient()

	gate := hil.New[banking.State](approvals, sessions, checkpoints, banking.Accessors(threshold), false)

	deps := &banking.Deps{
		Classifier:          classifier.NewRuleBased(),
		Downstream:          fake,
		Gate:                gate,
		Threshold:           threshold,
		ConfidenceThreshold: confidenceThreshold,
	}
	return deps, sessions, checkpoints, fake
}

func newSession(t *testing.T, sessions session.Store, sessionID string) {
	t.Helper()
	sess := &session.Session{SessionID: sessionID, UserID: "u1", WorkflowType: "banking", Status: session.StatusActive}
	if err := sessions.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
}

func TestBalanceInquiryEndToEnd(t *testing.T) {
	deps, sessions, checkpoints, _ := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s1")

	final, err := engine.Run(context.Background(), "s1", banking.State{
		Message: "what is my balance", SessionID: "s1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Response["balance"] != 10000.0 {
		t.Errorf("Response[balance] = %v, want 10000", final.Response["balance"])
	}
}

func TestLowValueTransferAutoApproves(t *testing.T) {
	deps, sessions, checkpoints, fake := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s2")

	final, err := engine.Run(context.Background(), "s2", banking.State{
		Message: "send $100 to Kiran", SessionID: "s2", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Halt {
		t.Fatal("expected turn to complete without halting")
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1", fake.TransferCallCount())
	}
	if final.HILDecision == nil || !final.HILDecision.Auto {
		t.Errorf("HILDecision = %+v, want auto-approved", final.HILDecision)
	}
}

func TestHighValueTransferPausesThenApproves(t *testing.T) {
	deps, sessions, checkpoints, fake := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s3")

	final, err := engine.Run(context.Background(), "s3", banking.State{
		Message: "send $9000 to Kiran", SessionID: "s3", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final.Halt {
		t.Fatal("expected turn to halt for approval")
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount = %d, want 0 before approval", fake.TransferCallCount())
	}

	sess, err := sessions.Get(context.Background(), "s3")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusPendingApproval {
		t.Errorf("session status = %v, want pending_approval", sess.Status)
	}

	resumed, err := deps.Gate.Approve(context.Background(), "s3", "approver-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	final, err = engine.ResumeFrom(context.Background(), "s3", "money_transfer_execute", resumed)
	if err != nil {
		t.Fatalf("ResumeFrom: %v", err)
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1 after approval", fake.TransferCallCount())
	}
	if final.Response["success"] != true {
		t.Errorf("Response[success] = %v, want true", final.Response["success"])
	}
}

func TestHighValueTransferRejected(t *testing.T) {
	deps, sessions, checkpoints, fake := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s4")

	if _, err := engine.Run(context.Background(), "s4", banking.State{
		Message: "send $9000 to Kiran", SessionID: "s4", UserID: "u1",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := deps.Gate.Reject(context.Background(), "s4", "approver-1", "not recognized"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	sess, err := sessions.Get(context.Background(), "s4")
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusRejected {
		t.Errorf("session status = %v, want rejected", sess.Status)
	}
	if err := sess.Transition(session.StatusCompleted); err == nil {
		t.Error("expected rejected to be terminal, but transition to completed succeeded")
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount = %d, want 0", fake.TransferCallCount())
	}
}

func TestEmptyMessageFallsBackWithoutDownstreamCall(t *testing.T) {
	deps, sessions, checkpoints, fake := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s5")

	final, err := engine.Run(context.Background(), "s5", banking.State{
		Message: "   ", SessionID: "s5", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Intent != string(classifier.IntentFallback) {
		t.Errorf("Intent = %v, want fallback", final.Intent)
	}
	if final.Error != "empty message" {
		t.Errorf("Error = %v, want 'empty message'", final.Error)
	}
	if fake.TransferCallCount() != 0 || len(fake.BalanceCalls) != 0 {
		t.Error("expected no downstream calls for an empty message")
	}
}

func TestConversationalCompletionAsksThenRequiresApproval(t *testing.T) {
	deps, sessions, checkpoints, fake := newHarness(t)
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	newSession(t, sessions, "s6")

	first, err := engine.Run(context.Background(), "s6", banking.State{
		Message: "send $100", SessionID: "s6", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Run (first turn): %v", err)
	}
	if !first.AwaitingCompletion {
		t.Fatal("expected first turn to await completion of the missing recipient")
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount after first turn = %d, want 0", fake.TransferCallCount())
	}

	second, err := engine.Run(context.Background(), "s6", banking.State{
		Message: "transfer to Kiran", SessionID: "s6", UserID: "u1",
		ContextAmount: first.ContextAmount, ContextRecipient: first.ContextRecipient,
		AwaitingCompletion: first.AwaitingCompletion,
	})
	if err != nil {
		t.Fatalf("Run (second turn): %v", err)
	}
	if !second.Halt {
		t.Fatal("expected the completed, low-confidence transfer to pause for approval")
	}
	if second.ApprovalReason != "conversational completion" {
		t.Errorf("ApprovalReason = %q, want conversational completion", second.ApprovalReason)
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount = %d, want 0 before approval", fake.TransferCallCount())
	}
}
