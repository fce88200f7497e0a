package facade_test

import (
	"context"
	"testing"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/banking"
	"github.com/ledgerflow/workflow/classifier"
	"github.com/ledgerflow/workflow/downstream"
	"github.com/ledgerflow/workflow/facade"
	"github.com/ledgerflow/workflow/graph/emit"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
	"github.com/ledgerflow/workflow/session"
)

const threshold = 5000.0
const confidenceThreshold = 0.80

func newHarness(t *testing.T) (*facade.Facade, session.Store, *downstream.FakeClient) {
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
	engine, err := banking.New(checkpoints, emit.NewNullEmitter(), deps)
	if err != nil {
		t.Fatalf("banking.New: %v", err)
	}

	return facade.New(engine, gate, sessions, approvals, checkpoints), sessions, fake
}

func TestChatCreatesSessionAndCompletesLowValueTransfer(t *testing.T) {
	ctx := context.Background()
	f, sessions, fake := newHarness(t)

	resp, err := f.Chat(ctx, facade.ChatRequest{Message: "send $100 to Kiran", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1", fake.TransferCallCount())
	}

	sess, err := sessions.Get(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("session status = %v, want completed", sess.Status)
	}
	if sess.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1", sess.ExecutionCount)
	}
	if len(sess.ConversationHistory) != 2 {
		t.Errorf("ConversationHistory len = %d, want 2 (user + assistant)", len(sess.ConversationHistory))
	}
}

func TestChatPausesThenApproveCompletesTransfer(t *testing.T) {
	ctx := context.Background()
	f, sessions, fake := newHarness(t)

	resp, err := f.Chat(ctx, facade.ChatRequest{Message: "send $9000 to Kiran", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Status != "PENDING_APPROVAL" {
		t.Fatalf("Status = %q, want PENDING_APPROVAL", resp.Status)
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount = %d, want 0 before approval", fake.TransferCallCount())
	}

	sess, err := sessions.Get(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusPendingApproval {
		t.Errorf("session status = %v, want pending_approval", sess.Status)
	}

	approveResp, err := f.Approve(ctx, resp.SessionID, facade.ApproveRequest{ApproverID: "mgr-1", Approved: true})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approveResp.Status != "approved" {
		t.Errorf("Status = %q, want approved", approveResp.Status)
	}
	if approveResp.Result == nil || approveResp.Result.Data["success"] != true {
		t.Errorf("Result = %+v, want success=true", approveResp.Result)
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1 after approval", fake.TransferCallCount())
	}

	sess, err = sessions.Get(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("session status = %v, want completed", sess.Status)
	}
}

func TestChatPausesThenRejectLeavesSessionTerminal(t *testing.T) {
	ctx := context.Background()
	f, sessions, fake := newHarness(t)

	resp, err := f.Chat(ctx, facade.ChatRequest{Message: "send $9000 to Kiran", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	rejectResp, err := f.Approve(ctx, resp.SessionID, facade.ApproveRequest{
		ApproverID: "mgr-1", Approved: false, Reason: "suspicious",
	})
	if err != nil {
		t.Fatalf("Approve (reject): %v", err)
	}
	if rejectResp.Status != "rejected" {
		t.Errorf("Status = %q, want rejected", rejectResp.Status)
	}
	if rejectResp.Reason != "suspicious" {
		t.Errorf("Reason = %q, want suspicious", rejectResp.Reason)
	}
	if fake.TransferCallCount() != 0 {
		t.Errorf("TransferCallCount = %d, want 0", fake.TransferCallCount())
	}

	sess, err := sessions.Get(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusRejected {
		t.Errorf("session status = %v, want rejected", sess.Status)
	}

	if _, err := f.Approve(ctx, resp.SessionID, facade.ApproveRequest{ApproverID: "mgr-2", Approved: true}); err == nil {
		t.Error("expected approving an already-rejected session to fail")
	}
}

func TestChatDuplicateMessageIsReplayedWithoutSecondDownstreamCall(t *testing.T) {
	ctx := context.Background()
	f, _, fake := newHarness(t)

	first, err := f.Chat(ctx, facade.ChatRequest{Message: "send $100 to Kiran", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat (first): %v", err)
	}

	second, err := f.Chat(ctx, facade.ChatRequest{
		Message: "send $100 to Kiran", SessionID: first.SessionID, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Chat (duplicate): %v", err)
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1 (duplicate must not re-execute)", fake.TransferCallCount())
	}
	if second.SessionID != first.SessionID {
		t.Errorf("SessionID = %q, want %q", second.SessionID, first.SessionID)
	}
}

func TestChatDoesNotCarryExecutionHistoryOrApprovalFlagsAcrossTurns(t *testing.T) {
	ctx := context.Background()
	f, _, fake := newHarness(t)

	first, err := f.Chat(ctx, facade.ChatRequest{Message: "what is my balance", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat (first): %v", err)
	}

	// A low-confidence fallback message sets needs_approval/approval_reason
	// on the persisted state (via ConfidenceCheck, which only ever sets
	// them true and never resets them) without itself routing through the
	// HIL gate, since it isn't a transfer.
	second, err := f.Chat(ctx, facade.ChatRequest{
		Message: "wanna check something", SessionID: first.SessionID, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Chat (second): %v", err)
	}
	if len(second.ExecutionHistory) != len(first.ExecutionHistory) {
		t.Errorf("ExecutionHistory len = %d, want %d (must not accumulate across turns)",
			len(second.ExecutionHistory), len(first.ExecutionHistory))
	}

	// A clean, high-confidence, low-value transfer on the same session
	// must not inherit the prior turn's needs_approval/approval_reason and
	// must execute without pausing.
	third, err := f.Chat(ctx, facade.ChatRequest{
		Message: "send $100 to Kiran", SessionID: first.SessionID, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Chat (third): %v", err)
	}
	if third.Status == "PENDING_APPROVAL" {
		t.Fatal("expected a clean high-confidence transfer not to pause for approval")
	}
	if fake.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1", fake.TransferCallCount())
	}
	if len(third.ExecutionHistory) == 0 {
		t.Error("expected a non-empty execution history for the transfer turn")
	}
}

func TestStatusAndCheckpointsReflectCompletedBalanceInquiry(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newHarness(t)

	resp, err := f.Chat(ctx, facade.ChatRequest{Message: "what is my balance", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	status, err := f.Status(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != session.StatusCompleted {
		t.Errorf("Status.Status = %v, want completed", status.Status)
	}
	if status.Checkpoints == 0 {
		t.Error("expected at least one checkpoint to have been recorded")
	}

	checkpoints, err := f.ListCheckpoints(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(checkpoints) != status.Checkpoints {
		t.Errorf("len(checkpoints) = %d, want %d", len(checkpoints), status.Checkpoints)
	}
}

func TestStatusOnUnknownSessionIsNotFound(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newHarness(t)

	if _, err := f.Status(ctx, "does-not-exist"); err == nil {
		t.Error("expected a not-found error for an unknown session")
	}
}

func TestListSessionsAndPendingApprovals(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newHarness(t)

	resp, err := f.Chat(ctx, facade.ChatRequest{Message: "send $9000 to Kiran", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	sessions, err := f.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != resp.SessionID {
		t.Errorf("ListSessions = %+v, want one entry for %s", sessions, resp.SessionID)
	}

	pending, err := f.PendingApprovals(ctx)
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("PendingApprovals len = %d, want 1", len(pending))
	}
}
