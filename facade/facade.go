// Package facade implements the Request/Response Facade (§4.7): the
// small RPC surface a caller drives a banking conversation through. It
// owns session load-or-create, execution_count bookkeeping,
// conversation history, and the replay-dedup policy §5 recommends; it
// translates graph/session/approval errors into the errs taxonomy the
// HTTP layer renders uniformly.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ledgerflow/workflow/approval"
	"github.com/ledgerflow/workflow/banking"
	"github.com/ledgerflow/workflow/errs"
	"github.com/ledgerflow/workflow/graph"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
	"github.com/ledgerflow/workflow/session"
)

// replayWindow bounds how long a duplicate consecutive message is
// treated as a replay rather than a new turn (§5: "a small window",
// left implementation-defined).
const replayWindow = 30 * time.Second

// Facade wires the banking graph to the session/approval/checkpoint
// stores described in §4.7.
type Facade struct {
	Engine      *graph.Engine[banking.State]
	Gate        *hil.Gate[banking.State]
	Sessions    session.Store
	Approvals   approval.Store
	Checkpoints store.CheckpointStore[banking.State]

	mu      sync.Mutex
	replays map[string]cachedTurn
}

type cachedTurn struct {
	content  string
	response ChatResponse
	at       time.Time
}

// New constructs a Facade over the given collaborators.
func New(engine *graph.Engine[banking.State], gate *hil.Gate[banking.State], sessions session.Store, approvals approval.Store, checkpoints store.CheckpointStore[banking.State]) *Facade {
	return &Facade{
		Engine:      engine,
		Gate:        gate,
		Sessions:    sessions,
		Approvals:   approvals,
		Checkpoints: checkpoints,
		replays:     make(map[string]cachedTurn),
	}
}

// ChatRequest is POST /chat's body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ChatResponse is POST /chat's response, covering both the terminal
// and PENDING_APPROVAL shapes (§6).
type ChatResponse struct {
	Reply            map[string]any `json:"reply"`
	SessionID        string         `json:"session_id"`
	ExecutionHistory []string       `json:"execution_history,omitempty"`
	Status           string         `json:"status,omitempty"`
}

// Chat implements POST /chat.
func (f *Facade) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	sess, seeded, err := f.loadOrCreateSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return ChatResponse{}, err
	}

	if sess.Status == session.StatusPendingApproval {
		return ChatResponse{}, errs.Conflict(sess.SessionID, "session is awaiting an approval decision")
	}

	if cached, ok := f.replayed(sess.SessionID, req.Message); ok {
		return cached, nil
	}

	// Only the carry-forward slots survive into a new turn (§3:
	// context_amount/context_recipient/awaiting_completion, plus the
	// account a session acts on); everything else -- confidence, intent,
	// needs_approval/approval_reason, hil_decision, execution_history --
	// is per-turn and must start clean. ConfidenceCheck only ever sets
	// needs_approval true and never resets it, so a stale approval flag
	// from an unrelated earlier turn would otherwise poison this one.
	initial := banking.State{
		Message:            req.Message,
		UserID:             req.UserID,
		SessionID:          sess.SessionID,
		FromAccount:        seeded.FromAccount,
		ContextAmount:      seeded.ContextAmount,
		ContextRecipient:   seeded.ContextRecipient,
		AwaitingCompletion: seeded.AwaitingCompletion,
	}

	sess.ExecutionCount++
	sess.ConversationHistory = append(sess.ConversationHistory, session.Message{
		Role: "user", Content: req.Message, Timestamp: time.Now().UTC(),
	})
	if sess.Status != session.StatusActive {
		if err := sess.Transition(session.StatusActive); err != nil {
			return ChatResponse{}, err
		}
	}
	if err := f.Sessions.Update(ctx, &sess); err != nil {
		return ChatResponse{}, errs.Storage(sess.SessionID, "persist inbound turn", err)
	}

	final, runErr := f.Engine.Run(ctx, sess.SessionID, initial)
	resp, err := f.finishTurn(ctx, sess.SessionID, final, runErr)
	if err != nil {
		return ChatResponse{}, err
	}

	f.cacheReplay(sess.SessionID, req.Message, resp)
	return resp, nil
}

// finishTurn persists the outcome of a Run/ResumeFrom call (paused,
// completed, or failed) and builds the response envelope.
func (f *Facade) finishTurn(ctx context.Context, sessionID string, final banking.State, runErr error) (ChatResponse, error) {
	if runErr != nil {
		kind := errs.KindOf(runErr)
		if kind == errs.KindRouting || kind == errs.KindStorage {
			f.markFailed(ctx, sessionID)
		}
		return ChatResponse{}, runErr
	}

	if final.Halt {
		// The HIL gate already transitioned the session to
		// pending_approval and saved its own checkpoint; only the
		// conversation history needs the assistant's turn appended here.
		f.appendAssistantTurn(ctx, sessionID, final)
		return ChatResponse{
			Reply:     final.Response,
			SessionID: sessionID,
			Status:    "PENDING_APPROVAL",
		}, nil
	}

	if err := f.completeTurn(ctx, sessionID, final); err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{
		Reply:            final.Response,
		SessionID:        sessionID,
		ExecutionHistory: final.ExecutionHistory,
	}, nil
}

// completeTurn persists a session that reached a terminal node:
// status completed (even on a DownstreamError, per §7 -- the engine
// itself succeeded), serialized workflow state, and the assistant's
// reply appended to history. A turn that ends awaiting completion (a
// clarification question) leaves the session active so the next
// message can continue it.
func (f *Facade) completeTurn(ctx context.Context, sessionID string, final banking.State) error {
	sess, err := f.Sessions.Get(ctx, sessionID)
	if err != nil {
		return errs.Storage(sessionID, "load session to complete turn", err)
	}

	stateJSON, err := json.Marshal(final)
	if err != nil {
		return errs.Storage(sessionID, "serialize workflow state", err)
	}
	sess.WorkflowState = stateJSON
	sess.CurrentNode = lastNode(final.ExecutionHistory)
	sess.ConversationHistory = append(sess.ConversationHistory, session.Message{
		Role: "assistant", Content: replyText(final.Response), Timestamp: time.Now().UTC(),
	})

	if !final.AwaitingCompletion && sess.Status != session.StatusCompleted {
		if err := sess.Transition(session.StatusCompleted); err != nil {
			return err
		}
	}
	if err := f.Sessions.Update(ctx, &sess); err != nil {
		return errs.Storage(sessionID, "persist completed turn", err)
	}
	return nil
}

func (f *Facade) appendAssistantTurn(ctx context.Context, sessionID string, final banking.State) {
	sess, err := f.Sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}
	stateJSON, err := json.Marshal(final)
	if err == nil {
		sess.WorkflowState = stateJSON
	}
	sess.ConversationHistory = append(sess.ConversationHistory, session.Message{
		Role: "assistant", Content: replyText(final.Response), Timestamp: time.Now().UTC(),
	})
	_ = f.Sessions.Update(ctx, &sess)
}

func (f *Facade) markFailed(ctx context.Context, sessionID string) {
	sess, err := f.Sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}
	if sess.Status == session.StatusFailed {
		return
	}
	if err := sess.Transition(session.StatusFailed); err != nil {
		return
	}
	_ = f.Sessions.Update(ctx, &sess)
}

// ApproveRequest is POST /workflow/{session_id}/approve's body.
type ApproveRequest struct {
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ApproveResponse covers both the approved and rejected shapes (§6).
type ApproveResponse struct {
	Status     string          `json:"status"`
	SessionID  string          `json:"session_id"`
	Result     *ResultEnvelope `json:"result,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RejectedBy string          `json:"rejected_by,omitempty"`
}

// ResultEnvelope mirrors a terminal /chat reply's shape.
type ResultEnvelope struct {
	Data             map[string]any `json:"data"`
	ExecutionHistory []string       `json:"execution_history,omitempty"`
}

// Approve implements POST /workflow/{session_id}/approve. The resume
// entry point is hardcoded to money_transfer_execute: this facade is
// written for the one banking graph in this repo, which has exactly
// one HIL gate with exactly one downstream node.
func (f *Facade) Approve(ctx context.Context, sessionID string, req ApproveRequest) (ApproveResponse, error) {
	if !req.Approved {
		state, err := f.Gate.Reject(ctx, sessionID, req.ApproverID, req.Reason)
		if err != nil {
			return ApproveResponse{}, err
		}
		f.appendAssistantTurn(ctx, sessionID, state)
		return ApproveResponse{
			Status:     "rejected",
			SessionID:  sessionID,
			Reason:     req.Reason,
			RejectedBy: req.ApproverID,
		}, nil
	}

	resumed, err := f.Gate.Approve(ctx, sessionID, req.ApproverID)
	if err != nil {
		return ApproveResponse{}, err
	}

	final, runErr := f.Engine.ResumeFrom(ctx, sessionID, "money_transfer_execute", resumed)
	if runErr != nil {
		kind := errs.KindOf(runErr)
		if kind == errs.KindRouting || kind == errs.KindStorage {
			f.markFailed(ctx, sessionID)
		}
		return ApproveResponse{}, runErr
	}

	if err := f.completeTurn(ctx, sessionID, final); err != nil {
		return ApproveResponse{}, err
	}

	return ApproveResponse{
		Status:    "approved",
		SessionID: sessionID,
		Result: &ResultEnvelope{
			Data:             final.Response,
			ExecutionHistory: final.ExecutionHistory,
		},
	}, nil
}

// StatusResponse is GET /workflow/{session_id}/status's response.
type StatusResponse struct {
	SessionID           string            `json:"session_id"`
	UserID              string            `json:"user_id"`
	Status              session.Status    `json:"status"`
	CurrentNode         string            `json:"current_node"`
	ExecutionCount      int               `json:"execution_count"`
	Checkpoints         int               `json:"checkpoints"`
	ConversationHistory []session.Message `json:"conversation_history"`
}

// Status implements GET /workflow/{session_id}/status.
func (f *Facade) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	sess, err := f.getSession(ctx, sessionID)
	if err != nil {
		return StatusResponse{}, err
	}
	checkpoints, err := f.Checkpoints.List(ctx, sessionID)
	if err != nil {
		return StatusResponse{}, errs.Storage(sessionID, "list checkpoints", err)
	}
	return StatusResponse{
		SessionID:           sess.SessionID,
		UserID:              sess.UserID,
		Status:              sess.Status,
		CurrentNode:         sess.CurrentNode,
		ExecutionCount:      sess.ExecutionCount,
		Checkpoints:         len(checkpoints),
		ConversationHistory: sess.ConversationHistory,
	}, nil
}

// CheckpointSummary is one entry in GET /workflow/{session_id}/checkpoints.
type CheckpointSummary struct {
	CheckpointID string    `json:"checkpoint_id"`
	NodeID       string    `json:"node_id"`
	Phase        string    `json:"phase"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListCheckpoints implements GET /workflow/{session_id}/checkpoints.
func (f *Facade) ListCheckpoints(ctx context.Context, sessionID string) ([]CheckpointSummary, error) {
	if _, err := f.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	checkpoints, err := f.Checkpoints.List(ctx, sessionID)
	if err != nil {
		return nil, errs.Storage(sessionID, "list checkpoints", err)
	}
	out := make([]CheckpointSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, CheckpointSummary{
			CheckpointID: cp.CheckpointID,
			NodeID:       cp.NodeID,
			Phase:        store.MetaPhase(cp.Metadata),
			CreatedAt:    cp.CreatedAt,
		})
	}
	return out, nil
}

// PendingApprovals implements GET /approvals/pending.
func (f *Facade) PendingApprovals(ctx context.Context) ([]approval.Request, error) {
	reqs, err := f.Approvals.ListPending(ctx)
	if err != nil {
		return nil, errs.Storage("", "list pending approvals", err)
	}
	return reqs, nil
}

// SessionSummary is one entry in GET /sessions.
type SessionSummary struct {
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id"`
	Status      session.Status `json:"status"`
	CurrentNode string         `json:"current_node"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ListSessions implements GET /sessions?user_id=?.
func (f *Facade) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	sessions, err := f.Sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, errs.Storage(userID, "list sessions", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			SessionID: s.SessionID, UserID: s.UserID, Status: s.Status,
			CurrentNode: s.CurrentNode, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		})
	}
	return out, nil
}

func (f *Facade) getSession(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := f.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Session{}, errs.NotFound(sessionID, "session not found")
		}
		return session.Session{}, errs.Storage(sessionID, "load session", err)
	}
	return sess, nil
}

// loadOrCreateSession implements §4.7's "load-or-create session on
// inbound message". An empty sessionID always creates a fresh session;
// workflow state from an existing session (e.g. a carried-forward
// awaiting_completion slot) is unwrapped into seeded so a multi-turn
// conversation keeps its context.
func (f *Facade) loadOrCreateSession(ctx context.Context, sessionID, userID string) (session.Session, banking.State, error) {
	if sessionID == "" {
		sess := session.Session{
			UserID:       userID,
			WorkflowType: "banking",
			Status:       session.StatusActive,
		}
		if err := f.Sessions.Create(ctx, &sess); err != nil {
			return session.Session{}, banking.State{}, errs.Storage("", "create session", err)
		}
		return sess, banking.State{}, nil
	}

	sess, err := f.getSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, banking.State{}, err
	}

	var seeded banking.State
	if len(sess.WorkflowState) > 0 {
		_ = json.Unmarshal(sess.WorkflowState, &seeded)
	}
	return sess, seeded, nil
}

func (f *Facade) replayed(sessionID, content string) (ChatResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cached, ok := f.replays[sessionID]
	if !ok || cached.content != content || time.Since(cached.at) > replayWindow {
		return ChatResponse{}, false
	}
	return cached.response, true
}

func (f *Facade) cacheReplay(sessionID, content string, resp ChatResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays[sessionID] = cachedTurn{content: content, response: resp, at: time.Now().UTC()}
}

func lastNode(history []string) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

func replyText(response map[string]any) string {
	if response == nil {
		return ""
	}
	if msg, ok := response["message"].(string); ok {
		return msg
	}
	b, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	return string(b)
}
