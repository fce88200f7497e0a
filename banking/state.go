// Package banking instantiates the workflow engine with the concrete
// graph this system ships: classify an inbound message's intent, route
// to balance/transfer/statement/loan/fallback, and gate a money
// transfer behind human approval when it is large, low-confidence, or
// completed across turns.
package banking

import (
	"encoding/json"

	"github.com/ledgerflow/workflow/hil"
)

// State is the banking workflow's mutable per-turn state, the
// concrete S the graph engine, HIL gate, and checkpoint store are
// instantiated over. Every field here corresponds to one named in the
// engine's data model; there is no open map -- a statically typed
// struct makes every field a compile-time-checked name instead of a
// string key lookup.
type State struct {
	Message string `json:"message"`
	Intent  string `json:"intent"`

	Confidence float64 `json:"confidence"`

	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	FromAccount string `json:"from_account"`

	Amount      float64        `json:"amount"`
	Recipient   string         `json:"recipient"`
	RequestData map[string]any `json:"request_data,omitempty"`

	ContextAmount      float64 `json:"context_amount,omitempty"`
	ContextRecipient   string  `json:"context_recipient,omitempty"`
	AwaitingCompletion bool    `json:"awaiting_completion,omitempty"`

	NeedsApproval  bool          `json:"needs_approval,omitempty"`
	ApprovalReason string        `json:"approval_reason,omitempty"`
	HILDecision    *hil.Decision `json:"hil_decision,omitempty"`

	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`

	ExecutionHistory []string `json:"execution_history,omitempty"`

	Halt bool `json:"_halt,omitempty"`
}

// DefaultFromAccount is the account the banking graph acts on. The
// original system has no multi-account selection (explicit non-goal:
// no multi-tenant authorization); every session operates on one
// account.
const DefaultFromAccount = "123"

// AppendHistory is the graph.HistoryAppend accessor: it returns state
// with nodeID appended to ExecutionHistory.
func AppendHistory(s State, nodeID string) State {
	s.ExecutionHistory = append(append([]string{}, s.ExecutionHistory...), nodeID)
	return s
}

// ShouldHalt is the graph.HaltCheck accessor.
func ShouldHalt(s State) bool { return s.Halt }

// stateAlias breaks the recursion json.Unmarshal would otherwise hit
// by calling State's own UnmarshalJSON.
type stateAlias State

// UnmarshalJSON implements the checkpoint state unwrap design note:
// historical checkpoints sometimes stored an envelope
// {"workflow_state": {...}} instead of the raw state. If the incoming
// document has a workflow_state field, unwrap it; otherwise decode
// the document directly as the raw state.
func (s *State) UnmarshalJSON(data []byte) error {
	var envelope struct {
		WorkflowState json.RawMessage `json:"workflow_state"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.WorkflowState) > 0 {
		data = envelope.WorkflowState
	}

	var alias stateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = State(alias)
	return nil
}
