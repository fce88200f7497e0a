package banking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerflow/workflow/classifier"
	"github.com/ledgerflow/workflow/downstream"
	"github.com/ledgerflow/workflow/errs"
	"github.com/ledgerflow/workflow/graph"
	"github.com/ledgerflow/workflow/hil"
)

// Deps wires the banking graph's external collaborators and tunables.
// One Deps is shared by every node closure the graph registers.
type Deps struct {
	Classifier          classifier.Classifier
	Downstream          downstream.Client
	Gate                *hil.Gate[State]
	Threshold           float64 // hil.threshold
	ConfidenceThreshold float64 // confidence.threshold
}

// ValidateInput classifies state.Message and merges the recognized
// intent, confidence, and entities into state. An empty message never
// reaches the classifier (intent=fallback, error="empty message");
// a classifier error falls back to fallback at confidence 0.50
// instead of failing the turn (§7: ClassifierError is never fatal).
func (d *Deps) ValidateInput(ctx context.Context, s State) graph.NodeResult[State] {
	s.Error = ""

	if strings.TrimSpace(s.Message) == "" {
		s.Intent = string(classifier.IntentFallback)
		s.Error = "empty message"
		return graph.NodeResult[State]{State: s, Route: graph.Goto("confidence_check")}
	}

	result, err := d.Classifier.Classify(ctx, s.Message)
	if err != nil {
		result = classifier.Result{Intent: classifier.IntentFallback, Confidence: 0.50, Entities: map[string]string{}}
	}

	s.Intent = string(result.Intent)
	s.Confidence = result.Confidence

	if amountStr, ok := result.Entities["amount"]; ok {
		if amt, perr := strconv.ParseFloat(amountStr, 64); perr == nil {
			s.Amount = amt
		}
	} else if s.ContextAmount > 0 {
		s.Amount = s.ContextAmount
	}

	if recipient, ok := result.Entities["recipient"]; ok {
		s.Recipient = recipient
	} else if s.ContextRecipient != "" {
		s.Recipient = s.ContextRecipient
	}

	if s.FromAccount == "" {
		s.FromAccount = DefaultFromAccount
	}

	return graph.NodeResult[State]{State: s, Route: graph.Goto("confidence_check")}
}

// ConfidenceCheck flags low-confidence turns for approval, and for an
// incomplete money_transfer either parks the turn awaiting the missing
// slot (a clarification question, terminal for this turn) or, once a
// previously missing slot has been filled from carried-forward
// context, flags the completion itself for approval. A complete,
// non-clarifying turn falls through with no Route so the engine's
// route_intent conditional edge decides the next node.
func (d *Deps) ConfidenceCheck(_ context.Context, s State) graph.NodeResult[State] {
	if s.Confidence < d.ConfidenceThreshold {
		s.NeedsApproval = true
		s.ApprovalReason = "low confidence"
	}

	if s.Intent != string(classifier.IntentMoneyTransfer) {
		return graph.NodeResult[State]{State: s}
	}

	missingAmount := s.Amount <= 0
	missingRecipient := s.Recipient == ""

	if missingAmount || missingRecipient {
		if !missingAmount {
			s.ContextAmount = s.Amount
		}
		if !missingRecipient {
			s.ContextRecipient = s.Recipient
		}
		s.AwaitingCompletion = true
		s.Response = map[string]any{"message": clarificationQuestion(missingAmount, s.Recipient)}
		return graph.NodeResult[State]{State: s, Route: graph.Stop()}
	}

	if s.AwaitingCompletion {
		s.NeedsApproval = true
		s.ApprovalReason = "conversational completion"
		s.AwaitingCompletion = false
	}

	return graph.NodeResult[State]{State: s}
}

func clarificationQuestion(missingAmount bool, recipient string) string {
	if missingAmount {
		if recipient == "" {
			return "How much would you like to send, and to whom?"
		}
		return fmt.Sprintf("How much would you like to send to %s?", recipient)
	}
	return "Who would you like to send that to?"
}

// RouteIntent is the route_intent selector: a pure function of state,
// never a node -- it must not mutate state (§9).
func RouteIntent(s State) string { return s.Intent }

// needsSpecialApproval reports whether the approval reason already
// recorded on state requires a human decision regardless of amount.
func needsSpecialApproval(s State) bool {
	return s.NeedsApproval && (s.ApprovalReason == "conversational completion" || s.ApprovalReason == "low confidence")
}

// MoneyTransferPrepare assembles the downstream transfer payload and,
// per §9, decides the amount-only portion of the auto-approval
// decision here rather than in the (pure, non-mutating) route_intent
// selector. The gate at money_transfer_hil makes the same decision
// independently against the same predicate; this is belt-and-braces,
// not a bypass of the gate.
func (d *Deps) MoneyTransferPrepare(_ context.Context, s State) graph.NodeResult[State] {
	if s.FromAccount == "" {
		s.FromAccount = DefaultFromAccount
	}
	s.RequestData = map[string]any{
		"from_account": s.FromAccount,
		"to_account":   s.Recipient,
		"amount":       s.Amount,
	}

	if s.Amount < d.Threshold && !needsSpecialApproval(s) {
		s.HILDecision = &hil.Decision{Approved: true, Auto: true, DecidedAt: time.Now().UTC()}
	}

	return graph.NodeResult[State]{State: s, Route: graph.Goto("money_transfer_hil")}
}

// MoneyTransferHIL is the HIL gate node. Its predicate is
// "amount >= threshold OR needs_approval" (configured when the graph
// is wired, see New). On pause it surfaces a PENDING_APPROVAL
// response envelope and relies on the engine's halt check (state.Halt)
// to end the turn here without reaching route registration below.
func (d *Deps) MoneyTransferHIL(ctx context.Context, s State) graph.NodeResult[State] {
	out, err := d.Gate.Execute(ctx, s.SessionID, "money_transfer_hil", s)
	if err != nil {
		s.Error = err.Error()
		return graph.NodeResult[State]{State: s, Err: err}
	}
	s = out.State

	if out.Paused {
		s.Response = map[string]any{
			"status":      "PENDING_APPROVAL",
			"approval_id": out.ApprovalID,
			"amount":      out.Amount,
			"recipient":   out.Recipient,
			"message":     "This transfer needs approval before it can proceed.",
		}
		return graph.NodeResult[State]{State: s}
	}

	return graph.NodeResult[State]{State: s, Route: graph.Goto("money_transfer_execute")}
}

// MoneyTransferExecute asserts the approval invariant (I6), rebuilds
// request_data when a pre-pause checkpoint predates that field (resume
// safety), and executes the transfer. A downstream failure is captured
// in state rather than failing the turn (§7: DownstreamError is not
// StorageError/RoutingError).
func (d *Deps) MoneyTransferExecute(ctx context.Context, s State) graph.NodeResult[State] {
	if s.HILDecision == nil || !s.HILDecision.Approved {
		err := errs.Conflict(s.SessionID, "money_transfer_execute requires an approved hil_decision")
		s.Error = err.Error()
		return graph.NodeResult[State]{State: s, Err: err}
	}

	if len(s.RequestData) == 0 {
		if s.FromAccount == "" {
			s.FromAccount = DefaultFromAccount
		}
		s.RequestData = map[string]any{
			"from_account": s.FromAccount,
			"to_account":   s.Recipient,
			"amount":       s.Amount,
		}
	}

	result, err := d.Downstream.Transfer(ctx, s.FromAccount, s.Recipient, s.Amount)
	if err != nil {
		s.Error = err.Error()
		s.Response = map[string]any{"success": false, "message": err.Error()}
		return graph.NodeResult[State]{State: s, Route: graph.Stop()}
	}

	s.Response = map[string]any{"success": result.Success, "message": result.Message}
	return graph.NodeResult[State]{State: s, Route: graph.Stop()}
}

// BalanceInquiry fetches and reports the account balance.
func (d *Deps) BalanceInquiry(ctx context.Context, s State) graph.NodeResult[State] {
	account := s.FromAccount
	if account == "" {
		account = DefaultFromAccount
	}
	balance, err := d.Downstream.GetBalance(ctx, account)
	if err != nil {
		s.Error = err.Error()
		s.Response = map[string]any{"success": false, "message": err.Error()}
		return graph.NodeResult[State]{State: s, Route: graph.Stop()}
	}
	s.Response = map[string]any{"accountId": balance.AccountID, "balance": balance.Balance}
	return graph.NodeResult[State]{State: s, Route: graph.Stop()}
}

// AccountStatement fetches and reports the account statement.
func (d *Deps) AccountStatement(ctx context.Context, s State) graph.NodeResult[State] {
	account := s.FromAccount
	if account == "" {
		account = DefaultFromAccount
	}
	statement, err := d.Downstream.GetStatement(ctx, account)
	if err != nil {
		s.Error = err.Error()
		s.Response = map[string]any{"success": false, "message": err.Error()}
		return graph.NodeResult[State]{State: s, Route: graph.Stop()}
	}
	s.Response = map[string]any{"statement": statement}
	return graph.NodeResult[State]{State: s, Route: graph.Stop()}
}

// LoanInquiry fetches and reports loan information.
func (d *Deps) LoanInquiry(ctx context.Context, s State) graph.NodeResult[State] {
	account := s.FromAccount
	if account == "" {
		account = DefaultFromAccount
	}
	loan, err := d.Downstream.GetLoan(ctx, account)
	if err != nil {
		s.Error = err.Error()
		s.Response = map[string]any{"success": false, "message": err.Error()}
		return graph.NodeResult[State]{State: s, Route: graph.Stop()}
	}
	s.Response = map[string]any{"loan": loan}
	return graph.NodeResult[State]{State: s, Route: graph.Stop()}
}

// Fallback handles unrecognized intent with a canned hint.
func (d *Deps) Fallback(_ context.Context, s State) graph.NodeResult[State] {
	s.Response = map[string]any{
		"message": "I can help with balance inquiries, transfers, account statements, or loan questions. Could you rephrase that?",
	}
	return graph.NodeResult[State]{State: s, Route: graph.Stop()}
}
