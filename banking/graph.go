package banking

import (
	"github.com/ledgerflow/workflow/classifier"
	"github.com/ledgerflow/workflow/graph"
	"github.com/ledgerflow/workflow/graph/emit"
	"github.com/ledgerflow/workflow/graph/store"
	"github.com/ledgerflow/workflow/hil"
)

// RouteMap is the route_intent conditional's branch table: one entry
// per classifier.Intent, wired to the node that owns it.
var RouteMap = graph.RouteMap{
	string(classifier.IntentBalanceInquiry):   "balance_inquiry",
	string(classifier.IntentMoneyTransfer):    "money_transfer_prepare",
	string(classifier.IntentAccountStatement): "account_statement",
	string(classifier.IntentLoanInquiry):      "loan_inquiry",
	string(classifier.IntentFallback):         "fallback",
}

// ShouldPauseForApproval is the HIL gate's predicate: a transfer pauses
// when it is at or above the configured threshold, or when an earlier
// node already flagged the turn for approval (low confidence, or a
// conversational completion across turns).
func ShouldPauseForApproval(threshold float64) func(State) bool {
	return func(s State) bool {
		return s.Amount >= threshold || needsSpecialApproval(s)
	}
}

// Accessors builds the hil.Accessors bridging the gate to State.
func Accessors(threshold float64) hil.Accessors[State] {
	return hil.Accessors[State]{
		ShouldPause: ShouldPauseForApproval(threshold),
		Amount:      func(s State) float64 { return s.Amount },
		Recipient:   func(s State) string { return s.Recipient },
		RequestData: func(s State) map[string]any { return s.RequestData },
		SetHILDecision: func(s State, d hil.Decision) State {
			s.HILDecision = &d
			return s
		},
		SetHalt: func(s State, halt bool) State {
			s.Halt = halt
			return s
		},
	}
}

// New assembles the banking graph: nine nodes wired exactly as the
// money-transfer and route_intent conditional require, over Deps'
// collaborators. checkpoints and emitter back the engine directly;
// approvals and sessions back the HIL gate embedded in deps.Gate,
// which callers must construct with Accessors(deps.Threshold) before
// calling New.
func New(checkpoints store.CheckpointStore[State], emitter emit.Emitter, deps *Deps, opts ...graph.Option) (*graph.Engine[State], error) {
	engine := graph.New[State](checkpoints, emitter, ShouldHalt, AppendHistory, opts...)

	nodes := map[string]graph.Node[State]{
		"validate_input":         graph.NodeFunc[State](deps.ValidateInput),
		"confidence_check":       graph.NodeFunc[State](deps.ConfidenceCheck),
		"balance_inquiry":        graph.NodeFunc[State](deps.BalanceInquiry),
		"money_transfer_prepare": graph.NodeFunc[State](deps.MoneyTransferPrepare),
		"money_transfer_hil":     graph.NodeFunc[State](deps.MoneyTransferHIL),
		"money_transfer_execute": graph.NodeFunc[State](deps.MoneyTransferExecute),
		"account_statement":      graph.NodeFunc[State](deps.AccountStatement),
		"loan_inquiry":           graph.NodeFunc[State](deps.LoanInquiry),
		"fallback":               graph.NodeFunc[State](deps.Fallback),
	}
	for id, node := range nodes {
		if err := engine.Add(id, node, nil); err != nil {
			return nil, err
		}
	}

	if err := engine.AddConditional("confidence_check", RouteIntent, RouteMap); err != nil {
		return nil, err
	}

	if err := engine.StartAt("validate_input"); err != nil {
		return nil, err
	}

	return engine, nil
}
