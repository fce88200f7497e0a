package graph

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerflow/workflow/errs"
	"github.com/ledgerflow/workflow/graph/emit"
	"github.com/ledgerflow/workflow/graph/store"
)

// HaltCheck reports whether the engine should stop advancing a session
// after the given state, without running another node. This is how a
// human-in-the-loop gate suspends a turn: the node that reaches the
// gate sets a "paused" marker on the state, and HaltCheck recognizes
// it. Kept as a function rather than an interface method on S so that
// S can remain a plain, JSON-serializable struct (§3's state model)
// instead of being forced to implement engine-specific methods.
type HaltCheck[S any] func(state S) bool

// HistoryAppend returns a copy of state with nodeID appended to
// whatever execution-history bookkeeping the concrete state type
// keeps. Called once per node boundary, after the node has run.
type HistoryAppend[S any] func(state S, nodeID string) S

// Engine is the durable graph execution engine. It is single-threaded
// per session: Run and ResumeFrom advance one session's state through
// registered nodes and edges, checkpointing at every node boundary.
// Multiple sessions are expected to run concurrently, each through its
// own Engine method call, sharing one Engine and one CheckpointStore.
//
// Type parameter S is the concrete workflow state type (e.g.
// banking.State). The engine itself has no domain knowledge: a node
// that fully implements the state transition, an edge predicate, or a
// conditional selector is where domain semantics live.
type Engine[S any] struct {
	mu sync.RWMutex

	nodes       map[string]Node[S]
	policies    map[string]*NodePolicy
	edges       []Edge[S]
	conditional map[string]conditionalRoute[S]
	startNode   string

	store         store.CheckpointStore[S]
	emitter       emit.Emitter
	haltCheck     HaltCheck[S]
	historyAppend HistoryAppend[S]

	metrics *PrometheusMetrics
	opts    Options
}

// Options configures Engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits a single Run/ResumeFrom call to this many node
	// invocations. 0 means no limit. Guards against a missing
	// conditional exit turning a loop-free graph into an infinite one.
	MaxSteps int

	// DefaultNodeTimeout is the execution timeout applied to nodes
	// without an explicit NodePolicy.Timeout. 0 means no timeout.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget caps the total wall-clock time of one
	// Run/ResumeFrom call. 0 disables the budget.
	RunWallClockBudget time.Duration

	// Metrics, if set, receives one turn-latency observation per node
	// invocation and a pause count each time a node halts the run. The
	// engine records no other metric.
	Metrics *PrometheusMetrics
}

// New constructs an Engine backed by st for checkpoint persistence and
// emitter for observability events. haltCheck and historyAppend are
// accessor functions bridging the generic engine to the concrete state
// type's halt marker and execution-history field; both may be nil
// (nil haltCheck never halts early, nil historyAppend is a no-op).
func New[S any](st store.CheckpointStore[S], emitter emit.Emitter, haltCheck HaltCheck[S], historyAppend HistoryAppend[S], options ...Option) *Engine[S] {
	cfg := &engineConfig{}
	for _, opt := range options {
		_ = opt(cfg)
	}

	return &Engine[S]{
		nodes:         make(map[string]Node[S]),
		policies:      make(map[string]*NodePolicy),
		edges:         make([]Edge[S], 0),
		conditional:   make(map[string]conditionalRoute[S]),
		store:         st,
		emitter:       emitter,
		haltCheck:     haltCheck,
		historyAppend: historyAppend,
		metrics:       cfg.opts.Metrics,
		opts:          cfg.opts,
	}
}

// Add registers a node under nodeID. policy may be nil. Returns an
// EngineError if nodeID is empty, node is nil, or the ID is already
// registered.
func (e *Engine[S]) Add(nodeID string, node Node[S], policy *NodePolicy) error {
	if nodeID == "" {
		return &EngineError{Message: "node id cannot be empty", Code: "EMPTY_NODE_ID"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "NIL_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "node already registered: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	if policy != nil {
		e.policies[nodeID] = policy
	}
	return nil
}

// Connect registers an edge from → to, traversed when predicate is nil
// or returns true for the current state. Edges are evaluated in the
// order added; a node's own NodeResult.Route takes precedence over any
// registered edge.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" || to == "" {
		return &EngineError{Message: "edge endpoints cannot be empty", Code: "EMPTY_EDGE"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// AddConditional registers a multi-way branch from a node: selector
// evaluates the post-node state and returns a key, which routes maps
// to the next node ID. An unrecognized key produces a RoutingError
// when the engine reaches this node (§4.5's route_intent pattern).
func (e *Engine[S]) AddConditional(from string, selector Selector[S], routes RouteMap) error {
	if from == "" {
		return &EngineError{Message: "conditional source node cannot be empty", Code: "EMPTY_EDGE"}
	}
	if selector == nil {
		return &EngineError{Message: "conditional selector cannot be nil", Code: "NIL_SELECTOR"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditional[from] = conditionalRoute[S]{from: from, selector: selector, routes: routes}
	return nil
}

// StartAt sets the entry node for Run.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node cannot be empty", Code: "EMPTY_NODE_ID"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startNode = nodeID
	return nil
}

// Run executes sessionID's graph starting at the registered start
// node, with initial as the starting state. It returns when the graph
// reaches a terminal node, a HIL gate halts it (haltCheck returns
// true), or an error occurs.
func (e *Engine[S]) Run(ctx context.Context, sessionID string, initial S) (S, error) {
	e.mu.RLock()
	start := e.startNode
	_, exists := e.nodes[start]
	e.mu.RUnlock()

	var zero S
	if start == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	if !exists {
		return zero, &EngineError{Message: "start node does not exist: " + start, Code: "NODE_NOT_FOUND"}
	}

	return e.runFrom(ctx, sessionID, start, initial)
}

// ResumeFrom continues sessionID's execution starting at startNode,
// typically the node immediately downstream of a HIL gate, with state
// as the starting state. The engine does not load or inspect a
// checkpoint here: if haltCheck reports state as halted, ResumeFrom
// returns it unchanged without running any node, and any approval
// check belongs to the caller or to the resumed node itself.
func (e *Engine[S]) ResumeFrom(ctx context.Context, sessionID, startNode string, state S) (S, error) {
	e.mu.RLock()
	_, exists := e.nodes[startNode]
	e.mu.RUnlock()

	var zero S
	if !exists {
		return zero, &EngineError{Message: "resume node does not exist: " + startNode, Code: "NODE_NOT_FOUND"}
	}
	return e.runFrom(ctx, sessionID, startNode, state)
}

func (e *Engine[S]) runFrom(ctx context.Context, sessionID, startNode string, initial S) (S, error) {
	var zero S

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	currentState := initial
	currentNode := startNode
	step := 0

	for {
		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, ErrMaxStepsExceeded
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if e.haltCheck != nil && e.haltCheck(currentState) {
			return currentState, nil
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		policy := e.policies[currentNode]
		e.mu.RUnlock()
		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		if _, err := e.store.Save(ctx, sessionID, currentNode, currentState, map[string]any{"phase": store.PhaseStart}); err != nil {
			return zero, errs.Storage(currentNode, "save start checkpoint", err)
		}
		e.emit(sessionID, currentNode, step-1, "node_start", nil)

		started := time.Now()
		result, timeoutErr := executeNodeWithTimeout(ctx, nodeImpl, currentNode, currentState, policy, e.opts.DefaultNodeTimeout)
		status := "success"
		if result.Err != nil || timeoutErr != nil {
			status = "error"
		}
		if e.metrics != nil {
			e.metrics.RecordTurnLatency(sessionID, currentNode, time.Since(started), status)
		}

		if timeoutErr != nil {
			e.emit(sessionID, currentNode, step-1, "error", map[string]interface{}{"error": timeoutErr.Error()})
			return zero, timeoutErr
		}
		if result.Err != nil {
			e.emit(sessionID, currentNode, step-1, "error", map[string]interface{}{"error": result.Err.Error()})
			return zero, result.Err
		}

		currentState = result.State
		if e.historyAppend != nil {
			currentState = e.historyAppend(currentState, currentNode)
		}

		// A node that halts the run (a pausing HIL gate) has already
		// saved its own pause checkpoint, which must stay the latest.
		halted := e.haltCheck != nil && e.haltCheck(currentState)
		if !halted {
			if _, err := e.store.Save(ctx, sessionID, currentNode, currentState, map[string]any{"phase": store.PhaseEnd}); err != nil {
				return zero, errs.Storage(currentNode, "save end checkpoint", err)
			}
		}
		e.emit(sessionID, currentNode, step-1, "node_end", nil)

		if halted {
			if e.metrics != nil {
				e.metrics.IncrementPauses(sessionID, currentNode)
			}
			e.emit(sessionID, currentNode, step-1, "paused", nil)
			return currentState, nil
		}

		if result.Route.Terminal {
			e.emit(sessionID, currentNode, step-1, "routing_decision", map[string]interface{}{"terminal": true})
			return currentState, nil
		}

		if result.Route.To != "" {
			e.emit(sessionID, currentNode, step-1, "routing_decision", map[string]interface{}{"next_node": result.Route.To})
			currentNode = result.Route.To
			continue
		}

		if cr, ok := e.conditionalFor(currentNode); ok {
			key := cr.selector(currentState)
			next, matched := cr.routes[key]
			if !matched {
				return zero, errs.Routing(currentNode, "unrecognized conditional key: "+key)
			}
			e.emit(sessionID, currentNode, step-1, "routing_decision", map[string]interface{}{"next_node": next, "via": "conditional", "key": key})
			currentNode = next
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, errs.Routing(currentNode, "no valid route from node")
		}
		e.emit(sessionID, currentNode, step-1, "routing_decision", map[string]interface{}{"next_node": nextNode, "via": "edge"})
		currentNode = nextNode
	}
}

func (e *Engine[S]) conditionalFor(from string) (conditionalRoute[S], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cr, ok := e.conditional[from]
	return cr, ok
}

// evaluateEdges returns the first registered edge from fromNode whose
// predicate matches (or which is unconditional), in registration order.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emit(sessionID, nodeID string, step int, msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: sessionID, Step: step, NodeID: nodeID, Msg: msg, Meta: meta})
}
