// Package graph provides the durable graph execution engine: node
// invocation, conditional routing, checkpointing at every node
// boundary, and suspend/resume around human-in-the-loop gates.
package graph

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges define the control flow between nodes. They can be:
//   - Unconditional: Always traverse (When == nil).
//   - Conditional: Only traverse if the predicate returns true.
//
// For explicit routing (fan-in/fan-out decisions a node itself makes),
// a node can return Next in its NodeResult, which overrides edge-based
// routing entirely. Edges are for the common case: a fixed transition
// or a simple boolean gate between two named nodes.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate that determines if this edge should
	// be traversed. If nil, the edge is unconditional.
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge
// should be traversed. Predicates must be pure: they read state and
// return a bool, never mutate it. Go passes S by value into a
// Predicate[S], so a predicate's own mutations are invisible to the
// caller anyway -- but relying on that accident is a bug waiting to
// happen if S ever gains pointer/slice/map fields a careless predicate
// could still reach through. Write them as if the compiler enforced
// purity, because nothing else does.
type Predicate[S any] func(state S) bool

// Selector evaluates state to choose one of several named branches
// after a node completes. It must be pure for the same reason a
// Predicate must be pure. The returned string is looked up in the
// RouteMap passed to Engine.AddConditional; an unrecognized key is a
// RoutingError.
type Selector[S any] func(state S) string

// RouteMap maps a Selector's return value to the next node ID.
type RouteMap map[string]string

// conditionalRoute bundles a Selector with its RouteMap for a single
// source node.
type conditionalRoute[S any] struct {
	from     string
	selector Selector[S]
	routes   RouteMap
}
