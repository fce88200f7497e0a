package store

import "time"

// Checkpoint represents a durable snapshot of execution state taken at
// a node boundary. Checkpoints are append-only: a store never
// overwrites one, it only ever writes a new one with a later
// CreatedAt. Ordering by CreatedAt within a session is strictly
// increasing (invariant I1 of the data model this engine implements).
type Checkpoint[S any] struct {
	// CheckpointID uniquely identifies this record.
	CheckpointID string `json:"checkpoint_id"`

	// SessionID identifies the session this checkpoint belongs to.
	SessionID string `json:"session_id"`

	// NodeID is the node whose boundary this checkpoint was taken at.
	NodeID string `json:"node_id"`

	// State is the workflow state at this boundary. Must be
	// JSON-serializable for persistence to the embedded and
	// shared-cache backends.
	State S `json:"state"`

	// Metadata is free-form, keyed at minimum by "phase" (see the
	// Phase* constants below).
	Metadata map[string]any `json:"metadata"`

	// CreatedAt is server-assigned at save time.
	CreatedAt time.Time `json:"created_at"`

	// Seq is a store-assigned monotonically increasing sequence number,
	// used as a tie-breaker when CreatedAt values collide at clock
	// resolution (invariant I1: the total order must be strict).
	Seq int64 `json:"seq"`
}

// Checkpoint metadata phases. A node boundary produces a "start" and
// an "end" checkpoint; a HIL gate that pauses produces a "pause"
// checkpoint instead of "end"; the subsequent approval decision
// produces "approved" or "rejected".
const (
	PhaseStart    = "start"
	PhaseEnd      = "end"
	PhasePause    = "pause"
	PhaseApproved = "approved"
	PhaseRejected = "rejected"
)

// MetaPhase reads the "phase" key out of a checkpoint's metadata.
func MetaPhase(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if p, ok := meta["phase"].(string); ok {
		return p
	}
	return ""
}
