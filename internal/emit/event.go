// Package emit provides event emission and observability for the branch
// merge engine: saga step transitions, lock contention, conflict detection,
// and recovery sweeps all flow through an Emitter.
package emit

// Event represents an observability event emitted while a saga (reorder,
// merge, or recovery) runs.
type Event struct {
	// BranchID identifies the branch the saga is operating on. Empty for
	// engine-level events not scoped to a single branch.
	BranchID string

	// Step is the saga step number, 1-indexed. Zero for branch-level events
	// (saga start, saga complete, error).
	Step int

	// Object identifies which resource emitted this event, e.g. a node,
	// flow, or flow step id. Empty for branch-level events.
	Object string

	// Msg is a short machine-matchable event name, e.g. "merge_step_start",
	// "lock_contended", "conflict_detected".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": step execution duration
	//   - "error": error detail
	//   - "code": an errs.Code string
	//   - "retry": retry attempt number
	Meta map[string]interface{}
}
