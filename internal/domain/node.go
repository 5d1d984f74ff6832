package domain

import (
	"time"

	"github.com/google/uuid"
)

// Node is a single vertex in the hierarchical tree. The original copy of a
// node has BranchID == ID; any other BranchID denotes a branched copy that a
// Contribution Request owns independently of the original.
//
// Invariant: IsRoot iff RootID == ID and ParentID is the zero UUID.
// Invariant: AncestorIDs is the path from RootID down to the direct parent,
// parent last, and never contains ID itself.
type Node struct {
	ID                    uuid.UUID
	BranchID              uuid.UUID
	RootID                uuid.UUID
	ParentID              uuid.UUID // zero value means no parent (root)
	AncestorIDs           []uuid.UUID
	OrderIndex            float64
	Title                 string
	IsPublic              bool
	OwnerID               uuid.UUID
	EditorIDs             []uuid.UUID
	ViewerIDs             []uuid.UUID
	IsRoot                bool
	IsSubscriptionActive  bool
	CoverImageRef         string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsOriginal reports whether this row is the canonical copy of the node.
func (n Node) IsOriginal() bool { return n.BranchID == n.ID }

// AncestorSet returns AncestorIDs as a set for O(1) membership checks,
// following spec.md §9's guidance to pair the ordered path with a hash set.
func (n Node) AncestorSet() map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(n.AncestorIDs))
	for _, id := range n.AncestorIDs {
		set[id] = struct{}{}
	}
	return set
}

// NodeDescendant is the denormalized projection used for tree listings: one
// row per (ancestor, descendant) pair, partitioned under the ancestor so a
// single read returns every descendant of that ancestor. This projection is
// the authoritative read path for tree listings, not the Node rows.
type NodeDescendant struct {
	RootID     uuid.UUID
	BranchID   uuid.UUID
	NodeID     uuid.UUID // the ancestor whose partition this row lives in
	ID         uuid.UUID // the descendant node
	ParentID   uuid.UUID
	Title      string
	OrderIndex float64
}

// Workflow is the single workflow a Node owns. It has no independent
// identity beyond its owning node: workflow-scoped operations (initial
// inputs) are addressed by NodeID + BranchID.
type Workflow struct {
	NodeID   uuid.UUID
	BranchID uuid.UUID
	// InitialInputIDs are IOs fed into the workflow from outside any flow
	// step, ordered.
	InitialInputIDs []uuid.UUID
}

// Flow is an ordered phase of a Workflow.
type Flow struct {
	ID            uuid.UUID
	BranchID      uuid.UUID
	NodeID        uuid.UUID
	Title         string
	VerticalIndex float64
	StartIndex    float64
}

// FlowStep is one step of a Flow: the set of participating nodes plus the
// per-node inputs and outputs they exchange within this step.
type FlowStep struct {
	ID       uuid.UUID
	BranchID uuid.UUID
	NodeID   uuid.UUID // workflow owner, used as the partition key
	FlowID   uuid.UUID
	FlowIndex float64

	NodeIDs []uuid.UUID
	// InputIDsByNode maps a participating node to the ordered IOs it
	// consumes in this step.
	InputIDsByNode map[uuid.UUID][]uuid.UUID
	// OutputIDsByNode maps a participating node to the ordered IOs it
	// produces in this step.
	OutputIDsByNode map[uuid.UUID][]uuid.UUID
}

// IO is an input/output value scoped to a root (shared across all
// workflows under that root, not just one flow step).
type IO struct {
	ID       uuid.UUID
	BranchID uuid.UUID
	RootID   uuid.UUID
	Title    string

	// FlowStepID is the step that produces this IO as an output, zero if
	// this IO is a workflow-level initial input with no producing step.
	FlowStepID uuid.UUID
	// InputtedByFlowSteps lists steps that consume this IO as an input.
	InputtedByFlowSteps []uuid.UUID
}
