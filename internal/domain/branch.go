package domain

import (
	"time"

	"github.com/google/uuid"
)

// BranchStatus is the lifecycle state of a Branch.
type BranchStatus string

const (
	BranchOpen           BranchStatus = "open"
	BranchMerged         BranchStatus = "merged"
	BranchRecovered      BranchStatus = "recovered"
	BranchRecoveryFailed BranchStatus = "recovery_failed"
	BranchClosed         BranchStatus = "closed"
)

// TextChange is an audit record of a single title or description edit,
// written by the merge orchestrator for every change it applies so the
// client has a diff source and so undo can restore the prior value.
type TextChange struct {
	Old string
	New string
}

// ReorderEvent records one pending move of a node to a new parent/position.
// OldParentID and OldOrderIndex are captured at the time the branch recorded
// the move so the reorder engine's undo path can restore them verbatim.
type ReorderEvent struct {
	ID               uuid.UUID
	BranchID         uuid.UUID // which tree copy (trunk or branch) owns this move
	OldParentID      uuid.UUID
	OldOrderIndex    float64
	NewParentID      uuid.UUID
	NewUpperSiblingID uuid.UUID // zero means "no upper sibling"
	NewLowerSiblingID uuid.UUID // zero means "no lower sibling"
	NewOrderIndex    *float64  // set only when replaying a merge-recovery move at a fixed index
}

// Branch is a named change-set against a root node: the canonical
// representation of every editable change a Contribution Request can
// record. Every delta field below except ReorderedNodes (an ordered slice) is
// an OptSet/OptMap so "never touched" and "touched then cleared" remain
// distinguishable (see spec.md §9).
type Branch struct {
	ID       uuid.UUID
	RootID   uuid.UUID
	NodeID   uuid.UUID // the node the CR was opened against
	OwnerID  uuid.UUID
	IsPublic bool
	Status   BranchStatus
	Conflict *Conflict // nil means no conflict recorded

	CreatedNodes  OptSet[uuid.UUID]
	DeletedNodes  OptSet[uuid.UUID]
	RestoredNodes OptSet[uuid.UUID]

	EditedTitleNodes       OptSet[uuid.UUID]
	EditedDescriptionNodes OptSet[uuid.UUID]
	EditedWorkflowNodes    OptSet[uuid.UUID]
	ReorderedNodes         []ReorderEvent

	CreatedFlows  OptSet[uuid.UUID]
	DeletedFlows  OptSet[uuid.UUID]
	RestoredFlows OptSet[uuid.UUID]

	EditedTitleFlows       OptSet[uuid.UUID]
	EditedDescriptionFlows OptSet[uuid.UUID]

	CreatedFlowSteps  OptSet[uuid.UUID]
	DeletedFlowSteps  OptSet[uuid.UUID]
	RestoredFlowSteps OptSet[uuid.UUID]
	KeptFlowSteps     OptSet[uuid.UUID]

	EditedDescriptionFlowSteps OptSet[uuid.UUID]

	CreatedFlowStepNodes OptMap[uuid.UUID, OptSet[uuid.UUID]]
	DeletedFlowStepNodes OptMap[uuid.UUID, OptSet[uuid.UUID]]

	CreatedFlowStepInputsByNode  OptMap[uuid.UUID, map[uuid.UUID]OptSet[uuid.UUID]]
	DeletedFlowStepInputsByNode  OptMap[uuid.UUID, map[uuid.UUID]OptSet[uuid.UUID]]
	CreatedFlowStepOutputsByNode OptMap[uuid.UUID, map[uuid.UUID]OptSet[uuid.UUID]]
	DeletedFlowStepOutputsByNode OptMap[uuid.UUID, map[uuid.UUID]OptSet[uuid.UUID]]

	CreatedIos  OptSet[uuid.UUID]
	DeletedIos  OptSet[uuid.UUID]
	RestoredIos OptSet[uuid.UUID]

	EditedTitleIos       OptSet[uuid.UUID]
	EditedDescriptionIos OptSet[uuid.UUID]

	CreatedWorkflowInitialInputs OptMap[uuid.UUID, []uuid.UUID]
	DeletedWorkflowInitialInputs OptMap[uuid.UUID, []uuid.UUID]

	TitleChangeByObject       OptMap[uuid.UUID, TextChange]
	DescriptionChangeByObject OptMap[uuid.UUID, TextChange]

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOriginal reports whether id equals the root node's id (i.e. this is not
// a branch at all, but the original tree).
func (b Branch) IsOriginal() bool { return b.ID == b.RootID }

// Blocked reports whether the branch currently carries an unresolved
// conflict. A merge must refuse to proceed while Blocked is true.
func (b Branch) Blocked() bool { return b.Conflict != nil && !b.Conflict.Empty() }

// Conflict is the structured output of the conflict detector: every field
// is a set of ids the branch references that have since been deleted (or
// collide) on the original tree. An empty Conflict (every field absent)
// means the branch is clear to merge.
type Conflict struct {
	DeletedAncestors       OptSet[uuid.UUID]
	DeletedEditedNodes     OptSet[uuid.UUID]
	DeletedEditedFlows     OptSet[uuid.UUID]
	DeletedEditedFlowSteps OptSet[uuid.UUID]
	DeletedEditedIos       OptSet[uuid.UUID]
	ConflictingFlowSteps   OptSet[uuid.UUID]
}

// Empty reports whether every field of the conflict is absent or
// present-but-empty, i.e. there is nothing left to resolve.
func (c *Conflict) Empty() bool {
	if c == nil {
		return true
	}
	return c.DeletedAncestors.Len() == 0 &&
		c.DeletedEditedNodes.Len() == 0 &&
		c.DeletedEditedFlows.Len() == 0 &&
		c.DeletedEditedFlowSteps.Len() == 0 &&
		c.DeletedEditedIos.Len() == 0 &&
		c.ConflictingFlowSteps.Len() == 0
}
