// Package branch records the individual delta mutations a Contribution
// Request accumulates as a client edits against a branched copy of the
// tree, before any of it is merged back.
package branch

import (
	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
)

// Op is a single recorded edit against a Branch's delta fields. It is a
// closed sum type: the only implementations are the ones in this file,
// matching the fixed set of edits a client can make against a branch.
type Op interface {
	apply(b domain.Branch) domain.Branch
}

type CreateNode struct{ ID uuid.UUID }
type DeleteNode struct{ ID uuid.UUID }
type RestoreNode struct{ ID uuid.UUID }
type EditNodeTitle struct{ ID uuid.UUID }
type EditNodeDescription struct{ ID uuid.UUID }
type EditWorkflow struct{ NodeID uuid.UUID }

// ReorderNode records a pending move of a node to a new parent/position. A
// second ReorderNode for the same ID before the branch merges replaces the
// first rather than appending, matching a client dragging a node more than
// once before submitting: only the most recent intended position matters.
type ReorderNode struct {
	ID                uuid.UUID
	OldParentID       uuid.UUID
	OldOrderIndex     float64
	NewParentID       uuid.UUID
	NewUpperSiblingID uuid.UUID
	NewLowerSiblingID uuid.UUID
}

type CreateFlow struct{ ID uuid.UUID }
type DeleteFlow struct{ ID uuid.UUID }
type RestoreFlow struct{ ID uuid.UUID }
type EditFlowTitle struct{ ID uuid.UUID }
type EditFlowDescription struct{ ID uuid.UUID }

type CreateIO struct{ ID uuid.UUID }
type DeleteIO struct{ ID uuid.UUID }
type RestoreIO struct{ ID uuid.UUID }
type EditIOTitle struct{ ID uuid.UUID }
type EditIODescription struct{ ID uuid.UUID }

type CreateFlowStep struct{ ID uuid.UUID }
type DeleteFlowStep struct{ ID uuid.UUID }
type RestoreFlowStep struct{ ID uuid.UUID }
type KeepFlowStep struct{ ID uuid.UUID }
type EditFlowStepDescription struct{ ID uuid.UUID }

type AppendFlowStepNode struct{ FlowStepID, NodeID uuid.UUID }
type RemoveFlowStepNode struct{ FlowStepID, NodeID uuid.UUID }
type AppendFlowStepInput struct{ FlowStepID, NodeID, IOID uuid.UUID }
type RemoveFlowStepInput struct{ FlowStepID, NodeID, IOID uuid.UUID }
type AppendFlowStepOutput struct{ FlowStepID, NodeID, IOID uuid.UUID }
type RemoveFlowStepOutput struct{ FlowStepID, NodeID, IOID uuid.UUID }

type AppendWorkflowInitialInput struct{ NodeID, IOID uuid.UUID }
type RemoveWorkflowInitialInput struct{ NodeID, IOID uuid.UUID }

func (o CreateNode) apply(b domain.Branch) domain.Branch {
	b.CreatedNodes = b.CreatedNodes.Add(o.ID)
	return b
}
func (o DeleteNode) apply(b domain.Branch) domain.Branch {
	b.DeletedNodes = b.DeletedNodes.Add(o.ID)
	b.CreatedNodes = b.CreatedNodes.Remove(o.ID)
	b.RestoredNodes = b.RestoredNodes.Remove(o.ID)
	return b
}
func (o RestoreNode) apply(b domain.Branch) domain.Branch {
	b.RestoredNodes = b.RestoredNodes.Add(o.ID)
	b.DeletedNodes = b.DeletedNodes.Remove(o.ID)
	return b
}
func (o EditNodeTitle) apply(b domain.Branch) domain.Branch {
	b.EditedTitleNodes = b.EditedTitleNodes.Add(o.ID)
	return b
}
func (o EditNodeDescription) apply(b domain.Branch) domain.Branch {
	b.EditedDescriptionNodes = b.EditedDescriptionNodes.Add(o.ID)
	return b
}
func (o EditWorkflow) apply(b domain.Branch) domain.Branch {
	b.EditedWorkflowNodes = b.EditedWorkflowNodes.Add(o.NodeID)
	return b
}

// apply replaces any prior pending move of the same node, preserving that
// prior move's OldParentID/OldOrderIndex: those fields must always reflect
// the node's position before the branch touched it at all, not its position
// after an earlier move in the same branch, or undo would restore the node
// to an intermediate position instead of its true original one.
func (o ReorderNode) apply(b domain.Branch) domain.Branch {
	ev := domain.ReorderEvent{
		ID:                o.ID,
		BranchID:          b.ID,
		OldParentID:       o.OldParentID,
		OldOrderIndex:     o.OldOrderIndex,
		NewParentID:       o.NewParentID,
		NewUpperSiblingID: o.NewUpperSiblingID,
		NewLowerSiblingID: o.NewLowerSiblingID,
	}
	for i, existing := range b.ReorderedNodes {
		if existing.ID == o.ID {
			ev.OldParentID = existing.OldParentID
			ev.OldOrderIndex = existing.OldOrderIndex
			b.ReorderedNodes[i] = ev
			return b
		}
	}
	b.ReorderedNodes = append(b.ReorderedNodes, ev)
	return b
}

func (o CreateFlow) apply(b domain.Branch) domain.Branch {
	b.CreatedFlows = b.CreatedFlows.Add(o.ID)
	return b
}
func (o DeleteFlow) apply(b domain.Branch) domain.Branch {
	b.DeletedFlows = b.DeletedFlows.Add(o.ID)
	return b
}
func (o RestoreFlow) apply(b domain.Branch) domain.Branch {
	b.RestoredFlows = b.RestoredFlows.Add(o.ID)
	b.DeletedFlows = b.DeletedFlows.Remove(o.ID)
	return b
}
func (o EditFlowTitle) apply(b domain.Branch) domain.Branch {
	b.EditedTitleFlows = b.EditedTitleFlows.Add(o.ID)
	return b
}
func (o EditFlowDescription) apply(b domain.Branch) domain.Branch {
	b.EditedDescriptionFlows = b.EditedDescriptionFlows.Add(o.ID)
	return b
}

func (o CreateIO) apply(b domain.Branch) domain.Branch {
	b.CreatedIos = b.CreatedIos.Add(o.ID)
	return b
}
func (o DeleteIO) apply(b domain.Branch) domain.Branch {
	b.DeletedIos = b.DeletedIos.Add(o.ID)
	return b
}
func (o RestoreIO) apply(b domain.Branch) domain.Branch {
	b.RestoredIos = b.RestoredIos.Add(o.ID)
	b.DeletedIos = b.DeletedIos.Remove(o.ID)
	return b
}
func (o EditIOTitle) apply(b domain.Branch) domain.Branch {
	b.EditedTitleIos = b.EditedTitleIos.Add(o.ID)
	return b
}
func (o EditIODescription) apply(b domain.Branch) domain.Branch {
	b.EditedDescriptionIos = b.EditedDescriptionIos.Add(o.ID)
	return b
}

func (o CreateFlowStep) apply(b domain.Branch) domain.Branch {
	b.CreatedFlowSteps = b.CreatedFlowSteps.Add(o.ID)
	return b
}
func (o DeleteFlowStep) apply(b domain.Branch) domain.Branch {
	b.DeletedFlowSteps = b.DeletedFlowSteps.Add(o.ID)
	return b
}
func (o RestoreFlowStep) apply(b domain.Branch) domain.Branch {
	b.RestoredFlowSteps = b.RestoredFlowSteps.Add(o.ID)
	b.DeletedFlowSteps = b.DeletedFlowSteps.Remove(o.ID)
	return b
}
func (o KeepFlowStep) apply(b domain.Branch) domain.Branch {
	b.KeptFlowSteps = b.KeptFlowSteps.Add(o.ID)
	return b
}
func (o EditFlowStepDescription) apply(b domain.Branch) domain.Branch {
	b.EditedDescriptionFlowSteps = b.EditedDescriptionFlowSteps.Add(o.ID)
	return b
}

func (o AppendFlowStepNode) apply(b domain.Branch) domain.Branch {
	b.CreatedFlowStepNodes = addToSetMap(b.CreatedFlowStepNodes, o.FlowStepID, o.NodeID)
	return b
}
func (o RemoveFlowStepNode) apply(b domain.Branch) domain.Branch {
	b.DeletedFlowStepNodes = addToSetMap(b.DeletedFlowStepNodes, o.FlowStepID, o.NodeID)
	return b
}
func (o AppendFlowStepInput) apply(b domain.Branch) domain.Branch {
	b.CreatedFlowStepInputsByNode = addToNestedSetMap(b.CreatedFlowStepInputsByNode, o.FlowStepID, o.NodeID, o.IOID)
	return b
}
func (o RemoveFlowStepInput) apply(b domain.Branch) domain.Branch {
	b.DeletedFlowStepInputsByNode = addToNestedSetMap(b.DeletedFlowStepInputsByNode, o.FlowStepID, o.NodeID, o.IOID)
	return b
}
func (o AppendFlowStepOutput) apply(b domain.Branch) domain.Branch {
	b.CreatedFlowStepOutputsByNode = addToNestedSetMap(b.CreatedFlowStepOutputsByNode, o.FlowStepID, o.NodeID, o.IOID)
	return b
}
func (o RemoveFlowStepOutput) apply(b domain.Branch) domain.Branch {
	b.DeletedFlowStepOutputsByNode = addToNestedSetMap(b.DeletedFlowStepOutputsByNode, o.FlowStepID, o.NodeID, o.IOID)
	return b
}

func (o AppendWorkflowInitialInput) apply(b domain.Branch) domain.Branch {
	existing, _ := b.CreatedWorkflowInitialInputs.Get(o.NodeID)
	b.CreatedWorkflowInitialInputs = b.CreatedWorkflowInitialInputs.Set(o.NodeID, appendUniqueUUID(existing, o.IOID))
	return b
}
func (o RemoveWorkflowInitialInput) apply(b domain.Branch) domain.Branch {
	existing, _ := b.DeletedWorkflowInitialInputs.Get(o.NodeID)
	b.DeletedWorkflowInitialInputs = b.DeletedWorkflowInitialInputs.Set(o.NodeID, appendUniqueUUID(existing, o.IOID))
	return b
}

func addToSetMap(m domain.OptMap[uuid.UUID, domain.OptSet[uuid.UUID]], key, id uuid.UUID) domain.OptMap[uuid.UUID, domain.OptSet[uuid.UUID]] {
	set, _ := m.Get(key)
	return m.Set(key, set.Add(id))
}

func addToNestedSetMap(m domain.OptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]], outer, inner, id uuid.UUID) domain.OptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]] {
	byNode, ok := m.Get(outer)
	if !ok || byNode == nil {
		byNode = make(map[uuid.UUID]domain.OptSet[uuid.UUID])
	} else {
		copied := make(map[uuid.UUID]domain.OptSet[uuid.UUID], len(byNode))
		for k, v := range byNode {
			copied[k] = v
		}
		byNode = copied
	}
	byNode[inner] = byNode[inner].Add(id)
	return m.Set(outer, byNode)
}

func appendUniqueUUID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
