package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// applyStep and undoStep are the single dispatch points runForward/
// runReverse call through. Every step lives in this file or flowsteps.go /
// descriptions.go, named apply<Step>/undo<Step> for easy cross-reference
// against the step table in step.go.
func applyStep(ctx context.Context, o *Orchestrator, rs *runState, step Step) error {
	switch step {
	case StepRestoreNodes:
		return applyRestoreNodes(ctx, o, rs)
	case StepCreateNodes:
		return applyCreateNodes(ctx, o, rs)
	case StepDeleteNodes:
		return applyDeleteNodes(ctx, o, rs)
	case StepReorderNodes:
		return applyReorderNodes(ctx, o, rs)
	case StepUpdateNodesTitles:
		return applyUpdateNodesTitles(ctx, o, rs)
	case StepUpdateWorkflowInitialInputs:
		return applyUpdateWorkflowInitialInputs(ctx, o, rs)
	case StepRestoreFlows:
		return applyRestoreFlows(ctx, o, rs)
	case StepCreateFlows:
		return applyCreateFlows(ctx, o, rs)
	case StepDeleteFlows:
		return applyDeleteFlows(ctx, o, rs)
	case StepUpdateFlowsTitles:
		return applyUpdateFlowsTitles(ctx, o, rs)
	case StepDeleteFlowSteps:
		return applyDeleteFlowSteps(ctx, o, rs)
	case StepRestoreFlowSteps:
		return applyRestoreFlowSteps(ctx, o, rs)
	case StepCreateFlowSteps:
		return applyCreateFlowSteps(ctx, o, rs)
	case StepCreateFlowStepNodes:
		return applyCreateFlowStepNodes(ctx, o, rs)
	case StepDeleteFlowStepNodes:
		return applyDeleteFlowStepNodes(ctx, o, rs)
	case StepCreateFlowStepInputs:
		return applyCreateFlowStepInputs(ctx, o, rs)
	case StepDeleteFlowStepInputs:
		return applyDeleteFlowStepInputs(ctx, o, rs)
	case StepCreateFlowStepOutputs:
		return applyCreateFlowStepOutputs(ctx, o, rs)
	case StepDeleteFlowStepOutputs:
		return applyDeleteFlowStepOutputs(ctx, o, rs)
	case StepRestoreIos:
		return applyRestoreIos(ctx, o, rs)
	case StepCreateIos:
		return applyCreateIos(ctx, o, rs)
	case StepDeleteIos:
		return applyDeleteIos(ctx, o, rs)
	case StepUpdateIoTitles:
		return applyUpdateIoTitles(ctx, o, rs)
	case StepUpdateDescriptions:
		return applyUpdateDescriptions(ctx, o, rs)
	case StepDeleteDescriptions:
		return applyDeleteDescriptions(ctx, o, rs)
	default:
		return nil
	}
}

func undoStep(ctx context.Context, o *Orchestrator, rs *runState, step Step) error {
	switch step {
	case StepRestoreNodes:
		return undoRestoreNodes(ctx, o, rs)
	case StepCreateNodes:
		return undoCreateNodes(ctx, o, rs)
	case StepDeleteNodes:
		return undoDeleteNodes(ctx, o, rs)
	case StepReorderNodes:
		return undoReorderNodes(ctx, o, rs)
	case StepUpdateNodesTitles:
		return undoUpdateNodesTitles(ctx, o, rs)
	case StepUpdateWorkflowInitialInputs:
		return undoUpdateWorkflowInitialInputs(ctx, o, rs)
	case StepRestoreFlows:
		return undoRestoreFlows(ctx, o, rs)
	case StepCreateFlows:
		return undoCreateFlows(ctx, o, rs)
	case StepDeleteFlows:
		return undoDeleteFlows(ctx, o, rs)
	case StepUpdateFlowsTitles:
		return undoUpdateFlowsTitles(ctx, o, rs)
	case StepDeleteFlowSteps:
		return undoDeleteFlowSteps(ctx, o, rs)
	case StepRestoreFlowSteps:
		return undoRestoreFlowSteps(ctx, o, rs)
	case StepCreateFlowSteps:
		return undoCreateFlowSteps(ctx, o, rs)
	case StepCreateFlowStepNodes:
		return undoCreateFlowStepNodes(ctx, o, rs)
	case StepDeleteFlowStepNodes:
		return undoDeleteFlowStepNodes(ctx, o, rs)
	case StepCreateFlowStepInputs:
		return undoCreateFlowStepInputs(ctx, o, rs)
	case StepDeleteFlowStepInputs:
		return undoDeleteFlowStepInputs(ctx, o, rs)
	case StepCreateFlowStepOutputs:
		return undoCreateFlowStepOutputs(ctx, o, rs)
	case StepDeleteFlowStepOutputs:
		return undoDeleteFlowStepOutputs(ctx, o, rs)
	case StepRestoreIos:
		return undoRestoreIos(ctx, o, rs)
	case StepCreateIos:
		return undoCreateIos(ctx, o, rs)
	case StepDeleteIos:
		return undoDeleteIos(ctx, o, rs)
	case StepUpdateIoTitles:
		return undoUpdateIoTitles(ctx, o, rs)
	case StepUpdateDescriptions:
		return undoUpdateDescriptions(ctx, o, rs)
	case StepDeleteDescriptions:
		return undoDeleteDescriptions(ctx, o, rs)
	default:
		return nil
	}
}

// --- Nodes ---

func applyRestoreNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.RestoredNodes {
		original := n
		original.BranchID = original.ID
		if err := o.store.PutNode(ctx, original); err != nil {
			return fmt.Errorf("restore node %s: %w", n.ID, err)
		}
	}
	return nil
}

func undoRestoreNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.RestoredNodes {
		if err := o.store.DeleteNode(ctx, store.NodeKey{BranchID: n.ID, ID: n.ID}); err != nil {
			return fmt.Errorf("undo restore node %s: %w", n.ID, err)
		}
	}
	return nil
}

func applyCreateNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.CreatedNodes {
		original := n
		original.BranchID = original.ID
		if err := o.store.PutNode(ctx, original); err != nil {
			return fmt.Errorf("create node %s: %w", n.ID, err)
		}
	}
	return nil
}

func undoCreateNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.CreatedNodes {
		if err := o.store.DeleteNode(ctx, store.NodeKey{BranchID: n.ID, ID: n.ID}); err != nil {
			return fmt.Errorf("undo create node %s: %w", n.ID, err)
		}
	}
	return nil
}

func applyDeleteNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.DeletedNodes {
		if err := o.store.DeleteNode(ctx, store.NodeKey{BranchID: n.ID, ID: n.ID}); err != nil {
			return fmt.Errorf("delete node %s: %w", n.ID, err)
		}
	}
	return nil
}

func undoDeleteNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, n := range rs.staging.DeletedNodes {
		if err := o.store.PutNode(ctx, n); err != nil {
			return fmt.Errorf("undo delete node %s: %w", n.ID, err)
		}
	}
	return nil
}

func applyReorderNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	if o.reorderer == nil {
		return nil
	}
	for _, ev := range rs.branch.ReorderedNodes {
		if err := o.reorderer.Reorder(ctx, ev); err != nil {
			return fmt.Errorf("reorder node %s: %w", ev.ID, err)
		}
	}
	return nil
}

func undoReorderNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	if o.reorderer == nil {
		return nil
	}
	events := rs.branch.ReorderedNodes
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if err := o.reorderer.RestorePosition(ctx, ev.ID, ev.BranchID, ev.OldParentID, ev.OldOrderIndex); err != nil {
			return fmt.Errorf("undo reorder node %s: %w", ev.ID, err)
		}
	}
	return nil
}

func applyUpdateNodesTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleNodes.Items() {
		if alreadyStagedNode(branch, id) {
			continue
		}
		original, err := o.store.GetNode(ctx, store.NodeKey{BranchID: id, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load original node %s for title update: %w", id, err)
		}
		branched, err := o.store.GetNode(ctx, store.NodeKey{BranchID: branch.ID, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load branched node %s for title update: %w", id, err)
		}
		if branched.Title == original.Title {
			continue
		}
		branch.TitleChangeByObject = branch.TitleChangeByObject.Set(id, domain.TextChange{Old: original.Title, New: branched.Title})
		original.Title = branched.Title
		if err := o.store.PutNode(ctx, original); err != nil {
			return fmt.Errorf("update node %s title: %w", id, err)
		}
	}
	return nil
}

func undoUpdateNodesTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleNodes.Items() {
		change, ok := branch.TitleChangeByObject.Get(id)
		if !ok {
			continue
		}
		n, err := o.store.GetNode(ctx, store.NodeKey{BranchID: id, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load node %s to undo title update: %w", id, err)
		}
		n.Title = change.Old
		if err := o.store.PutNode(ctx, n); err != nil {
			return fmt.Errorf("undo node %s title update: %w", id, err)
		}
	}
	return nil
}

func alreadyStagedNode(branch *domain.Branch, id uuid.UUID) bool {
	return branch.CreatedNodes.Contains(id) || branch.RestoredNodes.Contains(id) || branch.DeletedNodes.Contains(id)
}

// --- Workflows ---

func applyUpdateWorkflowInitialInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	touched := make(map[uuid.UUID]struct{})
	for _, id := range branch.CreatedWorkflowInitialInputs.Keys() {
		touched[id] = struct{}{}
	}
	for _, id := range branch.DeletedWorkflowInitialInputs.Keys() {
		touched[id] = struct{}{}
	}

	for nodeID := range touched {
		w, err := o.store.GetWorkflow(ctx, nodeID, branch.RootID)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("load workflow for node %s: %w", nodeID, err)
		}
		if err == store.ErrNotFound {
			w = domain.Workflow{NodeID: nodeID, BranchID: branch.RootID}
		}

		if created, ok := branch.CreatedWorkflowInitialInputs.Get(nodeID); ok {
			w.InitialInputIDs = appendUniqueUUIDs(w.InitialInputIDs, created)
		}
		if deleted, ok := branch.DeletedWorkflowInitialInputs.Get(nodeID); ok {
			w.InitialInputIDs = removeUUIDs(w.InitialInputIDs, deleted)
		}

		if err := o.store.PutWorkflow(ctx, w); err != nil {
			return fmt.Errorf("update workflow for node %s: %w", nodeID, err)
		}
	}
	return nil
}

func undoUpdateWorkflowInitialInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	touched := make(map[uuid.UUID]struct{})
	for _, id := range branch.CreatedWorkflowInitialInputs.Keys() {
		touched[id] = struct{}{}
	}
	for _, id := range branch.DeletedWorkflowInitialInputs.Keys() {
		touched[id] = struct{}{}
	}

	for nodeID := range touched {
		w, err := o.store.GetWorkflow(ctx, nodeID, branch.RootID)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load workflow for node %s to undo: %w", nodeID, err)
		}

		if created, ok := branch.CreatedWorkflowInitialInputs.Get(nodeID); ok {
			w.InitialInputIDs = removeUUIDs(w.InitialInputIDs, created)
		}
		if deleted, ok := branch.DeletedWorkflowInitialInputs.Get(nodeID); ok {
			w.InitialInputIDs = appendUniqueUUIDs(w.InitialInputIDs, deleted)
		}

		if err := o.store.PutWorkflow(ctx, w); err != nil {
			return fmt.Errorf("undo workflow update for node %s: %w", nodeID, err)
		}
	}
	return nil
}

func appendUniqueUUIDs(base []uuid.UUID, add []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(base))
	for _, id := range base {
		seen[id] = struct{}{}
	}
	for _, id := range add {
		if _, ok := seen[id]; !ok {
			base = append(base, id)
			seen[id] = struct{}{}
		}
	}
	return base
}

func removeUUIDs(base []uuid.UUID, remove []uuid.UUID) []uuid.UUID {
	if len(remove) == 0 {
		return base
	}
	drop := make(map[uuid.UUID]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(base))
	for _, id := range base {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// --- Flows ---

func applyRestoreFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalFlows(ctx, o, rs.branch, rs.staging.RestoredFlows)
}

func undoRestoreFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlows(ctx, o, rs.branch, rs.staging.RestoredFlows)
}

func applyCreateFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalFlows(ctx, o, rs.branch, rs.staging.CreatedFlows)
}

func undoCreateFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlows(ctx, o, rs.branch, rs.staging.CreatedFlows)
}

func applyDeleteFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlows(ctx, o, rs.branch, rs.staging.DeletedFlows)
}

func undoDeleteFlows(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, f := range rs.staging.DeletedFlows {
		if err := o.store.PutFlow(ctx, f); err != nil {
			return fmt.Errorf("undo delete flow %s: %w", f.ID, err)
		}
	}
	return nil
}

func putOriginalFlows(ctx context.Context, o *Orchestrator, branch *domain.Branch, flows []domain.Flow) error {
	for _, f := range flows {
		original := f
		original.BranchID = branch.RootID
		if err := o.store.PutFlow(ctx, original); err != nil {
			return fmt.Errorf("write original flow %s: %w", f.ID, err)
		}
	}
	return nil
}

func deleteOriginalFlows(ctx context.Context, o *Orchestrator, branch *domain.Branch, flows []domain.Flow) error {
	for _, f := range flows {
		if err := o.store.DeleteFlow(ctx, branch.RootID, f.ID); err != nil {
			return fmt.Errorf("delete original flow %s: %w", f.ID, err)
		}
	}
	return nil
}

func applyUpdateFlowsTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleFlows.Items() {
		if branch.CreatedFlows.Contains(id) || branch.RestoredFlows.Contains(id) || branch.DeletedFlows.Contains(id) {
			continue
		}
		original, err := o.store.GetFlow(ctx, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load original flow %s for title update: %w", id, err)
		}
		branched, err := o.store.GetFlow(ctx, branch.ID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load branched flow %s for title update: %w", id, err)
		}
		if branched.Title == original.Title {
			continue
		}
		branch.TitleChangeByObject = branch.TitleChangeByObject.Set(id, domain.TextChange{Old: original.Title, New: branched.Title})
		original.Title = branched.Title
		if err := o.store.PutFlow(ctx, original); err != nil {
			return fmt.Errorf("update flow %s title: %w", id, err)
		}
	}
	return nil
}

func undoUpdateFlowsTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleFlows.Items() {
		change, ok := branch.TitleChangeByObject.Get(id)
		if !ok {
			continue
		}
		f, err := o.store.GetFlow(ctx, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load flow %s to undo title update: %w", id, err)
		}
		f.Title = change.Old
		if err := o.store.PutFlow(ctx, f); err != nil {
			return fmt.Errorf("undo flow %s title update: %w", id, err)
		}
	}
	return nil
}

// --- IOs ---

func applyRestoreIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalIOs(ctx, o, rs.branch, rs.staging.RestoredIOs)
}

func undoRestoreIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalIOs(ctx, o, rs.branch, rs.staging.RestoredIOs)
}

func applyCreateIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalIOs(ctx, o, rs.branch, rs.staging.CreatedIOs)
}

func undoCreateIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalIOs(ctx, o, rs.branch, rs.staging.CreatedIOs)
}

func applyDeleteIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalIOs(ctx, o, rs.branch, rs.staging.DeletedIOs)
}

func undoDeleteIos(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, io := range rs.staging.DeletedIOs {
		if err := o.store.PutIO(ctx, io); err != nil {
			return fmt.Errorf("undo delete io %s: %w", io.ID, err)
		}
	}
	return nil
}

func putOriginalIOs(ctx context.Context, o *Orchestrator, branch *domain.Branch, ios []domain.IO) error {
	for _, io := range ios {
		original := io
		original.BranchID = branch.RootID
		if err := o.store.PutIO(ctx, original); err != nil {
			return fmt.Errorf("write original io %s: %w", io.ID, err)
		}
	}
	return nil
}

func deleteOriginalIOs(ctx context.Context, o *Orchestrator, branch *domain.Branch, ios []domain.IO) error {
	for _, io := range ios {
		if err := o.store.DeleteIO(ctx, branch.RootID, branch.RootID, io.ID); err != nil {
			return fmt.Errorf("delete original io %s: %w", io.ID, err)
		}
	}
	return nil
}

func applyUpdateIoTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleIos.Items() {
		if branch.CreatedIos.Contains(id) || branch.RestoredIos.Contains(id) || branch.DeletedIos.Contains(id) {
			continue
		}
		original, err := o.store.GetIO(ctx, branch.RootID, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load original io %s for title update: %w", id, err)
		}
		branched, err := o.store.GetIO(ctx, branch.RootID, branch.ID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load branched io %s for title update: %w", id, err)
		}
		if branched.Title == original.Title {
			continue
		}
		branch.TitleChangeByObject = branch.TitleChangeByObject.Set(id, domain.TextChange{Old: original.Title, New: branched.Title})
		original.Title = branched.Title
		if err := o.store.PutIO(ctx, original); err != nil {
			return fmt.Errorf("update io %s title: %w", id, err)
		}
	}
	return nil
}

func undoUpdateIoTitles(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	for _, id := range branch.EditedTitleIos.Items() {
		change, ok := branch.TitleChangeByObject.Get(id)
		if !ok {
			continue
		}
		io, err := o.store.GetIO(ctx, branch.RootID, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load io %s to undo title update: %w", id, err)
		}
		io.Title = change.Old
		if err := o.store.PutIO(ctx, io); err != nil {
			return fmt.Errorf("undo io %s title update: %w", id, err)
		}
	}
	return nil
}
