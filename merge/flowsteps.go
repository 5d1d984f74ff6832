package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// --- FlowSteps: base rows ---

func applyRestoreFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalFlowSteps(ctx, o, rs.branch, rs.staging.RestoredFlowSteps)
}

func undoRestoreFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlowSteps(ctx, o, rs.branch, rs.staging.RestoredFlowSteps)
}

// flowIndexEpsilon is the fractional bump applied to a kept flow step's
// FlowIndex on create, tied to the smallest gap the reorder engine's
// sibling-averaging can produce (see reorder.buildNewOrderIndex) so a kept
// step's nudge never lands exactly on a neighboring step's own index.
const flowIndexEpsilon = 1e-9

func applyCreateFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	return putOriginalFlowSteps(ctx, o, rs.branch, reindexKeptFlowSteps(rs.branch, rs.staging.CreatedFlowSteps))
}

// reindexKeptFlowSteps bumps FlowIndex by flowIndexEpsilon for every flow
// step in steps that branch.KeptFlowSteps names: a step the branch created
// and chose to keep at an index an original step also occupies sorts just
// past that index instead of colliding with it, without forcing a full
// reindex of the rest of the flow.
func reindexKeptFlowSteps(branch *domain.Branch, steps []domain.FlowStep) []domain.FlowStep {
	if branch.KeptFlowSteps.Len() == 0 {
		return steps
	}
	out := make([]domain.FlowStep, len(steps))
	for i, fs := range steps {
		if branch.KeptFlowSteps.Contains(fs.ID) {
			fs.FlowIndex += flowIndexEpsilon
		}
		out[i] = fs
	}
	return out
}

func undoCreateFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlowSteps(ctx, o, rs.branch, rs.staging.CreatedFlowSteps)
}

func applyDeleteFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	return deleteOriginalFlowSteps(ctx, o, rs.branch, rs.staging.DeletedFlowSteps)
}

func undoDeleteFlowSteps(ctx context.Context, o *Orchestrator, rs *runState) error {
	for _, fs := range rs.staging.DeletedFlowSteps {
		if err := o.store.PutFlowStep(ctx, fs); err != nil {
			return fmt.Errorf("undo delete flow step %s: %w", fs.ID, err)
		}
	}
	return nil
}

func putOriginalFlowSteps(ctx context.Context, o *Orchestrator, branch *domain.Branch, steps []domain.FlowStep) error {
	for _, fs := range steps {
		original := fs
		original.BranchID = branch.RootID
		if err := o.store.PutFlowStep(ctx, original); err != nil {
			return fmt.Errorf("write original flow step %s: %w", fs.ID, err)
		}
	}
	return nil
}

func deleteOriginalFlowSteps(ctx context.Context, o *Orchestrator, branch *domain.Branch, steps []domain.FlowStep) error {
	for _, fs := range steps {
		if err := o.store.DeleteFlowStep(ctx, fs.NodeID, branch.RootID, fs.ID); err != nil {
			return fmt.Errorf("delete original flow step %s: %w", fs.ID, err)
		}
	}
	return nil
}

// originalFlowStep locates the original (trunk) copy of a flow step by id,
// the same lookup findFlowStepByID already does for loading staging.
func originalFlowStep(ctx context.Context, st store.Store, branch *domain.Branch, id uuid.UUID) (domain.FlowStep, bool, error) {
	return findFlowStepByID(ctx, st, branch, branch.RootID, id)
}

// --- FlowStep participating nodes ---

func applyCreateFlowStepNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepNodeIDs(ctx, o, rs.branch, rs.branch.CreatedFlowStepNodes, appendUniqueUUIDs)
}

func undoCreateFlowStepNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepNodeIDs(ctx, o, rs.branch, rs.branch.CreatedFlowStepNodes, removeUUIDs)
}

func applyDeleteFlowStepNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepNodeIDs(ctx, o, rs.branch, rs.branch.DeletedFlowStepNodes, removeUUIDs)
}

func undoDeleteFlowStepNodes(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepNodeIDs(ctx, o, rs.branch, rs.branch.DeletedFlowStepNodes, appendUniqueUUIDs)
}

func mutateFlowStepNodeIDs(ctx context.Context, o *Orchestrator, branch *domain.Branch, delta domain.OptMap[uuid.UUID, domain.OptSet[uuid.UUID]], combine func([]uuid.UUID, []uuid.UUID) []uuid.UUID) error {
	for _, flowStepID := range delta.Keys() {
		ids, ok := delta.Get(flowStepID)
		if !ok || ids.Len() == 0 {
			continue
		}
		fs, found, err := originalFlowStep(ctx, o.store, branch, flowStepID)
		if err != nil {
			return fmt.Errorf("load flow step %s: %w", flowStepID, err)
		}
		if !found {
			continue
		}
		fs.NodeIDs = combine(fs.NodeIDs, ids.Items())
		if err := o.store.PutFlowStep(ctx, fs); err != nil {
			return fmt.Errorf("update flow step %s nodes: %w", flowStepID, err)
		}
	}
	return nil
}

// --- FlowStep inputs / outputs by node ---

func applyCreateFlowStepInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.CreatedFlowStepInputsByNode, true, appendUniqueUUIDs)
}

func undoCreateFlowStepInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.CreatedFlowStepInputsByNode, true, removeUUIDs)
}

func applyDeleteFlowStepInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.DeletedFlowStepInputsByNode, true, removeUUIDs)
}

func undoDeleteFlowStepInputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.DeletedFlowStepInputsByNode, true, appendUniqueUUIDs)
}

func applyCreateFlowStepOutputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.CreatedFlowStepOutputsByNode, false, appendUniqueUUIDs)
}

func undoCreateFlowStepOutputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.CreatedFlowStepOutputsByNode, false, removeUUIDs)
}

func applyDeleteFlowStepOutputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.DeletedFlowStepOutputsByNode, false, removeUUIDs)
}

func undoDeleteFlowStepOutputs(ctx context.Context, o *Orchestrator, rs *runState) error {
	return mutateFlowStepIOByNode(ctx, o, rs.branch, rs.branch.DeletedFlowStepOutputsByNode, false, appendUniqueUUIDs)
}

// mutateFlowStepIOByNode walks a flow-step-id -> node-id -> io-id-set delta
// and applies combine to the matching slice of the original flow step's
// InputIDsByNode or OutputIDsByNode, writing the row back once per flow
// step touched.
func mutateFlowStepIOByNode(ctx context.Context, o *Orchestrator, branch *domain.Branch, delta domain.OptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]], inputs bool, combine func([]uuid.UUID, []uuid.UUID) []uuid.UUID) error {
	for _, flowStepID := range delta.Keys() {
		byNode, ok := delta.Get(flowStepID)
		if !ok {
			continue
		}
		fs, found, err := originalFlowStep(ctx, o.store, branch, flowStepID)
		if err != nil {
			return fmt.Errorf("load flow step %s: %w", flowStepID, err)
		}
		if !found {
			continue
		}
		target := fs.InputIDsByNode
		if !inputs {
			target = fs.OutputIDsByNode
		}
		if target == nil {
			target = make(map[uuid.UUID][]uuid.UUID, len(byNode))
		}
		for nodeID, ids := range byNode {
			if ids.Len() == 0 {
				continue
			}
			target[nodeID] = combine(target[nodeID], ids.Items())
		}
		if inputs {
			fs.InputIDsByNode = target
		} else {
			fs.OutputIDsByNode = target
		}
		if err := o.store.PutFlowStep(ctx, fs); err != nil {
			return fmt.Errorf("update flow step %s io: %w", flowStepID, err)
		}
	}
	return nil
}
