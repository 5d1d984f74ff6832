package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// --- Descriptions ---

// applyUpdateDescriptions folds every edited description into the original
// tree through the injected Merger, covering nodes, flows, and flow steps;
// edited io descriptions are not merged by this step. Each object's prior
// original value is recorded into DescriptionChangeByObject so undo can
// restore it without re-running the CRDT merge.
func applyUpdateDescriptions(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	ids := make([]uuid.UUID, 0, branch.EditedDescriptionNodes.Len()+branch.EditedDescriptionFlows.Len()+branch.EditedDescriptionFlowSteps.Len())
	ids = append(ids, branch.EditedDescriptionNodes.Items()...)
	ids = append(ids, branch.EditedDescriptionFlows.Items()...)
	ids = append(ids, branch.EditedDescriptionFlowSteps.Items()...)

	for _, id := range ids {
		if alreadyStagedObject(branch, id) {
			continue
		}
		branched, err := o.store.GetDescription(ctx, branch.ID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("load branched description for %s: %w", id, err)
		}

		original, err := o.store.GetDescription(ctx, branch.RootID, id)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("load original description for %s: %w", id, err)
		}

		merged, err := o.merger(original, branched)
		if err != nil {
			return fmt.Errorf("merge description for %s: %w", id, err)
		}

		branch.DescriptionChangeByObject = branch.DescriptionChangeByObject.Set(id, domain.TextChange{Old: string(original), New: string(merged)})
		if err := o.store.PutDescription(ctx, branch.RootID, id, merged); err != nil {
			return fmt.Errorf("write merged description for %s: %w", id, err)
		}
	}
	return nil
}

func undoUpdateDescriptions(ctx context.Context, o *Orchestrator, rs *runState) error {
	branch := rs.branch
	ids := make([]uuid.UUID, 0, branch.EditedDescriptionNodes.Len()+branch.EditedDescriptionFlows.Len()+branch.EditedDescriptionFlowSteps.Len())
	ids = append(ids, branch.EditedDescriptionNodes.Items()...)
	ids = append(ids, branch.EditedDescriptionFlows.Items()...)
	ids = append(ids, branch.EditedDescriptionFlowSteps.Items()...)

	for _, id := range ids {
		change, ok := branch.DescriptionChangeByObject.Get(id)
		if !ok {
			continue
		}
		if err := o.store.PutDescription(ctx, branch.RootID, id, []byte(change.Old)); err != nil {
			return fmt.Errorf("undo merged description for %s: %w", id, err)
		}
	}
	return nil
}

// applyDeleteDescriptions archives the description of every object the
// merge is deleting in this run, covering nodes, flows, flow steps, and ios.
// Archiving (rather than discarding) mirrors how the rest of this step's
// siblings keep the prior value reachable for the conflict resolution UI.
func applyDeleteDescriptions(ctx context.Context, o *Orchestrator, rs *runState) error {
	staging := rs.staging
	branch := rs.branch

	for _, n := range staging.DeletedNodes {
		if err := o.store.ArchiveDescription(ctx, branch.RootID, n.ID); err != nil {
			return fmt.Errorf("archive description for node %s: %w", n.ID, err)
		}
	}
	for _, f := range staging.DeletedFlows {
		if err := o.store.ArchiveDescription(ctx, branch.RootID, f.ID); err != nil {
			return fmt.Errorf("archive description for flow %s: %w", f.ID, err)
		}
	}
	for _, fs := range staging.DeletedFlowSteps {
		if err := o.store.ArchiveDescription(ctx, branch.RootID, fs.ID); err != nil {
			return fmt.Errorf("archive description for flow step %s: %w", fs.ID, err)
		}
	}
	for _, io := range staging.DeletedIOs {
		if err := o.store.ArchiveDescription(ctx, branch.RootID, io.ID); err != nil {
			return fmt.Errorf("archive description for io %s: %w", io.ID, err)
		}
	}
	return nil
}

// undoDeleteDescriptions is a no-op: archiving a description does not
// discard it, so nothing needs to be written back. The description store's
// archived copy remains the record of what was deleted regardless of
// whether the delete itself is later undone.
func undoDeleteDescriptions(ctx context.Context, o *Orchestrator, rs *runState) error {
	return nil
}

func alreadyStagedObject(branch *domain.Branch, id uuid.UUID) bool {
	return branch.CreatedNodes.Contains(id) || branch.RestoredNodes.Contains(id) || branch.DeletedNodes.Contains(id) ||
		branch.CreatedFlows.Contains(id) || branch.RestoredFlows.Contains(id) || branch.DeletedFlows.Contains(id) ||
		branch.CreatedFlowSteps.Contains(id) || branch.RestoredFlowSteps.Contains(id) || branch.DeletedFlowSteps.Contains(id)
}
