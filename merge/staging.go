package merge

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// Staging is the slice of a branch's pending writes a merge needs in order
// to run its 27 steps: every branched row the branch created, restored or
// deleted, resolved against the original tree once up front so the
// create/restore/delete steps apply against data already in hand. Title,
// workflow-input and description steps read the rows they update from the
// store when they run.
type Staging struct {
	Branch *domain.Branch

	RestoredNodes []domain.Node
	CreatedNodes  []domain.Node
	DeletedNodes  []domain.Node

	RestoredFlows []domain.Flow
	CreatedFlows  []domain.Flow
	DeletedFlows  []domain.Flow

	RestoredFlowSteps []domain.FlowStep
	CreatedFlowSteps  []domain.FlowStep
	DeletedFlowSteps  []domain.FlowStep

	RestoredIOs []domain.IO
	CreatedIOs  []domain.IO
	DeletedIOs  []domain.IO
}

// loadStaging resolves every id a branch's delta fields reference into the
// full rows a merge needs, filtering out rows that would be no-ops (already
// restored, or parented under something already deleted) the same way
// nodecosmos's per-entity MergeX::new constructors do.
func loadStaging(ctx context.Context, st store.Store, branch *domain.Branch) (*Staging, error) {
	s := &Staging{Branch: branch}

	var err error
	if s.RestoredNodes, err = loadRestoredNodes(ctx, st, branch); err != nil {
		return nil, err
	}
	if s.CreatedNodes, err = loadCreatedNodes(ctx, st, branch); err != nil {
		return nil, err
	}
	if s.DeletedNodes, err = loadOriginalByIDs(branch.DeletedNodes.Items(), func(id uuid.UUID) (domain.Node, error) {
		return st.GetNode(ctx, store.NodeKey{BranchID: id, ID: id})
	}); err != nil {
		return nil, err
	}
	sortNodesByDepth(s.DeletedNodes)

	if s.RestoredFlows, err = loadBranchedFlows(ctx, st, branch, branch.RestoredFlows.Items(), true); err != nil {
		return nil, err
	}
	if s.CreatedFlows, err = loadBranchedFlows(ctx, st, branch, branch.CreatedFlows.Items(), false); err != nil {
		return nil, err
	}
	if s.DeletedFlows, err = loadOriginalFlows(ctx, st, branch, branch.DeletedFlows.Items()); err != nil {
		return nil, err
	}

	if s.RestoredFlowSteps, err = loadBranchedFlowSteps(ctx, st, branch, branch.RestoredFlowSteps.Items()); err != nil {
		return nil, err
	}
	if s.CreatedFlowSteps, err = loadBranchedFlowSteps(ctx, st, branch, branch.CreatedFlowSteps.Items()); err != nil {
		return nil, err
	}
	if s.DeletedFlowSteps, err = loadOriginalFlowSteps(ctx, st, branch, branch.DeletedFlowSteps.Items()); err != nil {
		return nil, err
	}

	if s.RestoredIOs, err = loadBranchedIOs(ctx, st, branch, branch.RestoredIos.Items()); err != nil {
		return nil, err
	}
	if s.CreatedIOs, err = loadBranchedIOs(ctx, st, branch, branch.CreatedIos.Items()); err != nil {
		return nil, err
	}
	if s.DeletedIOs, err = loadOriginalIOs(ctx, st, branch, branch.DeletedIos.Items()); err != nil {
		return nil, err
	}

	return s, nil
}

func loadRestoredNodes(ctx context.Context, st store.Store, branch *domain.Branch) ([]domain.Node, error) {
	ids := branch.RestoredNodes.Items()
	if len(ids) == 0 {
		return nil, nil
	}

	var out []domain.Node
	for _, id := range ids {
		n, err := st.GetNode(ctx, store.NodeKey{BranchID: branch.ID, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}

		already, err := nodeExists(ctx, st, store.NodeKey{BranchID: id, ID: id})
		if err != nil {
			return nil, err
		}
		if already {
			continue
		}
		out = append(out, n)
	}
	sortNodesByDepth(out)
	return out, nil
}

func loadCreatedNodes(ctx context.Context, st store.Store, branch *domain.Branch) ([]domain.Node, error) {
	ids := branch.CreatedNodes.Items()
	if len(ids) == 0 {
		return nil, nil
	}

	var out []domain.Node
	for _, id := range ids {
		if branch.DeletedNodes.Contains(id) {
			continue
		}
		n, err := st.GetNode(ctx, store.NodeKey{BranchID: branch.ID, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	out = filterOutDeletedAncestors(out, branch.DeletedNodes)
	sortNodesByDepth(out)
	return out, nil
}

// filterOutDeletedAncestors drops a node if any ancestor is itself marked
// deleted in the branch: it will be removed transitively when its deleted
// ancestor is processed, so creating (or deleting) it independently would
// be redundant and, for creation, would insert a node under a parent that
// is about to vanish.
func filterOutDeletedAncestors(nodes []domain.Node, deleted domain.OptSet[uuid.UUID]) []domain.Node {
	if deleted.Len() == 0 {
		return nodes
	}
	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		skip := false
		for _, a := range n.AncestorIDs {
			if deleted.Contains(a) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, n)
		}
	}
	return out
}

func sortNodesByDepth(nodes []domain.Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return len(nodes[i].AncestorIDs) < len(nodes[j].AncestorIDs) })
}

func nodeExists(ctx context.Context, st store.Store, key store.NodeKey) (bool, error) {
	_, err := st.GetNode(ctx, key)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func loadOriginalByIDs[T any](ids []uuid.UUID, get func(uuid.UUID) (T, error)) ([]T, error) {
	var out []T
	for _, id := range ids {
		v, err := get(id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func loadBranchedFlows(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID, checkAlreadyRestored bool) ([]domain.Flow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Flow
	for _, id := range ids {
		f, err := st.GetFlow(ctx, branch.ID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if checkAlreadyRestored {
			already, err := flowExists(ctx, st, branch.RootID, id)
			if err != nil {
				return nil, err
			}
			if already {
				continue
			}
		}
		if parentNodeDeleted(branch, f.NodeID) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func loadOriginalFlows(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID) ([]domain.Flow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Flow
	for _, id := range ids {
		f, err := st.GetFlow(ctx, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func flowExists(ctx context.Context, st store.Store, rootID, id uuid.UUID) (bool, error) {
	_, err := st.GetFlow(ctx, rootID, id)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// parentNodeDeleted reports whether nodeID itself was deleted in the branch,
// which would orphan any flow still staged against it.
func parentNodeDeleted(branch *domain.Branch, nodeID uuid.UUID) bool {
	return branch.DeletedNodes.Contains(nodeID)
}

func loadBranchedFlowSteps(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID) ([]domain.FlowStep, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.FlowStep
	for _, id := range ids {
		fs, found, err := findFlowStepByID(ctx, st, branch, branch.ID, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, fs)
		}
	}
	return out, nil
}

func loadOriginalFlowSteps(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID) ([]domain.FlowStep, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.FlowStep
	for _, id := range ids {
		fs, found, err := findFlowStepByID(ctx, st, branch, branch.RootID, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, fs)
		}
	}
	return out, nil
}

// findFlowStepByID scans every flow the branch's workflow nodes own looking
// for id, since a FlowStep's partition key (node_id, branch_id) isn't
// derivable from its id alone. Branches are expected to touch a small
// number of workflow nodes, so this stays cheap in practice.
func findFlowStepByID(ctx context.Context, st store.Store, branch *domain.Branch, branchID, id uuid.UUID) (domain.FlowStep, bool, error) {
	for _, nodeID := range branch.EditedWorkflowNodes.Items() {
		flows, err := st.ListFlowsByNode(ctx, branchID, nodeID)
		if err != nil {
			return domain.FlowStep{}, false, err
		}
		for _, f := range flows {
			steps, err := st.ListFlowStepsByFlow(ctx, nodeID, branchID, f.ID)
			if err != nil {
				return domain.FlowStep{}, false, err
			}
			for _, fs := range steps {
				if fs.ID == id {
					return fs, true, nil
				}
			}
		}
	}
	return domain.FlowStep{}, false, nil
}

func loadBranchedIOs(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID) ([]domain.IO, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.IO
	for _, id := range ids {
		io, err := st.GetIO(ctx, branch.RootID, branch.ID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, io)
	}
	return out, nil
}

func loadOriginalIOs(ctx context.Context, st store.Store, branch *domain.Branch, ids []uuid.UUID) ([]domain.IO, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.IO
	for _, id := range ids {
		io, err := st.GetIO(ctx, branch.RootID, branch.RootID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, io)
	}
	return out, nil
}
