// Package conflict detects when a branch's recorded edits have diverged from
// the original tree: an ancestor got deleted out from under a new node, an
// edited node/flow/flow-step/io was itself deleted on the original tree, or
// two branches independently inserted a flow step at the same position. A
// non-empty Conflict blocks merge until the branch owner resolves it.
package conflict

import (
	"context"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// Staging is the slice of a branch's pending writes the detector needs to
// check against the current original tree. It holds only what conflict
// detection reads: the full set of staged writes (used by the merge
// orchestrator) lives in the merge package's own, wider Staging type, which
// merge narrows into this one with toConflictStaging before calling Detect.
type Staging struct {
	Branch *domain.Branch

	// CreatedNodes are branched node rows newly created in this branch,
	// with AncestorIDs already populated in branch scope.
	CreatedNodes []domain.Node

	CreatedFlowSteps  []domain.FlowStep
	RestoredFlowSteps []domain.FlowStep

	// BranchedCreatedFsNodesFlowSteps/Outputs/Inputs are existing flow
	// steps whose node membership, outputs, or inputs changed in this
	// branch, keyed by flow step id.
	BranchedCreatedFsNodesFlowSteps   map[uuid.UUID]domain.FlowStep
	BranchedCreatedFsOutputsFlowSteps map[uuid.UUID]domain.FlowStep
	BranchedCreatedFsInputsFlowSteps  map[uuid.UUID]domain.FlowStep

	// CreatedFsNodesFlowSteps/Outputs are flow steps the branch created
	// whose participating nodes/outputs were recorded separately from
	// CreatedFlowSteps (mirrors the original's per-aspect staging).
	CreatedFsNodesFlowSteps   []domain.FlowStep
	CreatedFsOutputsFlowSteps []domain.FlowStep

	CreatedIOs  []domain.IO
	RestoredIOs []domain.IO
}

// Detector checks a Staging against the original tree for every conflict
// rule spec.md defines. It is a pure function of its inputs aside from the
// read-only store lookups it performs, so it is safe to call repeatedly
// (e.g. once per branch update, then again before merge).
type Detector struct {
	store store.Store
}

func NewDetector(s store.Store) *Detector {
	return &Detector{store: s}
}

// Detect runs every detection rule against staging and returns the resulting
// Conflict. A Conflict with every field empty means the branch is clear to
// merge.
func (d *Detector) Detect(ctx context.Context, staging *Staging) (*domain.Conflict, error) {
	c := &domain.Conflict{}

	if err := d.extractCreatedNodeConflicts(ctx, staging, c); err != nil {
		return nil, err
	}
	if err := d.extractDeletedEditedNodes(ctx, staging, c); err != nil {
		return nil, err
	}
	if err := d.extractDeletedEditedFlows(ctx, staging, c); err != nil {
		return nil, err
	}
	if err := d.extractDeletedEditedFlowSteps(ctx, staging, c); err != nil {
		return nil, err
	}
	if err := d.extractConflictingFlowSteps(ctx, staging, c); err != nil {
		return nil, err
	}
	if err := d.extractDeletedIOs(ctx, staging, c); err != nil {
		return nil, err
	}

	return c, nil
}

// extractDeletedAncestors checks ancestorIDs against the branch's own
// created/restored/deleted node sets first (an ancestor the branch already
// knows about is not a surprise), then against the original tree: any
// remaining ancestor id that no longer exists as an original node is a
// conflict the branch owner must resolve before merging.
func (d *Detector) extractDeletedAncestors(ctx context.Context, branch *domain.Branch, ancestorIDs map[uuid.UUID]struct{}, c *domain.Conflict) error {
	var pending []uuid.UUID
	for id := range ancestorIDs {
		if branch.CreatedNodes.Contains(id) || branch.RestoredNodes.Contains(id) || branch.DeletedNodes.Contains(id) {
			continue
		}
		pending = append(pending, id)
	}

	existing := make(map[uuid.UUID]struct{}, len(pending))
	for _, id := range pending {
		ok, err := d.originalNodeExists(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			existing[id] = struct{}{}
		}
	}

	var conflicted []uuid.UUID
	for _, id := range pending {
		if _, ok := existing[id]; ok {
			continue
		}
		if branch.RestoredNodes.Contains(id) || branch.DeletedNodes.Contains(id) {
			continue
		}
		conflicted = append(conflicted, id)
	}

	if len(conflicted) > 0 {
		merged := c.DeletedAncestors
		if merged.Absent() {
			merged = domain.NewOptSet[uuid.UUID]()
		}
		for _, id := range conflicted {
			merged = merged.Add(id)
		}
		c.DeletedAncestors = merged
	}
	return nil
}

func (d *Detector) extractCreatedNodeConflicts(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	for _, n := range staging.CreatedNodes {
		ancestors := n.AncestorSet()
		if err := d.extractDeletedAncestors(ctx, staging.Branch, ancestors, c); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) extractDeletedEditedNodes(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	branch := staging.Branch

	edited := unionIDs(branch.EditedWorkflowNodes, branch.EditedDescriptionNodes)
	var originalEdited []uuid.UUID
	for id := range edited {
		if branch.CreatedNodes.Contains(id) || branch.DeletedNodes.Contains(id) || branch.RestoredNodes.Contains(id) {
			continue
		}
		originalEdited = append(originalEdited, id)
	}

	for _, id := range originalEdited {
		n, err := d.store.GetNode(ctx, store.NodeKey{BranchID: branch.ID, ID: id})
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := d.extractDeletedAncestors(ctx, branch, n.AncestorSet(), c); err != nil {
			return err
		}
	}

	var deletedEdited []uuid.UUID
	for _, id := range originalEdited {
		ok, err := d.originalNodeExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			deletedEdited = append(deletedEdited, id)
		}
	}

	if len(deletedEdited) > 0 {
		c.DeletedEditedNodes = domain.NewOptSet(deletedEdited...)
	}
	return nil
}

func (d *Detector) extractDeletedEditedFlows(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	branch := staging.Branch
	if branch.EditedWorkflowNodes.Absent() {
		return nil
	}

	edited := unionIDs(branch.EditedDescriptionFlows)
	for _, fs := range staging.CreatedFlowSteps {
		edited[fs.FlowID] = struct{}{}
	}
	for _, fs := range staging.RestoredFlowSteps {
		edited[fs.FlowID] = struct{}{}
	}
	for _, fs := range staging.BranchedCreatedFsNodesFlowSteps {
		edited[fs.FlowID] = struct{}{}
	}
	for _, fs := range staging.BranchedCreatedFsOutputsFlowSteps {
		edited[fs.FlowID] = struct{}{}
	}
	for _, fs := range staging.BranchedCreatedFsInputsFlowSteps {
		edited[fs.FlowID] = struct{}{}
	}
	flowStepByID := staging.flowStepIndex()
	for _, io := range staging.CreatedIOs {
		if fs, ok := flowStepByID[io.FlowStepID]; ok {
			edited[fs.FlowID] = struct{}{}
		}
	}
	for _, io := range staging.RestoredIOs {
		if fs, ok := flowStepByID[io.FlowStepID]; ok {
			edited[fs.FlowID] = struct{}{}
		}
	}

	var originalEdited []uuid.UUID
	for id := range edited {
		if branch.CreatedFlows.Contains(id) || branch.DeletedFlows.Contains(id) || branch.RestoredFlows.Contains(id) {
			continue
		}
		originalEdited = append(originalEdited, id)
	}

	var deleted []uuid.UUID
	for _, id := range originalEdited {
		ok, err := d.originalFlowExists(ctx, branch.RootID, id)
		if err != nil {
			return err
		}
		if !ok {
			deleted = append(deleted, id)
		}
	}

	if len(deleted) > 0 {
		c.DeletedEditedFlows = domain.NewOptSet(deleted...)
	}
	return nil
}

func (d *Detector) extractDeletedEditedFlowSteps(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	branch := staging.Branch
	if branch.EditedWorkflowNodes.Absent() {
		return nil
	}

	edited := unionIDs(branch.EditedDescriptionFlowSteps)
	for id := range staging.BranchedCreatedFsNodesFlowSteps {
		edited[id] = struct{}{}
	}
	for id := range staging.BranchedCreatedFsOutputsFlowSteps {
		edited[id] = struct{}{}
	}
	for _, fs := range staging.CreatedFsNodesFlowSteps {
		edited[fs.ID] = struct{}{}
	}
	for _, fs := range staging.CreatedFsOutputsFlowSteps {
		edited[fs.ID] = struct{}{}
	}
	for _, io := range staging.CreatedIOs {
		if io.FlowStepID != uuid.Nil {
			edited[io.FlowStepID] = struct{}{}
		}
	}
	for _, io := range staging.RestoredIOs {
		if io.FlowStepID != uuid.Nil {
			edited[io.FlowStepID] = struct{}{}
		}
	}

	var originalEdited []uuid.UUID
	for id := range edited {
		if branch.CreatedFlowSteps.Contains(id) || branch.DeletedFlowSteps.Contains(id) || branch.RestoredFlowSteps.Contains(id) {
			continue
		}
		originalEdited = append(originalEdited, id)
	}

	nodeIDByFlowStep := make(map[uuid.UUID]uuid.UUID, len(originalEdited))
	for _, fs := range staging.CreatedFlowSteps {
		nodeIDByFlowStep[fs.ID] = fs.NodeID
	}
	for _, fs := range staging.RestoredFlowSteps {
		nodeIDByFlowStep[fs.ID] = fs.NodeID
	}
	for _, fs := range staging.BranchedCreatedFsNodesFlowSteps {
		nodeIDByFlowStep[fs.ID] = fs.NodeID
	}
	for _, fs := range staging.BranchedCreatedFsOutputsFlowSteps {
		nodeIDByFlowStep[fs.ID] = fs.NodeID
	}

	var deleted []uuid.UUID
	for _, id := range originalEdited {
		nodeID, ok := nodeIDByFlowStep[id]
		if !ok {
			// Nothing in the staged set tells us which workflow this id
			// belongs to; without a partition key we cannot check
			// existence, so leave it alone rather than guess.
			continue
		}
		exists, err := d.originalFlowStepExists(ctx, nodeID, branch.RootID, id)
		if err != nil {
			return err
		}
		if !exists {
			deleted = append(deleted, id)
		}
	}

	if len(deleted) > 0 {
		c.DeletedEditedFlowSteps = domain.NewOptSet(deleted...)
	}
	return nil
}

// extractConflictingFlowSteps catches the case where this branch and the
// original tree each independently inserted a flow step at the same
// (flow, flow_index): the branch's step is not kept, the flow it belongs to
// is not new, and an original step already occupies that index that the
// branch does not itself delete.
func (d *Detector) extractConflictingFlowSteps(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	branch := staging.Branch

	candidates := append([]domain.FlowStep{}, staging.CreatedFlowSteps...)
	candidates = append(candidates, staging.RestoredFlowSteps...)
	if len(candidates) == 0 {
		return nil
	}

	conflicted := make(map[uuid.UUID]struct{})
	for _, fs := range candidates {
		if branch.CreatedFlows.Contains(fs.FlowID) || branch.KeptFlowSteps.Contains(fs.ID) {
			continue
		}

		original, err := d.findOriginalFlowStepByIndex(ctx, fs.NodeID, branch.RootID, fs.FlowID, fs.FlowIndex)
		if err != nil {
			return err
		}
		if original == nil {
			continue
		}
		if branch.DeletedFlowSteps.Contains(original.ID) {
			continue
		}
		conflicted[fs.ID] = struct{}{}
	}

	if len(conflicted) > 0 {
		ids := make([]uuid.UUID, 0, len(conflicted))
		for id := range conflicted {
			ids = append(ids, id)
		}
		c.ConflictingFlowSteps = domain.NewOptSet(ids...)
	}
	return nil
}

func (d *Detector) extractDeletedIOs(ctx context.Context, staging *Staging, c *domain.Conflict) error {
	branch := staging.Branch

	var originalEdited []uuid.UUID
	for id := range unionIDs(branch.EditedDescriptionIos) {
		if branch.CreatedIos.Contains(id) || branch.DeletedIos.Contains(id) || branch.RestoredIos.Contains(id) {
			continue
		}
		originalEdited = append(originalEdited, id)
	}

	var deleted []uuid.UUID
	for _, id := range originalEdited {
		ok, err := d.originalIOExists(ctx, branch.RootID, id)
		if err != nil {
			return err
		}
		if !ok {
			deleted = append(deleted, id)
		}
	}

	if len(deleted) > 0 {
		c.DeletedEditedIos = domain.NewOptSet(deleted...)
	}
	return nil
}

func (d *Detector) originalNodeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := d.store.GetNode(ctx, store.NodeKey{BranchID: id, ID: id})
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) originalFlowExists(ctx context.Context, rootID, id uuid.UUID) (bool, error) {
	_, err := d.store.GetFlow(ctx, rootID, id)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) originalFlowStepExists(ctx context.Context, nodeID, rootID, id uuid.UUID) (bool, error) {
	_, err := d.store.GetFlowStep(ctx, nodeID, rootID, id)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) originalIOExists(ctx context.Context, rootID, id uuid.UUID) (bool, error) {
	_, err := d.store.GetIO(ctx, rootID, rootID, id)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) findOriginalFlowStepByIndex(ctx context.Context, nodeID, rootID, flowID uuid.UUID, index float64) (*domain.FlowStep, error) {
	steps, err := d.store.ListFlowStepsByFlow(ctx, nodeID, rootID, flowID)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		if steps[i].FlowIndex == index {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// flowStepIndex builds a lookup of every flow step this Staging knows about,
// keyed by id, so IO-to-flow resolution doesn't need a dedicated store call.
func (s *Staging) flowStepIndex() map[uuid.UUID]domain.FlowStep {
	idx := make(map[uuid.UUID]domain.FlowStep)
	add := func(fs domain.FlowStep) { idx[fs.ID] = fs }
	for _, fs := range s.CreatedFlowSteps {
		add(fs)
	}
	for _, fs := range s.RestoredFlowSteps {
		add(fs)
	}
	for _, fs := range s.BranchedCreatedFsNodesFlowSteps {
		add(fs)
	}
	for _, fs := range s.BranchedCreatedFsOutputsFlowSteps {
		add(fs)
	}
	for _, fs := range s.BranchedCreatedFsInputsFlowSteps {
		add(fs)
	}
	for _, fs := range s.CreatedFsNodesFlowSteps {
		add(fs)
	}
	for _, fs := range s.CreatedFsOutputsFlowSteps {
		add(fs)
	}
	return idx
}

func unionIDs(sets ...domain.OptSet[uuid.UUID]) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for _, s := range sets {
		for _, id := range s.Items() {
			out[id] = struct{}{}
		}
	}
	return out
}
