package merge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/store"
	"github.com/arborist/branchmerge/store/memory"
)

func newTestLocker(t *testing.T) *locker.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return locker.New(client)
}

func newTestBranch(rootID uuid.UUID) domain.Branch {
	branchID := uuid.New()
	return domain.Branch{
		ID:                           branchID,
		RootID:                       rootID,
		NodeID:                       rootID,
		Status:                       domain.BranchOpen,
		CreatedNodes:                 domain.NewOptSet[uuid.UUID](),
		DeletedNodes:                 domain.NewOptSet[uuid.UUID](),
		RestoredNodes:                domain.NewOptSet[uuid.UUID](),
		EditedTitleNodes:             domain.NewOptSet[uuid.UUID](),
		EditedDescriptionNodes:       domain.NewOptSet[uuid.UUID](),
		EditedWorkflowNodes:          domain.NewOptSet[uuid.UUID](),
		CreatedFlows:                 domain.NewOptSet[uuid.UUID](),
		DeletedFlows:                 domain.NewOptSet[uuid.UUID](),
		RestoredFlows:                domain.NewOptSet[uuid.UUID](),
		EditedTitleFlows:             domain.NewOptSet[uuid.UUID](),
		EditedDescriptionFlows:       domain.NewOptSet[uuid.UUID](),
		CreatedFlowSteps:             domain.NewOptSet[uuid.UUID](),
		DeletedFlowSteps:             domain.NewOptSet[uuid.UUID](),
		RestoredFlowSteps:            domain.NewOptSet[uuid.UUID](),
		KeptFlowSteps:                domain.NewOptSet[uuid.UUID](),
		EditedDescriptionFlowSteps:   domain.NewOptSet[uuid.UUID](),
		CreatedFlowStepNodes:         domain.NewOptMap[uuid.UUID, domain.OptSet[uuid.UUID]](),
		DeletedFlowStepNodes:         domain.NewOptMap[uuid.UUID, domain.OptSet[uuid.UUID]](),
		CreatedFlowStepInputsByNode:  domain.NewOptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]](),
		DeletedFlowStepInputsByNode:  domain.NewOptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]](),
		CreatedFlowStepOutputsByNode: domain.NewOptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]](),
		DeletedFlowStepOutputsByNode: domain.NewOptMap[uuid.UUID, map[uuid.UUID]domain.OptSet[uuid.UUID]](),
		CreatedIos:                   domain.NewOptSet[uuid.UUID](),
		DeletedIos:                   domain.NewOptSet[uuid.UUID](),
		RestoredIos:                  domain.NewOptSet[uuid.UUID](),
		EditedTitleIos:               domain.NewOptSet[uuid.UUID](),
		EditedDescriptionIos:         domain.NewOptSet[uuid.UUID](),
		CreatedWorkflowInitialInputs: domain.NewOptMap[uuid.UUID, []uuid.UUID](),
		DeletedWorkflowInitialInputs: domain.NewOptMap[uuid.UUID, []uuid.UUID](),
		TitleChangeByObject:          domain.NewOptMap[uuid.UUID, domain.TextChange](),
		DescriptionChangeByObject:    domain.NewOptMap[uuid.UUID, domain.TextChange](),
		CreatedAt:                    time.Now(),
		UpdatedAt:                    time.Now(),
	}
}

// TestMergeCreatesNode exercises the simplest forward path: a branch that
// only creates one child node merges cleanly and the original tree gets a
// row for it.
func TestMergeCreatesNode(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()

	root := domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true, Title: "root"}
	if err := st.PutNode(ctx, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	branch := newTestBranch(rootID)
	childID := uuid.New()
	child := domain.Node{ID: childID, BranchID: branch.ID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "child"}
	if err := st.PutNode(ctx, child); err != nil {
		t.Fatalf("seed branched child: %v", err)
	}
	branch.CreatedNodes = branch.CreatedNodes.Add(childID)
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	orc := New(st, nil)
	merged, err := orc.Merge(ctx, branch.ID)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Status != domain.BranchMerged {
		t.Fatalf("status = %v, want merged", merged.Status)
	}

	got, err := st.GetNode(ctx, nodeKeyOriginal(childID))
	if err != nil {
		t.Fatalf("GetNode original child: %v", err)
	}
	if got.Title != "child" {
		t.Fatalf("title = %q, want child", got.Title)
	}
}

func nodeKeyOriginal(id uuid.UUID) store.NodeKey {
	return store.NodeKey{BranchID: id, ID: id}
}

// TestMergeBlockedByConflict refuses to run the saga at all when the branch
// already carries a recorded conflict.
func TestMergeBlockedByConflict(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()
	branch := newTestBranch(rootID)
	branch.Conflict = &domain.Conflict{DeletedAncestors: domain.NewOptSet(rootID)}
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	orc := New(st, nil)
	if _, err := orc.Merge(ctx, branch.ID); err == nil {
		t.Fatal("expected Merge to refuse a blocked branch")
	}
}

// TestMergeDetectsFreshConflict covers a branch that looked clear when
// opened but whose edited node was deleted from the original tree since: the
// detector should catch this at merge time and record the conflict rather
// than silently recreating the node.
func TestMergeDetectsFreshConflict(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()
	root := domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true, Title: "root"}
	if err := st.PutNode(ctx, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	editedID := uuid.New()
	branch := newTestBranch(rootID)
	branch.EditedDescriptionNodes = branch.EditedDescriptionNodes.Add(editedID)
	branchedNode := domain.Node{ID: editedID, BranchID: branch.ID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "edited"}
	if err := st.PutNode(ctx, branchedNode); err != nil {
		t.Fatalf("seed branched node: %v", err)
	}
	// No original row for editedID: it was deleted from the trunk after the
	// branch recorded its description edit.
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	orc := New(st, nil)
	if _, err := orc.Merge(ctx, branch.ID); err == nil {
		t.Fatal("expected Merge to detect the fresh conflict")
	}

	got, err := st.GetBranch(ctx, branch.ID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got.Conflict.Empty() {
		t.Fatal("expected branch to carry a recorded conflict after Merge")
	}
}

// TestReindexKeptFlowSteps bumps only the flow step named in KeptFlowSteps,
// leaving every other created flow step's index untouched.
func TestReindexKeptFlowSteps(t *testing.T) {
	rootID := uuid.New()
	branch := newTestBranch(rootID)
	keptID, freshID := uuid.New(), uuid.New()
	branch.KeptFlowSteps = branch.KeptFlowSteps.Add(keptID)

	in := []domain.FlowStep{
		{ID: keptID, FlowIndex: 1.0},
		{ID: freshID, FlowIndex: 2.0},
	}
	out := reindexKeptFlowSteps(&branch, in)

	if out[0].FlowIndex != 1.0+flowIndexEpsilon {
		t.Fatalf("kept flow step FlowIndex = %v, want %v", out[0].FlowIndex, 1.0+flowIndexEpsilon)
	}
	if out[1].FlowIndex != 2.0 {
		t.Fatalf("fresh flow step FlowIndex = %v, want unchanged 2.0", out[1].FlowIndex)
	}
	if in[0].FlowIndex != 1.0 {
		t.Fatal("expected reindexKeptFlowSteps to leave the input slice's backing array untouched")
	}
}

// TestMergeRefusesWhenRootLockedForMerge covers P7: a root already locked
// for a merge must reject a concurrent second merge attempt rather than
// racing it.
func TestMergeRefusesWhenRootLockedForMerge(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()
	root := domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true, Title: "root"}
	if err := st.PutNode(ctx, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	branch := newTestBranch(rootID)
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	l := newTestLocker(t)
	if err := l.LockResourceActions(ctx, rootID.String(), branch.ID.String(), []locker.Action{locker.ActionMerge}, locker.TTLFiveMinute); err != nil {
		t.Fatalf("pre-lock root for merge: %v", err)
	}

	orc := New(st, l)
	if _, err := orc.Merge(ctx, branch.ID); err == nil {
		t.Fatal("expected Merge to refuse a root already locked for merge")
	}
}

// TestMergeReleasesRootLockOnSuccess checks the merge/reorder action locks
// taken at the top of Merge are released once the saga completes, so a
// later merge or reorder against the same root isn't left blocked forever.
func TestMergeReleasesRootLockOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()
	root := domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true, Title: "root"}
	if err := st.PutNode(ctx, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	branch := newTestBranch(rootID)
	childID := uuid.New()
	child := domain.Node{ID: childID, BranchID: branch.ID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "child"}
	if err := st.PutNode(ctx, child); err != nil {
		t.Fatalf("seed branched child: %v", err)
	}
	branch.CreatedNodes = branch.CreatedNodes.Add(childID)
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	l := newTestLocker(t)
	orc := New(st, l)
	if _, err := orc.Merge(ctx, branch.ID); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if err := l.ValidateResourceActionUnlocked(ctx, locker.ActionMerge, rootID.String(), branch.ID.String(), false); err != nil {
		t.Fatalf("expected merge action lock to be released, got %v", err)
	}
	if err := l.ValidateResourceActionUnlocked(ctx, locker.ActionReorder, rootID.String(), branch.ID.String(), false); err != nil {
		t.Fatalf("expected reorder action lock to be released, got %v", err)
	}
}

// failingReorderer always fails its Reorder call, letting tests exercise the
// saga's unwind path without needing a node deep enough to fail on its own.
type failingReorderer struct{}

func (failingReorderer) Reorder(context.Context, domain.ReorderEvent) error {
	return errTestReorderFailure
}
func (failingReorderer) RestorePosition(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, float64) error {
	return nil
}

var errTestReorderFailure = &mergeTestError{"reorder step intentionally failed"}

type mergeTestError struct{ msg string }

func (e *mergeTestError) Error() string { return e.msg }

// TestMergeUnwindsOnFailure forces a mid-saga failure at the reorder step
// and checks the node created earlier in the same run is rolled back.
func TestMergeUnwindsOnFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rootID := uuid.New()
	root := domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true, Title: "root"}
	if err := st.PutNode(ctx, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	branch := newTestBranch(rootID)
	childID := uuid.New()
	child := domain.Node{ID: childID, BranchID: branch.ID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "child"}
	if err := st.PutNode(ctx, child); err != nil {
		t.Fatalf("seed branched child: %v", err)
	}
	branch.CreatedNodes = branch.CreatedNodes.Add(childID)
	branch.ReorderedNodes = []domain.ReorderEvent{{ID: childID, OldParentID: rootID, OldOrderIndex: 0, NewParentID: rootID}}
	if err := st.PutBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	orc := New(st, nil, WithReorderer(failingReorderer{}))
	if _, err := orc.Merge(ctx, branch.ID); err == nil {
		t.Fatal("expected Merge to fail at the reorder step")
	}

	if _, err := st.GetNode(ctx, nodeKeyOriginal(childID)); err == nil {
		t.Fatal("expected the created node to be rolled back after the failed merge")
	}

	got, err := st.GetBranch(ctx, branch.ID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got.Status != domain.BranchRecovered {
		t.Fatalf("status = %v, want recovered", got.Status)
	}
}
