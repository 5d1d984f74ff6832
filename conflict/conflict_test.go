package conflict

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
	"github.com/arborist/branchmerge/store/memory"
)

func newBranch(rootID uuid.UUID) *domain.Branch {
	return &domain.Branch{
		ID:     uuid.New(),
		RootID: rootID,
		Status: domain.BranchOpen,
	}
}

func TestDetectDeletedAncestorConflict(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	if err := st.PutNode(ctx, domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	deletedAncestorID := uuid.New() // never written to the store: "deleted" on original tree
	newNodeID := uuid.New()

	branch := newBranch(rootID)
	staging := &Staging{
		Branch: branch,
		CreatedNodes: []domain.Node{
			{ID: newNodeID, BranchID: branch.ID, RootID: rootID, AncestorIDs: []uuid.UUID{rootID, deletedAncestorID}},
		},
	}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.DeletedAncestors.Len() != 1 || !c.DeletedAncestors.Contains(deletedAncestorID) {
		t.Fatalf("expected deleted ancestor conflict on %v, got %+v", deletedAncestorID, c.DeletedAncestors.Items())
	}
	if c.Empty() {
		t.Fatal("expected non-empty conflict")
	}
}

func TestDetectNoConflictWhenAncestorsExist(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	if err := st.PutNode(ctx, domain.Node{ID: rootID, BranchID: rootID, RootID: rootID, IsRoot: true}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	branch := newBranch(rootID)
	staging := &Staging{
		Branch: branch,
		CreatedNodes: []domain.Node{
			{ID: uuid.New(), BranchID: branch.ID, RootID: rootID, AncestorIDs: []uuid.UUID{rootID}},
		},
	}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !c.Empty() {
		t.Fatalf("expected no conflict, got %+v", c)
	}
}

func TestDetectDeletedEditedNode(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	editedID := uuid.New() // edited in branch, but never exists as an original node

	branch := newBranch(rootID)
	branch.EditedWorkflowNodes = domain.NewOptSet(editedID)

	staging := &Staging{Branch: branch}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.DeletedEditedNodes.Len() != 1 || !c.DeletedEditedNodes.Contains(editedID) {
		t.Fatalf("expected deleted_edited_nodes conflict on %v, got %+v", editedID, c.DeletedEditedNodes.Items())
	}
}

func TestDetectConflictingFlowSteps(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	nodeID := uuid.New()
	flowID := uuid.New()
	originalStepID := uuid.New()

	if err := st.PutFlowStep(ctx, domain.FlowStep{
		ID: originalStepID, BranchID: rootID, NodeID: nodeID, FlowID: flowID, FlowIndex: 1,
	}); err != nil {
		t.Fatalf("PutFlowStep: %v", err)
	}

	branch := newBranch(rootID)
	newStepID := uuid.New()
	staging := &Staging{
		Branch: branch,
		CreatedFlowSteps: []domain.FlowStep{
			{ID: newStepID, BranchID: branch.ID, NodeID: nodeID, FlowID: flowID, FlowIndex: 1},
		},
	}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.ConflictingFlowSteps.Len() != 1 || !c.ConflictingFlowSteps.Contains(newStepID) {
		t.Fatalf("expected conflicting_flow_steps on %v, got %+v", newStepID, c.ConflictingFlowSteps.Items())
	}
}

func TestDetectConflictingFlowStepsSkipsKept(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	nodeID := uuid.New()
	flowID := uuid.New()

	if err := st.PutFlowStep(ctx, domain.FlowStep{
		ID: uuid.New(), BranchID: rootID, NodeID: nodeID, FlowID: flowID, FlowIndex: 2,
	}); err != nil {
		t.Fatalf("PutFlowStep: %v", err)
	}

	branch := newBranch(rootID)
	stepID := uuid.New()
	branch.KeptFlowSteps = domain.NewOptSet(stepID)
	staging := &Staging{
		Branch: branch,
		CreatedFlowSteps: []domain.FlowStep{
			{ID: stepID, BranchID: branch.ID, NodeID: nodeID, FlowID: flowID, FlowIndex: 2},
		},
	}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !c.Empty() {
		t.Fatalf("expected kept flow step to be exempt from conflict, got %+v", c)
	}
}

func TestDetectDeletedEditedIO(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDetector(st)

	rootID := uuid.New()
	ioID := uuid.New()

	branch := newBranch(rootID)
	branch.EditedDescriptionIos = domain.NewOptSet(ioID)
	staging := &Staging{Branch: branch}

	c, err := d.Detect(ctx, staging)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.DeletedEditedIos.Len() != 1 || !c.DeletedEditedIos.Contains(ioID) {
		t.Fatalf("expected deleted_edited_ios conflict on %v, got %+v", ioID, c.DeletedEditedIos.Items())
	}
}

var _ store.Store = (*memory.Store)(nil)
