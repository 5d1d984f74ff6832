package branch

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store/memory"
)

func TestMaterializeRecordsCreateNode(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	if err := st.PutBranch(ctx, domain.Branch{ID: branchID}); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	m := NewMaterializer(st)
	nodeID := uuid.New()
	if err := m.Materialize(ctx, branchID, CreateNode{ID: nodeID}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	got, err := st.GetBranch(ctx, branchID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if !got.CreatedNodes.Contains(nodeID) {
		t.Fatal("expected CreatedNodes to contain the new node id")
	}
}

func TestMaterializeAllAppliesOpsInOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	if err := st.PutBranch(ctx, domain.Branch{ID: branchID}); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	m := NewMaterializer(st)
	nodeID := uuid.New()
	if err := m.MaterializeAll(ctx, branchID, DeleteNode{ID: nodeID}, RestoreNode{ID: nodeID}); err != nil {
		t.Fatalf("MaterializeAll: %v", err)
	}

	got, err := st.GetBranch(ctx, branchID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got.DeletedNodes.Contains(nodeID) {
		t.Fatal("expected RestoreNode to undo the prior DeleteNode in the same call")
	}
	if !got.RestoredNodes.Contains(nodeID) {
		t.Fatal("expected RestoredNodes to contain the node id")
	}
}

func TestAppendFlowStepInputIsKeyedByFlowStep(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	if err := st.PutBranch(ctx, domain.Branch{ID: branchID}); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	m := NewMaterializer(st)
	flowStepA, flowStepB := uuid.New(), uuid.New()
	nodeID, ioA, ioB := uuid.New(), uuid.New(), uuid.New()

	if err := m.MaterializeAll(ctx, branchID,
		AppendFlowStepInput{FlowStepID: flowStepA, NodeID: nodeID, IOID: ioA},
		AppendFlowStepInput{FlowStepID: flowStepB, NodeID: nodeID, IOID: ioB},
	); err != nil {
		t.Fatalf("MaterializeAll: %v", err)
	}

	got, err := st.GetBranch(ctx, branchID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}

	byNodeA, ok := got.CreatedFlowStepInputsByNode.Get(flowStepA)
	if !ok || !byNodeA[nodeID].Contains(ioA) {
		t.Fatal("expected flow step A's input map to contain ioA for nodeID")
	}
	byNodeB, ok := got.CreatedFlowStepInputsByNode.Get(flowStepB)
	if !ok || !byNodeB[nodeID].Contains(ioB) {
		t.Fatal("expected flow step B's input map to contain ioB for nodeID")
	}
	if byNodeA[nodeID].Contains(ioB) {
		t.Fatal("expected flow step A's input set to stay independent of flow step B's")
	}
}

func TestDeleteNodeClearsCreatedAndRestoredSets(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	if err := st.PutBranch(ctx, domain.Branch{ID: branchID}); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	m := NewMaterializer(st)
	createdThenDeleted := uuid.New()
	restoredThenDeleted := uuid.New()

	if err := m.MaterializeAll(ctx, branchID,
		CreateNode{ID: createdThenDeleted},
		RestoreNode{ID: restoredThenDeleted},
		DeleteNode{ID: createdThenDeleted},
		DeleteNode{ID: restoredThenDeleted},
	); err != nil {
		t.Fatalf("MaterializeAll: %v", err)
	}

	got, err := st.GetBranch(ctx, branchID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got.CreatedNodes.Contains(createdThenDeleted) {
		t.Fatal("expected DeleteNode to pull a created-then-deleted node out of CreatedNodes")
	}
	if got.RestoredNodes.Contains(restoredThenDeleted) {
		t.Fatal("expected DeleteNode to pull a restored-then-deleted node out of RestoredNodes")
	}
	if !got.DeletedNodes.Contains(createdThenDeleted) || !got.DeletedNodes.Contains(restoredThenDeleted) {
		t.Fatal("expected both nodes to end up in DeletedNodes")
	}
}

func TestReorderNodeReplacesPriorMoveButKeepsOriginalPosition(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	if err := st.PutBranch(ctx, domain.Branch{ID: branchID}); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	m := NewMaterializer(st)
	nodeID := uuid.New()
	firstParent, secondParent, thirdParent := uuid.New(), uuid.New(), uuid.New()

	if err := m.Materialize(ctx, branchID, ReorderNode{
		ID: nodeID, OldParentID: firstParent, OldOrderIndex: 1.5, NewParentID: secondParent,
	}); err != nil {
		t.Fatalf("Materialize first move: %v", err)
	}
	if err := m.Materialize(ctx, branchID, ReorderNode{
		ID: nodeID, OldParentID: secondParent, OldOrderIndex: 2.5, NewParentID: thirdParent,
	}); err != nil {
		t.Fatalf("Materialize second move: %v", err)
	}

	got, err := st.GetBranch(ctx, branchID)
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if len(got.ReorderedNodes) != 1 {
		t.Fatalf("ReorderedNodes has %d entries, want 1 (the second move replaces the first)", len(got.ReorderedNodes))
	}
	ev := got.ReorderedNodes[0]
	if ev.OldParentID != firstParent || ev.OldOrderIndex != 1.5 {
		t.Fatalf("old position = (%s, %v), want the node's true pre-branch position (%s, 1.5)", ev.OldParentID, ev.OldOrderIndex, firstParent)
	}
	if ev.NewParentID != thirdParent {
		t.Fatalf("NewParentID = %s, want the latest move's target %s", ev.NewParentID, thirdParent)
	}
	if ev.BranchID != branchID {
		t.Fatalf("BranchID = %s, want %s", ev.BranchID, branchID)
	}
}
