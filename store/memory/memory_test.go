package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

func TestNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	n := domain.Node{ID: uuid.New(), BranchID: uuid.New()}
	if err := s.PutNode(ctx, n); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	got, err := s.GetNode(ctx, store.NodeKey{BranchID: n.BranchID, ID: n.ID})
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.ID != n.ID {
		t.Fatalf("expected id %v, got %v", n.ID, got.ID)
	}

	if err := s.DeleteNode(ctx, store.NodeKey{BranchID: n.BranchID, ID: n.ID}); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := s.GetNode(ctx, store.NodeKey{BranchID: n.BranchID, ID: n.ID}); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListDescendantsOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()

	root, branch, ancestor := uuid.New(), uuid.New(), uuid.New()
	d1 := domain.NodeDescendant{RootID: root, BranchID: branch, NodeID: ancestor, ID: uuid.New(), OrderIndex: 2}
	d2 := domain.NodeDescendant{RootID: root, BranchID: branch, NodeID: ancestor, ID: uuid.New(), OrderIndex: 1}

	if err := s.PutDescendant(ctx, d1); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDescendant(ctx, d2); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListDescendants(ctx, root, branch, ancestor)
	if err != nil {
		t.Fatalf("ListDescendants: %v", err)
	}
	if len(list) != 2 || list[0].OrderIndex != 1 || list[1].OrderIndex != 2 {
		t.Fatalf("expected ordered list by OrderIndex, got %+v", list)
	}
}

func TestBranchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := domain.Branch{ID: uuid.New(), RootID: uuid.New()}
	if err := s.PutBranch(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBranch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RootID != b.RootID {
		t.Fatalf("expected root id %v, got %v", b.RootID, got.RootID)
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	nodeID, branchID := uuid.New(), uuid.New()
	w := domain.Workflow{NodeID: nodeID, BranchID: branchID, InitialInputIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	if err := s.PutWorkflow(ctx, w); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, nodeID, branchID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if len(got.InitialInputIDs) != 2 {
		t.Fatalf("expected 2 initial input ids, got %+v", got.InitialInputIDs)
	}

	if _, err := s.GetWorkflow(ctx, uuid.New(), branchID); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown workflow, got %v", err)
	}
}

func TestStaleRecoveryEntries(t *testing.T) {
	ctx := context.Background()
	s := New()

	branchID, id := uuid.New(), uuid.New()
	e := domain.RecoveryLogEntry{BranchID: branchID, ObjectType: domain.RecoveryMerge, ID: id, Step: 3}
	if err := s.CreateRecoveryEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	stale, err := s.StaleRecoveryEntries(ctx, 1<<62)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Fatalf("expected one stale entry, got %+v", stale)
	}

	if err := s.DeleteRecoveryEntry(ctx, branchID, domain.RecoveryMerge, id); err != nil {
		t.Fatal(err)
	}
	stale, err = s.StaleRecoveryEntries(ctx, 1<<62)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale entries after delete, got %+v", stale)
	}
}
