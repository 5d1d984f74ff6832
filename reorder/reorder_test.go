package reorder

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
	"github.com/arborist/branchmerge/store/memory"
)

func seedTree(t *testing.T, st *memory.Store, branchID uuid.UUID) (root, a, b, child domain.Node) {
	t.Helper()
	ctx := context.Background()
	rootID := uuid.New()
	root = domain.Node{ID: rootID, BranchID: branchID, RootID: rootID, IsRoot: true, Title: "root"}
	a = domain.Node{ID: uuid.New(), BranchID: branchID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "a", OrderIndex: 0}
	b = domain.Node{ID: uuid.New(), BranchID: branchID, RootID: rootID, ParentID: rootID, AncestorIDs: []uuid.UUID{rootID}, Title: "b", OrderIndex: 1}
	child = domain.Node{ID: uuid.New(), BranchID: branchID, RootID: rootID, ParentID: a.ID, AncestorIDs: []uuid.UUID{rootID, a.ID}, Title: "child"}

	for _, n := range []domain.Node{root, a, b, child} {
		if err := st.PutNode(ctx, n); err != nil {
			t.Fatalf("seed node %s: %v", n.ID, err)
		}
	}
	if err := st.PutDescendant(ctx, domain.NodeDescendant{RootID: rootID, BranchID: branchID, NodeID: rootID, ID: a.ID, ParentID: rootID, OrderIndex: 0}); err != nil {
		t.Fatalf("seed descendant a: %v", err)
	}
	if err := st.PutDescendant(ctx, domain.NodeDescendant{RootID: rootID, BranchID: branchID, NodeID: rootID, ID: b.ID, ParentID: rootID, OrderIndex: 1}); err != nil {
		t.Fatalf("seed descendant b: %v", err)
	}
	if err := st.PutDescendant(ctx, domain.NodeDescendant{RootID: rootID, BranchID: branchID, NodeID: a.ID, ID: child.ID, ParentID: a.ID}); err != nil {
		t.Fatalf("seed descendant child under a: %v", err)
	}
	return root, a, b, child
}

// TestReorderMovesNodeUnderNewParent moves "a" (with its child "child")
// under "b" and checks the node's own fields, its child's ancestor path, and
// both the old and new descendant projections end up consistent.
func TestReorderMovesNodeUnderNewParent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	root, a, b, child := seedTree(t, st, branchID)

	engine := New(st, nil)
	err := engine.Reorder(ctx, domain.ReorderEvent{
		ID:          a.ID,
		BranchID:    branchID,
		OldParentID: root.ID,
		NewParentID: b.ID,
	})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	moved, err := st.GetNode(ctx, store.NodeKey{BranchID: branchID, ID: a.ID})
	if err != nil {
		t.Fatalf("GetNode a: %v", err)
	}
	if moved.ParentID != b.ID {
		t.Fatalf("a.ParentID = %s, want %s", moved.ParentID, b.ID)
	}

	movedChild, err := st.GetNode(ctx, store.NodeKey{BranchID: branchID, ID: child.ID})
	if err != nil {
		t.Fatalf("GetNode child: %v", err)
	}
	wantAncestors := []uuid.UUID{root.ID, b.ID, a.ID}
	if !uuidSlicesEqualIgnoreOrder(movedChild.AncestorIDs, wantAncestors) {
		t.Fatalf("child.AncestorIDs = %v, want %v (order-insensitive)", movedChild.AncestorIDs, wantAncestors)
	}

	descUnderB, err := st.ListDescendants(ctx, root.ID, branchID, b.ID)
	if err != nil {
		t.Fatalf("ListDescendants under b: %v", err)
	}
	if !containsDescendant(descUnderB, a.ID) {
		t.Fatal("expected a to appear as a descendant of b after the move")
	}

	descUnderRoot, err := st.ListDescendants(ctx, root.ID, branchID, root.ID)
	if err != nil {
		t.Fatalf("ListDescendants under root: %v", err)
	}
	// root is still an ancestor of a after the move, so a stays in root's
	// partition with its parent updated to b.
	foundUnderRoot := false
	for _, d := range descUnderRoot {
		if d.ID == a.ID {
			foundUnderRoot = true
			if d.ParentID != b.ID {
				t.Fatalf("a's row under root has ParentID %s, want %s", d.ParentID, b.ID)
			}
		}
	}
	if !foundUnderRoot {
		t.Fatal("expected a to remain a descendant row of root after moving under b")
	}
}

// TestReorderRejectsCycle refuses to move a node underneath its own child.
func TestReorderRejectsCycle(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	root, a, _, child := seedTree(t, st, branchID)

	engine := New(st, nil)
	err := engine.Reorder(ctx, domain.ReorderEvent{
		ID:          a.ID,
		BranchID:    branchID,
		OldParentID: root.ID,
		NewParentID: child.ID,
	})
	if err == nil {
		t.Fatal("expected Reorder to reject a move that creates a cycle")
	}
}

// TestReorderSkipsNoop treats a move back to the same parent with the same
// resolved order index as a non-fatal skip.
func TestReorderSkipsNoop(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	branchID := uuid.New()
	root, a, _, _ := seedTree(t, st, branchID)

	idx := a.OrderIndex
	engine := New(st, nil)
	err := engine.Reorder(ctx, domain.ReorderEvent{
		ID:            a.ID,
		BranchID:      branchID,
		OldParentID:   root.ID,
		NewParentID:   root.ID,
		NewOrderIndex: &idx,
	})
	if err == nil {
		t.Fatal("expected Reorder to report the no-op move")
	}
}

func uuidSlicesEqualIgnoreOrder(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]int, len(a))
	for _, id := range a {
		set[id]++
	}
	for _, id := range b {
		set[id]--
	}
	for _, n := range set {
		if n != 0 {
			return false
		}
	}
	return true
}

func containsDescendant(ds []domain.NodeDescendant, id uuid.UUID) bool {
	for _, d := range ds {
		if d.ID == id {
			return true
		}
	}
	return false
}
