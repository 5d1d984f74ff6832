// Package reorder moves a single node to a new parent/position, keeping the
// node's own ancestor path and the denormalized NodeDescendant projection of
// every ancestor it gains or loses in sync with the move.
package reorder

import (
	"context"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// reorderData is everything a single move needs resolved up front: the node,
// its new parent, both candidate siblings, the old and new ancestor sets
// (and their diff), and the node's own descendants (whose ancestor paths
// move along with it when the parent actually changes).
type reorderData struct {
	node     domain.Node
	branchID uuid.UUID

	descendants []domain.NodeDescendant

	oldParentID uuid.UUID
	newParent   domain.Node

	oldAncestorIDs []uuid.UUID
	newAncestorIDs []uuid.UUID

	removedAncestorIDs []uuid.UUID
	addedAncestorIDs   []uuid.UUID

	newUpperSibling *domain.Node
	newLowerSibling *domain.Node

	oldOrderIndex float64
	newOrderIndex float64
}

func (d *reorderData) parentChanged() bool {
	return d.oldParentID != d.newParent.ID
}

// loadReorderData resolves ev against st into a reorderData, following the
// same shape nodecosmos's ReorderData::from_params builds: load the node,
// its descendants, the new parent, both candidate siblings, then derive the
// ancestor diff and order index from what was loaded.
func loadReorderData(ctx context.Context, st store.Store, ev domain.ReorderEvent) (*reorderData, error) {
	node, err := st.GetNode(ctx, store.NodeKey{BranchID: ev.BranchID, ID: ev.ID})
	if err != nil {
		return nil, err
	}

	newParent, err := st.GetNode(ctx, store.NodeKey{BranchID: ev.BranchID, ID: ev.NewParentID})
	if err != nil {
		return nil, err
	}

	descendants, err := st.ListDescendants(ctx, node.RootID, ev.BranchID, node.ID)
	if err != nil {
		return nil, err
	}

	oldAncestorIDs := node.AncestorIDs
	newAncestorIDs := append(append([]uuid.UUID{}, newParent.AncestorIDs...), newParent.ID)

	removed := diffUUIDs(oldAncestorIDs, newAncestorIDs)
	added := diffUUIDs(newAncestorIDs, oldAncestorIDs)

	var upper, lower *domain.Node
	if ev.NewUpperSiblingID != uuid.Nil {
		n, err := st.GetNode(ctx, store.NodeKey{BranchID: ev.BranchID, ID: ev.NewUpperSiblingID})
		if err != nil {
			return nil, err
		}
		upper = &n
	}
	if ev.NewLowerSiblingID != uuid.Nil {
		n, err := st.GetNode(ctx, store.NodeKey{BranchID: ev.BranchID, ID: ev.NewLowerSiblingID})
		if err != nil {
			return nil, err
		}
		lower = &n
	}

	newOrderIndex := buildNewOrderIndex(upper, lower)
	if ev.NewOrderIndex != nil {
		newOrderIndex = *ev.NewOrderIndex
	}

	return &reorderData{
		node:               node,
		branchID:           ev.BranchID,
		descendants:        descendants,
		oldParentID:        node.ParentID,
		newParent:          newParent,
		oldAncestorIDs:     oldAncestorIDs,
		newAncestorIDs:     newAncestorIDs,
		removedAncestorIDs: removed,
		addedAncestorIDs:   added,
		newUpperSibling:    upper,
		newLowerSibling:    lower,
		oldOrderIndex:      node.OrderIndex,
		newOrderIndex:      newOrderIndex,
	}, nil
}

// buildNewOrderIndex places the node between its new siblings: the average
// of both order indices when both exist, one unit past whichever single
// sibling exists, or 0 when the node becomes its new parent's only child.
func buildNewOrderIndex(upper, lower *domain.Node) float64 {
	switch {
	case upper == nil && lower == nil:
		return 0
	case upper == nil:
		return lower.OrderIndex - 1
	case lower == nil:
		return upper.OrderIndex + 1
	default:
		return (upper.OrderIndex + lower.OrderIndex) / 2
	}
}

// diffUUIDs returns the members of a not present in b.
func diffUUIDs(a, b []uuid.UUID) []uuid.UUID {
	present := make(map[uuid.UUID]struct{}, len(b))
	for _, id := range b {
		present[id] = struct{}{}
	}
	var out []uuid.UUID
	for _, id := range a {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
