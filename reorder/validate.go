package reorder

import (
	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/errs"
)

// validate rejects a move before any write: into a cycle (the new parent is
// the node itself or one of its own descendants), a no-op (same parent, same
// resolved order index), or a parent that does not exist (loadReorderData
// would already have failed with ErrNotFound, but a nil/zero new parent slips
// through a mock or an empty result some other way).
func (d *reorderData) validate() error {
	if d.newParent.ID == uuid.Nil {
		return errs.New(errs.Validation, "new parent not found")
	}
	if d.newParent.ID == d.node.ID {
		return errs.New(errs.Validation, "node %s cannot become its own parent", d.node.ID)
	}
	for _, id := range d.newAncestorIDs {
		if id == d.node.ID {
			return errs.New(errs.Validation, "move would create a cycle: %s is an ancestor of its new parent", d.node.ID)
		}
	}
	if !d.parentChanged() && d.newOrderIndex == d.oldOrderIndex {
		return errs.New(errs.ReorderSkipped, "node %s is already at its requested position", d.node.ID)
	}
	return nil
}
