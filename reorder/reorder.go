package reorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/internal/errs"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/recovery"
	"github.com/arborist/branchmerge/store"
)

// lockTTL bounds how long a single move may hold its tree-root lock before
// a stuck reorder is assumed dead and eligible for the recovery sweep.
const lockTTL = time.Hour

// Engine runs a single node move: validate, lock the tree root, write the
// node's own order fields and every NodeDescendant row the move touches, in
// that order. Every write here is an idempotent upsert or delete, so a
// recovery replay of the same snapshot is always safe to re-run from
// scratch rather than needing a resume point mid-sequence.
type Engine struct {
	store       store.Store
	locker      *locker.Locker
	recoveryLog *recovery.Log
}

func New(s store.Store, l *locker.Locker) *Engine {
	return &Engine{store: s, locker: l, recoveryLog: recovery.NewLog(s)}
}

// snapshot is the recovery-log payload: just enough of the original event to
// rebuild reorderData and redrive the move from scratch.
type snapshot struct {
	Event domain.ReorderEvent `json:"event"`
}

// Reorder moves ev.ID to its new parent/position. Validation runs before any
// lock is taken; if it fails with ReorderSkipped the move is a no-op, not an
// error the caller needs to unwind anything for.
func (e *Engine) Reorder(ctx context.Context, ev domain.ReorderEvent) error {
	data, err := loadReorderData(ctx, e.store, ev)
	if err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to load reorder data for node %s", ev.ID)
	}
	if err := data.validate(); err != nil {
		return err
	}

	rootID := data.node.RootID
	lockKey := rootID.String()
	if e.locker != nil {
		if err := e.locker.ValidateResourceActionUnlocked(ctx, locker.ActionReorder, lockKey, ev.BranchID.String(), true); err != nil {
			return errs.Wrap(errs.LockerError, err, "tree root %s locked for reorder", rootID)
		}
		if err := e.locker.LockResourceActions(ctx, lockKey, ev.BranchID.String(), []locker.Action{locker.ActionReorder}, lockTTL); err != nil {
			return errs.Wrap(errs.LockerError, err, "failed to lock tree root %s for reorder", rootID)
		}
		defer func() { _ = e.locker.UnlockResourceActions(ctx, lockKey, ev.BranchID.String(), []locker.Action{locker.ActionReorder}) }()
	}

	if err := e.recoveryLog.Create(ctx, ev.BranchID, domain.RecoveryReorder, ev.ID, snapshot{Event: ev}); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to write recovery entry for reorder of node %s", ev.ID)
	}

	if err := e.execute(ctx, data); err != nil {
		return errs.Wrap(errs.FatalReorderError, err, "reorder failed for node %s", ev.ID)
	}

	return e.recoveryLog.Delete(ctx, ev.BranchID, domain.RecoveryReorder, ev.ID)
}

// RestorePosition undoes a Reorder directly: it writes parentID/orderIndex
// onto the node without touching ancestor paths or descendant projections.
// It is only ever called by the merge orchestrator's undo path for a move it
// just made moments earlier in the same saga run, so the ancestor/descendant
// state it would otherwise need to restore is still exactly what it was
// before that Reorder call ran.
func (e *Engine) RestorePosition(ctx context.Context, nodeID, branchID, parentID uuid.UUID, orderIndex float64) error {
	node, err := e.store.GetNode(ctx, store.NodeKey{BranchID: branchID, ID: nodeID})
	if err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to load node %s to restore its position", nodeID)
	}
	node.ParentID = parentID
	node.OrderIndex = orderIndex
	if err := e.store.PutNode(ctx, node); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to restore position of node %s", nodeID)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, d *reorderData) error {
	node := d.node
	node.ParentID = d.newParent.ID
	node.OrderIndex = d.newOrderIndex
	if err := e.store.PutNode(ctx, node); err != nil {
		return err
	}

	for _, ancestorID := range d.oldAncestorIDs {
		if err := e.store.DeleteDescendant(ctx, node.RootID, d.branchID, ancestorID, node.ID); err != nil {
			return err
		}
	}

	for _, ancestorID := range d.newAncestorIDs {
		if err := e.store.PutDescendant(ctx, domain.NodeDescendant{
			RootID: node.RootID, BranchID: d.branchID, NodeID: ancestorID,
			ID: node.ID, ParentID: node.ParentID, Title: node.Title, OrderIndex: node.OrderIndex,
		}); err != nil {
			return err
		}
	}

	if !d.parentChanged() {
		return nil
	}

	node.AncestorIDs = spliceAncestors(node.AncestorIDs, d.removedAncestorIDs, d.addedAncestorIDs)
	if err := e.store.PutNode(ctx, node); err != nil {
		return err
	}

	for _, desc := range d.descendants {
		descNode, err := e.store.GetNode(ctx, store.NodeKey{BranchID: d.branchID, ID: desc.ID})
		if err != nil {
			return err
		}
		descNode.AncestorIDs = spliceAncestors(descNode.AncestorIDs, d.removedAncestorIDs, d.addedAncestorIDs)
		if err := e.store.PutNode(ctx, descNode); err != nil {
			return err
		}

		for _, ancestorID := range d.removedAncestorIDs {
			if err := e.store.DeleteDescendant(ctx, node.RootID, d.branchID, ancestorID, desc.ID); err != nil {
				return err
			}
		}
		for _, ancestorID := range d.addedAncestorIDs {
			if err := e.store.PutDescendant(ctx, domain.NodeDescendant{
				RootID: node.RootID, BranchID: d.branchID, NodeID: ancestorID,
				ID: desc.ID, ParentID: desc.ParentID, Title: desc.Title, OrderIndex: desc.OrderIndex,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// spliceAncestors removes every id in removed and appends every id in added,
// skipping ids already present, preserving the existing order for ids that
// were not touched by this move.
func spliceAncestors(ancestors, removed, added []uuid.UUID) []uuid.UUID {
	drop := make(map[uuid.UUID]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(ancestors)+len(added))
	seen := make(map[uuid.UUID]struct{}, len(ancestors)+len(added))
	for _, id := range ancestors {
		if _, skip := drop[id]; skip {
			continue
		}
		out = append(out, id)
		seen[id] = struct{}{}
	}
	for _, id := range added {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, id)
		seen[id] = struct{}{}
	}
	return out
}

// RecoverFromLog implements recovery.Recoverer: it decodes the original
// event and redrives Reorder from scratch. Every write Reorder performs is
// an idempotent upsert or delete, so replaying the whole sequence again is
// always safe even if the prior attempt partially completed.
func (e *Engine) RecoverFromLog(ctx context.Context, entry domain.RecoveryLogEntry) error {
	var snap snapshot
	if err := json.Unmarshal(entry.Data, &snap); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to decode reorder recovery snapshot for node %s", entry.ID)
	}
	return e.Reorder(ctx, snap.Event)
}

var _ recovery.Recoverer = (*Engine)(nil)
