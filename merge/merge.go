// Package merge drives the 27-step saga that folds a branch's staged writes
// back into the original tree. ScyllaDB gives us no cross-partition
// transaction, so every step writes directly and, on failure partway
// through, the orchestrator unwinds everything already applied by running
// each completed step's paired undo in reverse order — the same SAGA shape
// nodecosmos uses for its own branch merges.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/conflict"
	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/internal/emit"
	"github.com/arborist/branchmerge/internal/errs"
	"github.com/arborist/branchmerge/internal/metrics"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/recovery"
	"github.com/arborist/branchmerge/store"
)

// Reorderer applies and reverts a single node move. It lives outside this
// package so merge doesn't import the reorder engine directly: reorder in
// turn depends on recovery and locker, and merge already depends on both, so
// a direct import either way would risk a cycle as the two packages grow.
type Reorderer interface {
	// Reorder moves ev.ID from its old position to its new one.
	Reorder(ctx context.Context, ev domain.ReorderEvent) error
	// RestorePosition puts nodeID (scoped to branchID) back under parentID
	// at orderIndex directly, bypassing sibling resolution. Used only to
	// unwind a Reorder that must be undone.
	RestorePosition(ctx context.Context, nodeID, branchID, parentID uuid.UUID, orderIndex float64) error
}

// Merger resolves a description edit that exists on both the
// original tree and the branch into a single merged value. Description
// merging is a CRDT operation this engine does not implement itself — the
// caller injects whatever CRDT library it uses for rich text.
type Merger func(original, branched []byte) ([]byte, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithReorderer(r Reorderer) Option      { return func(o *Orchestrator) { o.reorderer = r } }
func WithMerger(m Merger) Option            { return func(o *Orchestrator) { o.merger = m } }
func WithEmitter(e emit.Emitter) Option     { return func(o *Orchestrator) { o.emitter = e } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithDiskFallback(d *recovery.DiskFallback) Option {
	return func(o *Orchestrator) { o.diskFallback = d }
}

// lockTTL bounds how long a single merge saga may hold its tree-root lock
// before a stuck merge is assumed dead and eligible for the recovery sweep.
const lockTTL = time.Hour

// noopMerger is used when the caller has no CRDT library wired in: it returns
// the branch's value when that is non-empty, otherwise the original. Good enough for
// tests; production callers should always supply WithMerger.
func noopMerger(original, branched []byte) ([]byte, error) {
	if len(branched) > 0 {
		return branched, nil
	}
	return original, nil
}

// Orchestrator runs the merge saga for a single branch at a time. It is safe
// for concurrent use across different branches; callers are expected to
// serialize merges of the same branch through locker.
type Orchestrator struct {
	store       store.Store
	detector    *conflict.Detector
	recoveryLog *recovery.Log
	locker      *locker.Locker
	reorderer   Reorderer
	merger      Merger

	emitter      emit.Emitter
	metrics      *metrics.Metrics
	diskFallback *recovery.DiskFallback
}

// New builds an Orchestrator. l may be nil if the caller handles locking
// around Merge itself.
func New(s store.Store, l *locker.Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		detector:    conflict.NewDetector(s),
		recoveryLog: recovery.NewLog(s),
		locker:      l,
		merger:      noopMerger,
		emitter:     emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runState carries the branch, the staging it was derived from, and the
// last completed step. Every apply/undo function recomputes exactly what it
// needs to touch from staging and branch directly rather than threading a
// separate per-step payload through: staging.RestoredNodes etc. already hold
// the full rows a step will write or has written, and branch.ReorderedNodes
// / TitleChangeByObject already carry what a move or a title edit needs to
// reverse.
type runState struct {
	staging *Staging
	branch  *domain.Branch
	step    Step
}

// snapshot is the JSON-serializable recovery checkpoint: the entire branch
// (so title/description audit fields survive a crash) plus the last step
// completed. Staging itself is not serialized — it is cheap to re-derive
// from the branch's delta fields and the store on resume, since nothing else
// touches those rows while a branch is locked for merge.
type snapshot struct {
	Branch domain.Branch `json:"branch"`
	Step   Step          `json:"step"`
}

// Merge runs the full saga against branchID: load the branch, refuse if it
// already carries an unresolved conflict, detect conflicts fresh against the
// current tree, and if still clear, apply every step in order. A mid-saga
// failure triggers an in-process unwind; if the unwind itself fails, the run
// state is written to local disk as a last resort for later recovery.
func (o *Orchestrator) Merge(ctx context.Context, branchID uuid.UUID) (*domain.Branch, error) {
	branch, err := o.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, errs.Wrap(errs.DatastoreError, err, "failed to load branch %s", branchID)
	}

	lockKey := branch.RootID.String()
	if o.locker != nil {
		// Merge and reorder are bilaterally exclusive on a root: a move
		// mid-flight must not have its tree clobbered by a concurrent merge,
		// and vice versa, so both actions are locked together here rather
		// than just ActionMerge.
		if err := o.locker.ValidateResourceActionUnlocked(ctx, locker.ActionMerge, lockKey, branchID.String(), true); err != nil {
			return nil, errs.Wrap(errs.LockerError, err, "tree root %s locked for merge", branch.RootID)
		}
		if err := o.locker.ValidateResourceActionUnlocked(ctx, locker.ActionReorder, lockKey, branchID.String(), true); err != nil {
			return nil, errs.Wrap(errs.LockerError, err, "tree root %s locked for reorder", branch.RootID)
		}
		lockedActions := []locker.Action{locker.ActionMerge, locker.ActionReorder}
		if err := o.locker.LockResourceActions(ctx, lockKey, branchID.String(), lockedActions, lockTTL); err != nil {
			return nil, errs.Wrap(errs.LockerError, err, "failed to lock tree root %s for merge", branch.RootID)
		}
		defer func() { _ = o.locker.UnlockResourceActions(ctx, lockKey, branchID.String(), lockedActions) }()
	}

	if branch.Blocked() {
		return nil, errs.New(errs.Conflict, "branch %s has unresolved conflicts", branchID)
	}

	staging, err := loadStaging(ctx, o.store, &branch)
	if err != nil {
		return nil, errs.Wrap(errs.DatastoreError, err, "failed to load staging for branch %s", branchID)
	}

	conflictResult, err := o.detector.Detect(ctx, toConflictStaging(staging))
	if err != nil {
		return nil, errs.Wrap(errs.DatastoreError, err, "failed to detect conflicts for branch %s", branchID)
	}
	if !conflictResult.Empty() {
		branch.Conflict = conflictResult
		if err := o.store.PutBranch(ctx, branch); err != nil {
			return nil, errs.Wrap(errs.DatastoreError, err, "failed to persist detected conflict for branch %s", branchID)
		}
		return nil, errs.New(errs.Conflict, "branch %s has new conflicts", branchID)
	}

	rs := &runState{staging: staging, branch: &branch, step: StepStart}

	if err := o.recoveryLog.Create(ctx, branchID, domain.RecoveryMerge, branchID, o.snapshotOf(rs)); err != nil {
		o.fallbackToDisk(rs)
	}

	mergeErr := o.runForward(ctx, rs)
	if mergeErr == nil {
		branch.Status = domain.BranchMerged
		if err := o.store.PutBranch(ctx, branch); err != nil {
			return nil, errs.Wrap(errs.DatastoreError, err, "failed to persist merged branch %s", branchID)
		}
		_ = o.recoveryLog.Delete(ctx, branchID, domain.RecoveryMerge, branchID)
		o.emitter.Emit(emit.Event{BranchID: branchID.String(), Msg: "merge_completed"})
		return &branch, nil
	}

	o.emitter.Emit(emit.Event{BranchID: branchID.String(), Msg: "merge_failed", Meta: map[string]interface{}{"error": mergeErr.Error()}})

	if undoErr := o.runReverse(ctx, rs); undoErr != nil {
		branch.Status = domain.BranchRecoveryFailed
		_ = o.store.PutBranch(ctx, branch)
		o.fallbackToDisk(rs)
		return nil, errs.Wrap(errs.FatalMergeError, mergeErr, "merge failed and recovery also failed: %v", undoErr)
	}

	branch.Status = domain.BranchRecovered
	_ = o.store.PutBranch(ctx, branch)
	_ = o.recoveryLog.Delete(ctx, branchID, domain.RecoveryMerge, branchID)
	o.emitter.Emit(emit.Event{BranchID: branchID.String(), Msg: "merge_recovered"})
	return nil, errs.Wrap(errs.Conflict, mergeErr, "merge failed, branch %s restored to its pre-merge state", branchID)
}

func (o *Orchestrator) runForward(ctx context.Context, rs *runState) error {
	for step := StepRestoreNodes; step < StepFinish; step++ {
		start := time.Now()
		err := applyStep(ctx, o, rs, step)
		o.recordLatency("merge", start, err)
		if err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
		rs.step = step
		if advErr := o.recoveryLog.Advance(ctx, rs.branch.ID, domain.RecoveryMerge, rs.branch.ID, uint8(step), o.snapshotOf(rs)); advErr != nil {
			o.fallbackToDisk(rs)
		}
	}
	return nil
}

// runReverse undoes every step up to and including rs.step, in reverse
// order.
func (o *Orchestrator) runReverse(ctx context.Context, rs *runState) error {
	for step := rs.step; step >= StepRestoreNodes; step-- {
		start := time.Now()
		err := undoStep(ctx, o, rs, step)
		o.recordLatency("recover", start, err)
		if err != nil {
			return fmt.Errorf("undo step %s: %w", step, err)
		}
		if step == StepRestoreNodes {
			break
		}
	}
	return nil
}

func (o *Orchestrator) recordLatency(saga string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordSagaStepLatency(saga, time.Since(start), status)
}

func (o *Orchestrator) snapshotOf(rs *runState) snapshot {
	return snapshot{Branch: *rs.branch, Step: rs.step}
}

func (o *Orchestrator) fallbackToDisk(rs *runState) {
	if o.diskFallback == nil {
		return
	}
	data, err := json.Marshal(o.snapshotOf(rs))
	if err != nil {
		return
	}
	entry := domain.RecoveryLogEntry{
		BranchID:   rs.branch.ID,
		ObjectType: domain.RecoveryMerge,
		ID:         rs.branch.ID,
		Step:       uint8(rs.step),
		Data:       data,
		UpdatedAt:  time.Now(),
	}
	_ = o.diskFallback.Write(entry)
}

// RecoverFromLog implements recovery.Recoverer: it decodes the branch
// snapshot captured at the last completed step, re-derives staging from it,
// and unwinds the saga in reverse from that step.
func (o *Orchestrator) RecoverFromLog(ctx context.Context, entry domain.RecoveryLogEntry) error {
	var snap snapshot
	if err := json.Unmarshal(entry.Data, &snap); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to decode recovery snapshot for branch %s", entry.BranchID)
	}

	branch := snap.Branch
	staging, err := loadStaging(ctx, o.store, &branch)
	if err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to rebuild staging for branch %s during recovery", entry.BranchID)
	}

	rs := &runState{staging: staging, branch: &branch, step: snap.Step}
	if undoErr := o.runReverse(ctx, rs); undoErr != nil {
		branch.Status = domain.BranchRecoveryFailed
		_ = o.store.PutBranch(ctx, branch)
		return errs.Wrap(errs.FatalMergeError, undoErr, "recovery failed for branch %s", entry.BranchID)
	}

	branch.Status = domain.BranchRecovered
	if err := o.store.PutBranch(ctx, branch); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to persist recovered branch %s", entry.BranchID)
	}
	return o.recoveryLog.Delete(ctx, entry.BranchID, domain.RecoveryMerge, entry.BranchID)
}

var _ recovery.Recoverer = (*Orchestrator)(nil)
