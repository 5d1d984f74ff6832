// Package recovery implements the durable checkpoint log that every saga
// (node delete, reorder, merge) writes to before mutating state it cannot
// roll back atomically. Before performing a step with no wide-column
// transaction to protect it, a saga serializes its working state into a
// RecoveryLogEntry; after each successful step it advances the entry's step
// number. If the process dies mid-saga, a background Sweeper finds entries
// that stopped advancing and hands them to the matching Recoverer to finish
// or unwind.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/internal/emit"
	"github.com/arborist/branchmerge/internal/errs"
	"github.com/arborist/branchmerge/internal/metrics"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/store"
)

// Recoverer resumes a saga from its serialized recovery data. Implementations
// live in the package that owns the saga (merge.Orchestrator, reorder.Engine,
// a future node-delete saga) so recovery stays next to the forward logic it
// mirrors.
type Recoverer interface {
	// RecoverFromLog deserializes data and drives the saga to completion
	// (or a clean undo) from the recorded step onward.
	RecoverFromLog(ctx context.Context, entry domain.RecoveryLogEntry) error
}

// Log wraps a store.RecoveryStore with the serialize/create/advance/delete
// calls a saga makes around each step.
type Log struct {
	store store.RecoveryStore
}

func NewLog(s store.RecoveryStore) *Log { return &Log{store: s} }

// Create serializes state and writes the first recovery log entry for a
// saga about to begin its unsafe sequence of writes.
func (l *Log) Create(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "failed to serialize recovery state")
	}
	entry := domain.RecoveryLogEntry{
		BranchID: branchID, ObjectType: objectType, ID: id,
		Step: 0, Data: data, UpdatedAt: time.Now(),
	}
	if err := l.store.CreateRecoveryEntry(ctx, entry); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to create recovery log entry")
	}
	return nil
}

// Advance re-serializes state and records step as the last step completed.
func (l *Log) Advance(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID, step uint8, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "failed to serialize recovery state")
	}
	if err := l.store.UpdateRecoveryStep(ctx, branchID, objectType, id, step, data); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to advance recovery log entry")
	}
	return nil
}

// Delete removes the entry once the saga has completed (forward or undone)
// cleanly.
func (l *Log) Delete(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) error {
	if err := l.store.DeleteRecoveryEntry(ctx, branchID, objectType, id); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to delete recovery log entry")
	}
	return nil
}

// Sweeper periodically scans for recovery entries that stopped advancing and
// re-drives them through their registered Recoverer.
type Sweeper struct {
	store      store.RecoveryStore
	locker     *locker.Locker
	emitter    emit.Emitter
	metrics    *metrics.Metrics
	staleAfter time.Duration
	recoverers map[domain.RecoveryObjectType]Recoverer
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithStaleAfter sets how long an entry may go without an update before the
// sweeper considers it abandoned. Default 1 minute, matching the grace
// period a saga's own process is given to recover from a transient failure
// on its own.
func WithStaleAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.staleAfter = d }
}

func WithEmitter(e emit.Emitter) SweeperOption {
	return func(s *Sweeper) { s.emitter = e }
}

func WithMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper builds a Sweeper. Register Recoverers with Register before
// calling Run or RunOnce.
func NewSweeper(s store.RecoveryStore, l *locker.Locker, opts ...SweeperOption) *Sweeper {
	sw := &Sweeper{
		store:      s,
		locker:     l,
		emitter:    emit.NewNullEmitter(),
		staleAfter: time.Minute,
		recoverers: make(map[domain.RecoveryObjectType]Recoverer),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Register associates a RecoveryObjectType with the Recoverer that knows how
// to resume it.
func (s *Sweeper) Register(t domain.RecoveryObjectType, r Recoverer) {
	s.recoverers[t] = r
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass. Each entry's failure is logged and
// does not stop the sweep from continuing to the next entry — this mirrors
// the best-effort guarantee every background sweep makes.
func (s *Sweeper) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter).UnixMilli()
	entries, err := s.store.StaleRecoveryEntries(ctx, cutoff)
	if err != nil {
		s.emitter.Emit(emit.Event{Msg: "recovery_sweep_scan_failed", Meta: map[string]interface{}{"error": err.Error()}})
		if s.metrics != nil {
			s.metrics.IncrementRecoverySweeps("scan_failed")
		}
		return
	}

	for _, entry := range entries {
		s.recoverOne(ctx, entry)
	}
	if s.metrics != nil {
		s.metrics.IncrementRecoverySweeps("ok")
	}
}

func (s *Sweeper) recoverOne(ctx context.Context, entry domain.RecoveryLogEntry) {
	id := entry.ID.String()
	branchID := entry.BranchID.String()

	if err := s.locker.ValidateResourceActionUnlocked(ctx, locker.ActionRecover, id, branchID, false); err != nil {
		if errs.CodeOf(err) == errs.ResourceLocked {
			// another instance is already recovering this entry
			return
		}
		s.emitter.Emit(emit.Event{BranchID: branchID, Object: id, Msg: "recovery_lock_check_failed",
			Meta: map[string]interface{}{"error": err.Error()}})
		return
	}

	if err := s.locker.LockResourceActions(ctx, id, branchID, []locker.Action{locker.ActionRecover}, locker.TTLFiveMinute); err != nil {
		s.emitter.Emit(emit.Event{BranchID: branchID, Object: id, Msg: "recovery_lock_failed",
			Meta: map[string]interface{}{"error": err.Error()}})
		return
	}
	defer func() {
		_ = s.locker.UnlockResourceActions(ctx, id, branchID, []locker.Action{locker.ActionRecover})
	}()

	r, ok := s.recoverers[entry.ObjectType]
	if !ok {
		s.emitter.Emit(emit.Event{BranchID: branchID, Object: id, Msg: "recovery_no_recoverer",
			Meta: map[string]interface{}{"object_type": entry.ObjectType.String()}})
		return
	}

	if err := r.RecoverFromLog(ctx, entry); err != nil {
		s.emitter.Emit(emit.Event{BranchID: branchID, Object: id, Step: int(entry.Step), Msg: "recovery_failed",
			Meta: map[string]interface{}{"error": err.Error(), "object_type": entry.ObjectType.String()}})
		if s.metrics != nil {
			s.metrics.IncrementRecoverySweeps("recover_failed")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementRecoveryResumed()
	}
	s.emitter.Emit(emit.Event{BranchID: branchID, Object: id, Msg: "recovery_resumed",
		Meta: map[string]interface{}{"object_type": entry.ObjectType.String()}})
}

// DiskFallback writes a recovery entry to local disk when the datastore
// itself is unreachable: a last-resort path so a crash mid-saga during a
// datastore outage is still recoverable once the datastore returns, instead
// of being lost along with the in-memory saga state. Not part of the normal
// path — only exercised when CreateRecoveryEntry/Advance against the store
// itself fails, or when a merge's unwind fails.
type DiskFallback struct {
	dir string
}

func NewDiskFallback(dir string) *DiskFallback {
	return &DiskFallback{dir: dir}
}

func (d *DiskFallback) filename(branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s-%d-%s.json", branchID, objectType, id))
}

// Write persists entry to disk.
func (d *DiskFallback) Write(entry domain.RecoveryLogEntry) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to create disk fallback directory")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "failed to serialize disk fallback entry")
	}
	path := d.filename(entry.BranchID, entry.ObjectType, entry.ID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to write disk fallback entry")
	}
	return nil
}

// RecoverFromDisk reads back every entry written by Write so a sweeper can
// replay them into the store once it is reachable again.
func (d *DiskFallback) RecoverFromDisk() ([]domain.RecoveryLogEntry, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*.json"))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to glob disk fallback directory")
	}

	var out []domain.RecoveryLogEntry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "failed to read disk fallback entry %s", path)
		}
		var entry domain.RecoveryLogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "failed to decode disk fallback entry %s", path)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Clear removes a disk fallback entry once it has been successfully written
// back to the store.
func (d *DiskFallback) Clear(branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) error {
	err := os.Remove(d.filename(branchID, objectType, id))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Internal, err, "failed to clear disk fallback entry")
	}
	return nil
}
