package branch

import (
	"context"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/errs"
	"github.com/arborist/branchmerge/store"
)

// Materializer records a client's edits onto a Branch row, the Go analogue
// of nodecosmos's Branch::update: load the branch, fold the op into its
// delta fields, write it back. Unlike nodecosmos's per-column update, our
// store interface has
// no partial-row update, so every call here is a full read-modify-write
// rather than a single-field push; callers needing to record many ops
// against the same branch in one request should use MaterializeAll to pay
// that round trip once.
type Materializer struct {
	store store.BranchStore
}

func NewMaterializer(s store.BranchStore) *Materializer {
	return &Materializer{store: s}
}

// Materialize loads branchID, applies op, and writes the result back.
func (m *Materializer) Materialize(ctx context.Context, branchID uuid.UUID, op Op) error {
	return m.MaterializeAll(ctx, branchID, op)
}

// MaterializeAll applies every op to branchID in order within a single
// read-modify-write.
func (m *Materializer) MaterializeAll(ctx context.Context, branchID uuid.UUID, ops ...Op) error {
	b, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to load branch %s to record edit", branchID)
	}
	for _, op := range ops {
		b = op.apply(b)
	}
	if err := m.store.PutBranch(ctx, b); err != nil {
		return errs.Wrap(errs.DatastoreError, err, "failed to persist branch %s after recording edit", branchID)
	}
	return nil
}
