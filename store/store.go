// Package store defines the persistence interfaces for the branch merge
// engine. The datastore is assumed to be a wide-column store offering
// per-partition atomicity and linearizable single-row writes but no
// multi-row transactions: every method here is scoped to operate within a
// single partition, and callers that need cross-partition consistency (the
// merge orchestrator, the reorder engine) sequence multiple calls themselves
// and rely on the recovery log to make that sequence resumable.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// NodeKey addresses a single Node row: partitioned by (branch_id, id).
type NodeKey struct {
	BranchID uuid.UUID
	ID       uuid.UUID
}

// NodeStore persists Node rows, partitioned by (branch_id, id).
type NodeStore interface {
	GetNode(ctx context.Context, key NodeKey) (domain.Node, error)
	PutNode(ctx context.Context, n domain.Node) error
	DeleteNode(ctx context.Context, key NodeKey) error
}

// NodeDescendantStore persists the denormalized tree-listing projection,
// partitioned by (root_id, branch_id, node_id) and clustered by
// (order_index, id).
type NodeDescendantStore interface {
	// ListDescendants returns every descendant row in an ancestor's
	// partition, ordered by (order_index, id).
	ListDescendants(ctx context.Context, rootID, branchID, ancestorID uuid.UUID) ([]domain.NodeDescendant, error)
	PutDescendant(ctx context.Context, d domain.NodeDescendant) error
	DeleteDescendant(ctx context.Context, rootID, branchID, ancestorID, descendantID uuid.UUID) error
}

// FlowStore persists Flow rows, partitioned by branch_id and clustered by
// (node_id, vertical_index, start_index, id).
type FlowStore interface {
	GetFlow(ctx context.Context, branchID, id uuid.UUID) (domain.Flow, error)
	ListFlowsByNode(ctx context.Context, branchID, nodeID uuid.UUID) ([]domain.Flow, error)
	PutFlow(ctx context.Context, f domain.Flow) error
	DeleteFlow(ctx context.Context, branchID, id uuid.UUID) error
}

// FlowStepStore persists FlowStep rows, partitioned by (node_id, branch_id)
// and clustered by (flow_id, flow_index, id).
type FlowStepStore interface {
	GetFlowStep(ctx context.Context, nodeID, branchID, id uuid.UUID) (domain.FlowStep, error)
	ListFlowStepsByFlow(ctx context.Context, nodeID, branchID, flowID uuid.UUID) ([]domain.FlowStep, error)
	PutFlowStep(ctx context.Context, fs domain.FlowStep) error
	DeleteFlowStep(ctx context.Context, nodeID, branchID, id uuid.UUID) error
}

// IOStore persists IO rows, partitioned by (root_id, branch_id) and
// clustered by id.
type IOStore interface {
	GetIO(ctx context.Context, rootID, branchID, id uuid.UUID) (domain.IO, error)
	PutIO(ctx context.Context, io domain.IO) error
	DeleteIO(ctx context.Context, rootID, branchID, id uuid.UUID) error
}

// BranchStore persists Branch rows, partitioned by id. It holds every delta
// field and the current conflict, if any.
type BranchStore interface {
	GetBranch(ctx context.Context, id uuid.UUID) (domain.Branch, error)
	PutBranch(ctx context.Context, b domain.Branch) error
}

// WorkflowStore persists a Node's single Workflow row (its ordered initial
// inputs), partitioned by (node_id, branch_id).
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, nodeID, branchID uuid.UUID) (domain.Workflow, error)
	PutWorkflow(ctx context.Context, w domain.Workflow) error
}

// RecoveryStore persists RecoveryLogEntry rows, partitioned by branch_id and
// clustered by (object_type, id), with a secondary index on updated_at so
// the sweeper can find stale entries without a full scan.
type RecoveryStore interface {
	CreateRecoveryEntry(ctx context.Context, e domain.RecoveryLogEntry) error
	UpdateRecoveryStep(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID, step uint8, data []byte) error
	DeleteRecoveryEntry(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) error
	// StaleRecoveryEntries returns entries last updated before the cutoff,
	// i.e. candidates for the sweeper to re-drive.
	StaleRecoveryEntries(ctx context.Context, olderThanUnixMillis int64) ([]domain.RecoveryLogEntry, error)
}

// DescriptionStore persists CRDT-merged rich-text descriptions, partitioned
// by branch_id and clustered by object_id. Deleting a description archives
// rather than discards the prior copy, so conflict resolution UIs can show
// what was lost.
type DescriptionStore interface {
	GetDescription(ctx context.Context, branchID, objectID uuid.UUID) ([]byte, error)
	PutDescription(ctx context.Context, branchID, objectID uuid.UUID, crdt []byte) error
	ArchiveDescription(ctx context.Context, branchID, objectID uuid.UUID) error
}

// Store aggregates every repository the engine needs. A single
// implementation (in-memory for tests, Cassandra/ScyllaDB in production)
// satisfies all of them.
type Store interface {
	NodeStore
	NodeDescendantStore
	FlowStore
	FlowStepStore
	IOStore
	BranchStore
	WorkflowStore
	RecoveryStore
	DescriptionStore
}
