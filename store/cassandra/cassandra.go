// Package cassandra implements store.Store against a wide-column cluster
// (Cassandra or ScyllaDB) via gocql, matching the partition layout the
// engine assumes: per-row atomicity, no multi-row transactions.
package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

// Store is a gocql-backed store.Store.
type Store struct {
	session *gocql.Session
}

// Config configures cluster connection parameters.
type Config struct {
	Hosts       []string
	Keyspace    string
	Consistency gocql.Consistency
	Timeout     time.Duration
}

// New connects to the cluster and ensures the schema exists.
func New(cfg Config) (*Store, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	if cfg.Consistency == 0 {
		cfg.Consistency = gocql.Quorum
	}
	cluster.Consistency = cfg.Consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: create session: %w", err)
	}

	s := &Store{session: session}
	if err := s.createSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra: create schema: %w", err)
	}
	return s, nil
}

// Close releases the cluster session.
func (s *Store) Close() { s.session.Close() }

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			branch_id uuid, id uuid, root_id uuid, parent_id uuid,
			ancestor_ids list<uuid>, order_index double, title text,
			is_public boolean, owner_id uuid, editor_ids list<uuid>,
			viewer_ids list<uuid>, is_root boolean, is_subscription_active boolean,
			cover_image_ref text, created_at timestamp, updated_at timestamp,
			PRIMARY KEY ((branch_id, id))
		)`,
		`CREATE TABLE IF NOT EXISTS node_descendants (
			root_id uuid, branch_id uuid, node_id uuid, id uuid,
			parent_id uuid, title text, order_index double,
			PRIMARY KEY ((root_id, branch_id, node_id), order_index, id)
		)`,
		`CREATE TABLE IF NOT EXISTS flows (
			branch_id uuid, id uuid, node_id uuid, title text,
			vertical_index double, start_index double,
			PRIMARY KEY ((branch_id), node_id, vertical_index, start_index, id)
		)`,
		`CREATE INDEX IF NOT EXISTS flows_by_id ON flows (id)`,
		`CREATE TABLE IF NOT EXISTS flow_steps (
			node_id uuid, branch_id uuid, id uuid, flow_id uuid, flow_index double,
			node_ids list<uuid>,
			PRIMARY KEY ((node_id, branch_id), flow_id, flow_index, id)
		)`,
		`CREATE INDEX IF NOT EXISTS flow_steps_by_id ON flow_steps (id)`,
		`CREATE TABLE IF NOT EXISTS ios (
			root_id uuid, branch_id uuid, id uuid, title text, flow_step_id uuid,
			inputted_by_flow_steps list<uuid>,
			PRIMARY KEY ((root_id, branch_id), id)
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id uuid PRIMARY KEY, root_id uuid, node_id uuid, owner_id uuid,
			is_public boolean, status text, conflict_blob blob,
			created_at timestamp, updated_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
				node_id uuid, branch_id uuid, initial_input_ids list<uuid>,
				PRIMARY KEY ((node_id, branch_id))
			)`,
			`CREATE TABLE IF NOT EXISTS recovery_log (
			branch_id uuid, object_type tinyint, id uuid, step tinyint,
			data blob, updated_at timestamp,
			PRIMARY KEY ((branch_id), object_type, id)
		)`,
		`CREATE INDEX IF NOT EXISTS recovery_by_updated_at ON recovery_log (updated_at)`,
		`CREATE TABLE IF NOT EXISTS descriptions (
			branch_id uuid, object_id uuid, crdt blob, archived boolean,
			PRIMARY KEY ((branch_id), object_id)
		)`,
	}
	for _, stmt := range stmts {
		if err := s.session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, key store.NodeKey) (domain.Node, error) {
	var n domain.Node
	var ancestorIDs, editorIDs, viewerIDs []uuid.UUID
	err := s.session.Query(
		`SELECT root_id, parent_id, ancestor_ids, order_index, title, is_public,
		        owner_id, editor_ids, viewer_ids, is_root, is_subscription_active,
		        cover_image_ref, created_at, updated_at
		 FROM nodes WHERE branch_id = ? AND id = ?`,
		key.BranchID, key.ID,
	).WithContext(ctx).Scan(
		&n.RootID, &n.ParentID, &ancestorIDs, &n.OrderIndex, &n.Title, &n.IsPublic,
		&n.OwnerID, &editorIDs, &viewerIDs, &n.IsRoot, &n.IsSubscriptionActive,
		&n.CoverImageRef, &n.CreatedAt, &n.UpdatedAt,
	)
	if err == gocql.ErrNotFound {
		return domain.Node{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("cassandra: get node: %w", err)
	}
	n.BranchID, n.ID = key.BranchID, key.ID
	n.AncestorIDs, n.EditorIDs, n.ViewerIDs = ancestorIDs, editorIDs, viewerIDs
	return n, nil
}

func (s *Store) PutNode(ctx context.Context, n domain.Node) error {
	return s.session.Query(
		`INSERT INTO nodes (branch_id, id, root_id, parent_id, ancestor_ids,
		        order_index, title, is_public, owner_id, editor_ids, viewer_ids,
		        is_root, is_subscription_active, cover_image_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.BranchID, n.ID, n.RootID, n.ParentID, n.AncestorIDs,
		n.OrderIndex, n.Title, n.IsPublic, n.OwnerID, n.EditorIDs, n.ViewerIDs,
		n.IsRoot, n.IsSubscriptionActive, n.CoverImageRef, n.CreatedAt, n.UpdatedAt,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteNode(ctx context.Context, key store.NodeKey) error {
	return s.session.Query(`DELETE FROM nodes WHERE branch_id = ? AND id = ?`, key.BranchID, key.ID).
		WithContext(ctx).Exec()
}

func (s *Store) ListDescendants(ctx context.Context, rootID, branchID, ancestorID uuid.UUID) ([]domain.NodeDescendant, error) {
	iter := s.session.Query(
		`SELECT id, parent_id, title, order_index FROM node_descendants
		 WHERE root_id = ? AND branch_id = ? AND node_id = ?`,
		rootID, branchID, ancestorID,
	).WithContext(ctx).Iter()

	var out []domain.NodeDescendant
	var id, parentID uuid.UUID
	var title string
	var orderIndex float64
	for iter.Scan(&id, &parentID, &title, &orderIndex) {
		out = append(out, domain.NodeDescendant{
			RootID: rootID, BranchID: branchID, NodeID: ancestorID,
			ID: id, ParentID: parentID, Title: title, OrderIndex: orderIndex,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: list descendants: %w", err)
	}
	return out, nil
}

func (s *Store) PutDescendant(ctx context.Context, d domain.NodeDescendant) error {
	return s.session.Query(
		`INSERT INTO node_descendants (root_id, branch_id, node_id, id, parent_id, title, order_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RootID, d.BranchID, d.NodeID, d.ID, d.ParentID, d.Title, d.OrderIndex,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteDescendant(ctx context.Context, rootID, branchID, ancestorID, descendantID uuid.UUID) error {
	return s.session.Query(
		`DELETE FROM node_descendants WHERE root_id = ? AND branch_id = ? AND node_id = ? AND id = ?`,
		rootID, branchID, ancestorID, descendantID,
	).WithContext(ctx).Exec()
}

func (s *Store) GetFlow(ctx context.Context, branchID, id uuid.UUID) (domain.Flow, error) {
	var f domain.Flow
	err := s.session.Query(
		`SELECT node_id, title, vertical_index, start_index FROM flows WHERE branch_id = ? AND id = ? ALLOW FILTERING`,
		branchID, id,
	).WithContext(ctx).Scan(&f.NodeID, &f.Title, &f.VerticalIndex, &f.StartIndex)
	if err == gocql.ErrNotFound {
		return domain.Flow{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Flow{}, fmt.Errorf("cassandra: get flow: %w", err)
	}
	f.BranchID, f.ID = branchID, id
	return f, nil
}

func (s *Store) ListFlowsByNode(ctx context.Context, branchID, nodeID uuid.UUID) ([]domain.Flow, error) {
	iter := s.session.Query(
		`SELECT id, title, vertical_index, start_index FROM flows WHERE branch_id = ? AND node_id = ?`,
		branchID, nodeID,
	).WithContext(ctx).Iter()

	var out []domain.Flow
	var id uuid.UUID
	var title string
	var vIdx, sIdx float64
	for iter.Scan(&id, &title, &vIdx, &sIdx) {
		out = append(out, domain.Flow{ID: id, BranchID: branchID, NodeID: nodeID, Title: title, VerticalIndex: vIdx, StartIndex: sIdx})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: list flows: %w", err)
	}
	return out, nil
}

func (s *Store) PutFlow(ctx context.Context, f domain.Flow) error {
	return s.session.Query(
		`INSERT INTO flows (branch_id, id, node_id, title, vertical_index, start_index) VALUES (?, ?, ?, ?, ?, ?)`,
		f.BranchID, f.ID, f.NodeID, f.Title, f.VerticalIndex, f.StartIndex,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteFlow(ctx context.Context, branchID, id uuid.UUID) error {
	return s.session.Query(
		`DELETE FROM flows WHERE branch_id = ? AND id = ? ALLOW FILTERING`, branchID, id,
	).WithContext(ctx).Exec()
}

func (s *Store) GetFlowStep(ctx context.Context, nodeID, branchID, id uuid.UUID) (domain.FlowStep, error) {
	var fs domain.FlowStep
	var nodeIDs []uuid.UUID
	err := s.session.Query(
		`SELECT flow_id, flow_index, node_ids FROM flow_steps WHERE node_id = ? AND branch_id = ? AND id = ? ALLOW FILTERING`,
		nodeID, branchID, id,
	).WithContext(ctx).Scan(&fs.FlowID, &fs.FlowIndex, &nodeIDs)
	if err == gocql.ErrNotFound {
		return domain.FlowStep{}, store.ErrNotFound
	}
	if err != nil {
		return domain.FlowStep{}, fmt.Errorf("cassandra: get flow step: %w", err)
	}
	fs.ID, fs.NodeID, fs.BranchID, fs.NodeIDs = id, nodeID, branchID, nodeIDs
	return fs, nil
}

func (s *Store) ListFlowStepsByFlow(ctx context.Context, nodeID, branchID, flowID uuid.UUID) ([]domain.FlowStep, error) {
	iter := s.session.Query(
		`SELECT id, flow_index, node_ids FROM flow_steps WHERE node_id = ? AND branch_id = ? AND flow_id = ?`,
		nodeID, branchID, flowID,
	).WithContext(ctx).Iter()

	var out []domain.FlowStep
	var id uuid.UUID
	var flowIndex float64
	var nodeIDs []uuid.UUID
	for iter.Scan(&id, &flowIndex, &nodeIDs) {
		out = append(out, domain.FlowStep{ID: id, NodeID: nodeID, BranchID: branchID, FlowID: flowID, FlowIndex: flowIndex, NodeIDs: nodeIDs})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: list flow steps: %w", err)
	}
	return out, nil
}

func (s *Store) PutFlowStep(ctx context.Context, fs domain.FlowStep) error {
	return s.session.Query(
		`INSERT INTO flow_steps (node_id, branch_id, id, flow_id, flow_index, node_ids) VALUES (?, ?, ?, ?, ?, ?)`,
		fs.NodeID, fs.BranchID, fs.ID, fs.FlowID, fs.FlowIndex, fs.NodeIDs,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteFlowStep(ctx context.Context, nodeID, branchID, id uuid.UUID) error {
	return s.session.Query(
		`DELETE FROM flow_steps WHERE node_id = ? AND branch_id = ? AND id = ? ALLOW FILTERING`, nodeID, branchID, id,
	).WithContext(ctx).Exec()
}

func (s *Store) GetIO(ctx context.Context, rootID, branchID, id uuid.UUID) (domain.IO, error) {
	var io domain.IO
	err := s.session.Query(
		`SELECT title, flow_step_id, inputted_by_flow_steps FROM ios WHERE root_id = ? AND branch_id = ? AND id = ?`,
		rootID, branchID, id,
	).WithContext(ctx).Scan(&io.Title, &io.FlowStepID, &io.InputtedByFlowSteps)
	if err == gocql.ErrNotFound {
		return domain.IO{}, store.ErrNotFound
	}
	if err != nil {
		return domain.IO{}, fmt.Errorf("cassandra: get io: %w", err)
	}
	io.ID, io.RootID, io.BranchID = id, rootID, branchID
	return io, nil
}

func (s *Store) PutIO(ctx context.Context, io domain.IO) error {
	return s.session.Query(
		`INSERT INTO ios (root_id, branch_id, id, title, flow_step_id, inputted_by_flow_steps) VALUES (?, ?, ?, ?, ?, ?)`,
		io.RootID, io.BranchID, io.ID, io.Title, io.FlowStepID, io.InputtedByFlowSteps,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteIO(ctx context.Context, rootID, branchID, id uuid.UUID) error {
	return s.session.Query(
		`DELETE FROM ios WHERE root_id = ? AND branch_id = ? AND id = ?`, rootID, branchID, id,
	).WithContext(ctx).Exec()
}

func (s *Store) GetBranch(ctx context.Context, id uuid.UUID) (domain.Branch, error) {
	var b domain.Branch
	var status string
	err := s.session.Query(
		`SELECT root_id, node_id, owner_id, is_public, status, created_at, updated_at FROM branches WHERE id = ?`,
		id,
	).WithContext(ctx).Scan(&b.RootID, &b.NodeID, &b.OwnerID, &b.IsPublic, &status, &b.CreatedAt, &b.UpdatedAt)
	if err == gocql.ErrNotFound {
		return domain.Branch{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Branch{}, fmt.Errorf("cassandra: get branch: %w", err)
	}
	b.ID = id
	b.Status = domain.BranchStatus(status)
	return b, nil
}

// PutBranch persists the branch's identity and status columns. The delta
// fields themselves are mutated in place by branch.Materializer via
// dedicated set/map primitives rather than a full-row overwrite, so a
// write-hot branch row never pays for a read-modify-write of fields other
// callers are touching concurrently.
func (s *Store) PutBranch(ctx context.Context, b domain.Branch) error {
	return s.session.Query(
		`INSERT INTO branches (id, root_id, node_id, owner_id, is_public, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RootID, b.NodeID, b.OwnerID, b.IsPublic, string(b.Status), b.CreatedAt, b.UpdatedAt,
	).WithContext(ctx).Exec()
}

func (s *Store) GetWorkflow(ctx context.Context, nodeID, branchID uuid.UUID) (domain.Workflow, error) {
	var w domain.Workflow
	err := s.session.Query(
		`SELECT initial_input_ids FROM workflows WHERE node_id = ? AND branch_id = ?`, nodeID, branchID,
	).WithContext(ctx).Scan(&w.InitialInputIDs)
	if err == gocql.ErrNotFound {
		return domain.Workflow{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("cassandra: get workflow: %w", err)
	}
	w.NodeID, w.BranchID = nodeID, branchID
	return w, nil
}

func (s *Store) PutWorkflow(ctx context.Context, w domain.Workflow) error {
	return s.session.Query(
		`INSERT INTO workflows (node_id, branch_id, initial_input_ids) VALUES (?, ?, ?)`,
		w.NodeID, w.BranchID, w.InitialInputIDs,
	).WithContext(ctx).Exec()
}

func (s *Store) CreateRecoveryEntry(ctx context.Context, e domain.RecoveryLogEntry) error {
	return s.session.Query(
		`INSERT INTO recovery_log (branch_id, object_type, id, step, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.BranchID, uint8(e.ObjectType), e.ID, e.Step, e.Data, e.UpdatedAt,
	).WithContext(ctx).Exec()
}

func (s *Store) UpdateRecoveryStep(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID, step uint8, data []byte) error {
	return s.session.Query(
		`UPDATE recovery_log SET step = ?, data = ?, updated_at = ? WHERE branch_id = ? AND object_type = ? AND id = ?`,
		step, data, time.Now(), branchID, uint8(objectType), id,
	).WithContext(ctx).Exec()
}

func (s *Store) DeleteRecoveryEntry(ctx context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) error {
	return s.session.Query(
		`DELETE FROM recovery_log WHERE branch_id = ? AND object_type = ? AND id = ?`,
		branchID, uint8(objectType), id,
	).WithContext(ctx).Exec()
}

// StaleRecoveryEntries scans the updated_at secondary index. ALLOW FILTERING
// is acceptable here: the sweeper runs on a fixed interval, not per-request.
func (s *Store) StaleRecoveryEntries(ctx context.Context, olderThanUnixMillis int64) ([]domain.RecoveryLogEntry, error) {
	cutoff := time.UnixMilli(olderThanUnixMillis)
	iter := s.session.Query(
		`SELECT branch_id, object_type, id, step, data, updated_at FROM recovery_log WHERE updated_at < ? ALLOW FILTERING`,
		cutoff,
	).WithContext(ctx).Iter()

	var out []domain.RecoveryLogEntry
	var branchID, id uuid.UUID
	var objectType uint8
	var step uint8
	var data []byte
	var updatedAt time.Time
	for iter.Scan(&branchID, &objectType, &id, &step, &data, &updatedAt) {
		out = append(out, domain.RecoveryLogEntry{
			BranchID: branchID, ObjectType: domain.RecoveryObjectType(objectType),
			ID: id, Step: step, Data: data, UpdatedAt: updatedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: stale recovery entries: %w", err)
	}
	return out, nil
}

func (s *Store) GetDescription(ctx context.Context, branchID, objectID uuid.UUID) ([]byte, error) {
	var crdt []byte
	err := s.session.Query(
		`SELECT crdt FROM descriptions WHERE branch_id = ? AND object_id = ?`, branchID, objectID,
	).WithContext(ctx).Scan(&crdt)
	if err == gocql.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: get description: %w", err)
	}
	return crdt, nil
}

func (s *Store) PutDescription(ctx context.Context, branchID, objectID uuid.UUID, crdt []byte) error {
	return s.session.Query(
		`INSERT INTO descriptions (branch_id, object_id, crdt, archived) VALUES (?, ?, ?, false)`,
		branchID, objectID, crdt,
	).WithContext(ctx).Exec()
}

func (s *Store) ArchiveDescription(ctx context.Context, branchID, objectID uuid.UUID) error {
	return s.session.Query(
		`UPDATE descriptions SET archived = true WHERE branch_id = ? AND object_id = ?`, branchID, objectID,
	).WithContext(ctx).Exec()
}

var _ store.Store = (*Store)(nil)
