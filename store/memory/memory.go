// Package memory provides an in-memory Store implementation for tests and
// single-process development, mirroring the concurrency shape of the
// production Cassandra store without requiring a cluster.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/store"
)

type descendantKey struct {
	rootID, branchID, ancestorID, descendantID uuid.UUID
}

type flowKey struct {
	branchID, id uuid.UUID
}

type flowStepKey struct {
	nodeID, branchID, id uuid.UUID
}

type ioKey struct {
	rootID, branchID, id uuid.UUID
}

type recoveryKey struct {
	branchID   uuid.UUID
	objectType domain.RecoveryObjectType
	id         uuid.UUID
}

type descriptionKey struct {
	branchID, objectID uuid.UUID
}

type workflowKey struct {
	nodeID, branchID uuid.UUID
}

// Store is a mutex-guarded, map-backed store.Store. Not durable: all data is
// lost when the process exits.
type Store struct {
	mu sync.RWMutex

	nodes        map[store.NodeKey]domain.Node
	descendants  map[descendantKey]domain.NodeDescendant
	flows        map[flowKey]domain.Flow
	flowSteps    map[flowStepKey]domain.FlowStep
	ios          map[ioKey]domain.IO
	branches     map[uuid.UUID]domain.Branch
	workflows    map[workflowKey]domain.Workflow
	recovery     map[recoveryKey]domain.RecoveryLogEntry
	recoveryTime map[recoveryKey]int64
	descriptions map[descriptionKey][]byte
	archived     map[descriptionKey]bool
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		nodes:        make(map[store.NodeKey]domain.Node),
		descendants:  make(map[descendantKey]domain.NodeDescendant),
		flows:        make(map[flowKey]domain.Flow),
		flowSteps:    make(map[flowStepKey]domain.FlowStep),
		ios:          make(map[ioKey]domain.IO),
		branches:     make(map[uuid.UUID]domain.Branch),
		workflows:    make(map[workflowKey]domain.Workflow),
		recovery:     make(map[recoveryKey]domain.RecoveryLogEntry),
		recoveryTime: make(map[recoveryKey]int64),
		descriptions: make(map[descriptionKey][]byte),
		archived:     make(map[descriptionKey]bool),
	}
}

func (s *Store) GetNode(_ context.Context, key store.NodeKey) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[key]
	if !ok {
		return domain.Node{}, store.ErrNotFound
	}
	return n, nil
}

func (s *Store) PutNode(_ context.Context, n domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[store.NodeKey{BranchID: n.BranchID, ID: n.ID}] = n
	return nil
}

func (s *Store) DeleteNode(_ context.Context, key store.NodeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, key)
	return nil
}

func (s *Store) ListDescendants(_ context.Context, rootID, branchID, ancestorID uuid.UUID) ([]domain.NodeDescendant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.NodeDescendant
	for k, d := range s.descendants {
		if k.rootID == rootID && k.branchID == branchID && k.ancestorID == ancestorID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) PutDescendant(_ context.Context, d domain.NodeDescendant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descendants[descendantKey{d.RootID, d.BranchID, d.NodeID, d.ID}] = d
	return nil
}

func (s *Store) DeleteDescendant(_ context.Context, rootID, branchID, ancestorID, descendantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descendants, descendantKey{rootID, branchID, ancestorID, descendantID})
	return nil
}

func (s *Store) GetFlow(_ context.Context, branchID, id uuid.UUID) (domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[flowKey{branchID, id}]
	if !ok {
		return domain.Flow{}, store.ErrNotFound
	}
	return f, nil
}

func (s *Store) ListFlowsByNode(_ context.Context, branchID, nodeID uuid.UUID) ([]domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Flow
	for k, f := range s.flows {
		if k.branchID == branchID && f.NodeID == nodeID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VerticalIndex != out[j].VerticalIndex {
			return out[i].VerticalIndex < out[j].VerticalIndex
		}
		return out[i].StartIndex < out[j].StartIndex
	})
	return out, nil
}

func (s *Store) PutFlow(_ context.Context, f domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowKey{f.BranchID, f.ID}] = f
	return nil
}

func (s *Store) DeleteFlow(_ context.Context, branchID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, flowKey{branchID, id})
	return nil
}

func (s *Store) GetFlowStep(_ context.Context, nodeID, branchID, id uuid.UUID) (domain.FlowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.flowSteps[flowStepKey{nodeID, branchID, id}]
	if !ok {
		return domain.FlowStep{}, store.ErrNotFound
	}
	return fs, nil
}

func (s *Store) ListFlowStepsByFlow(_ context.Context, nodeID, branchID, flowID uuid.UUID) ([]domain.FlowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FlowStep
	for k, fs := range s.flowSteps {
		if k.nodeID == nodeID && k.branchID == branchID && fs.FlowID == flowID {
			out = append(out, fs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowIndex < out[j].FlowIndex })
	return out, nil
}

func (s *Store) PutFlowStep(_ context.Context, fs domain.FlowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowSteps[flowStepKey{fs.NodeID, fs.BranchID, fs.ID}] = fs
	return nil
}

func (s *Store) DeleteFlowStep(_ context.Context, nodeID, branchID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowSteps, flowStepKey{nodeID, branchID, id})
	return nil
}

func (s *Store) GetIO(_ context.Context, rootID, branchID, id uuid.UUID) (domain.IO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	io, ok := s.ios[ioKey{rootID, branchID, id}]
	if !ok {
		return domain.IO{}, store.ErrNotFound
	}
	return io, nil
}

func (s *Store) PutIO(_ context.Context, io domain.IO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ios[ioKey{io.RootID, io.BranchID, io.ID}] = io
	return nil
}

func (s *Store) DeleteIO(_ context.Context, rootID, branchID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ios, ioKey{rootID, branchID, id})
	return nil
}

func (s *Store) GetBranch(_ context.Context, id uuid.UUID) (domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return domain.Branch{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) PutBranch(_ context.Context, b domain.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[b.ID] = b
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, nodeID, branchID uuid.UUID) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[workflowKey{nodeID, branchID}]
	if !ok {
		return domain.Workflow{}, store.ErrNotFound
	}
	return w, nil
}

func (s *Store) PutWorkflow(_ context.Context, w domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[workflowKey{w.NodeID, w.BranchID}] = w
	return nil
}

func (s *Store) CreateRecoveryEntry(_ context.Context, e domain.RecoveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recoveryKey{e.BranchID, e.ObjectType, e.ID}
	s.recovery[key] = e
	s.recoveryTime[key] = e.UpdatedAt.UnixMilli()
	return nil
}

func (s *Store) UpdateRecoveryStep(_ context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID, step uint8, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recoveryKey{branchID, objectType, id}
	e, ok := s.recovery[key]
	if !ok {
		return store.ErrNotFound
	}
	e.Step = step
	e.Data = data
	e.UpdatedAt = time.Now()
	s.recovery[key] = e
	s.recoveryTime[key] = e.UpdatedAt.UnixMilli()
	return nil
}

func (s *Store) DeleteRecoveryEntry(_ context.Context, branchID uuid.UUID, objectType domain.RecoveryObjectType, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recoveryKey{branchID, objectType, id}
	delete(s.recovery, key)
	delete(s.recoveryTime, key)
	return nil
}

func (s *Store) StaleRecoveryEntries(_ context.Context, olderThanUnixMillis int64) ([]domain.RecoveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RecoveryLogEntry
	for key, ts := range s.recoveryTime {
		if ts < olderThanUnixMillis {
			out = append(out, s.recovery[key])
		}
	}
	return out, nil
}

func (s *Store) GetDescription(_ context.Context, branchID, objectID uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptions[descriptionKey{branchID, objectID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) PutDescription(_ context.Context, branchID, objectID uuid.UUID, crdt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptions[descriptionKey{branchID, objectID}] = crdt
	return nil
}

func (s *Store) ArchiveDescription(_ context.Context, branchID, objectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[descriptionKey{branchID, objectID}] = true
	return nil
}
