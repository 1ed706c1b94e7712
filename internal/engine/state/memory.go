package state

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type executionState struct {
	initial  map[string]interface{}
	outputs  map[string]map[string]interface{}
	branches map[string][]string
	status   string
}

// MemoryStore keeps execution state in process memory. Suited for tests and
// single-instance deployments without restart durability.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[uuid.UUID]*executionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[uuid.UUID]*executionState),
	}
}

func (s *MemoryStore) InitExecution(_ context.Context, execID uuid.UUID, initial map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execID]; exists {
		return nil
	}
	s.executions[execID] = &executionState{
		initial:  initial,
		outputs:  make(map[string]map[string]interface{}),
		branches: make(map[string][]string),
		status:   models.ExecutionStatusPending,
	}
	return nil
}

func (s *MemoryStore) RecordNodeOutput(_ context.Context, execID uuid.UUID, nodeID string, output map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es := s.ensure(execID)
	es.outputs[nodeID] = output
	return nil
}

func (s *MemoryStore) GetNodeOutput(_ context.Context, execID uuid.UUID, nodeID string) (map[string]interface{}, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es, ok := s.executions[execID]
	if !ok {
		return nil, false, nil
	}
	out, ok := es.outputs[nodeID]
	return out, ok, nil
}

func (s *MemoryStore) RecordBranchDecision(_ context.Context, execID uuid.UUID, nodeID string, branches []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es := s.ensure(execID)
	es.branches[nodeID] = append([]string{}, branches...)
	return nil
}

func (s *MemoryStore) GetBranchDecision(_ context.Context, execID uuid.UUID, nodeID string) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es, ok := s.executions[execID]
	if !ok {
		return nil, false, nil
	}
	branches, ok := es.branches[nodeID]
	return branches, ok, nil
}

func (s *MemoryStore) UpdateExecutionStatus(_ context.Context, execID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensure(execID).status = status
	return nil
}

func (s *MemoryStore) GetExecutionStatus(_ context.Context, execID uuid.UUID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es, ok := s.executions[execID]
	if !ok {
		return "", false, nil
	}
	return es.status, true, nil
}

func (s *MemoryStore) GetExecutionOutput(_ context.Context, execID uuid.UUID) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es, ok := s.executions[execID]
	if !ok {
		return map[string]interface{}{}, nil
	}
	result := make(map[string]interface{}, len(es.outputs))
	for nodeID, output := range es.outputs {
		result[nodeID] = output
	}
	return result, nil
}

func (s *MemoryStore) CleanupExecution(_ context.Context, execID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, execID)
	return nil
}

// ensure must be called with the write lock held.
func (s *MemoryStore) ensure(execID uuid.UUID) *executionState {
	es, ok := s.executions[execID]
	if !ok {
		es = &executionState{
			outputs:  make(map[string]map[string]interface{}),
			branches: make(map[string][]string),
			status:   models.ExecutionStatusPending,
		}
		s.executions[execID] = es
	}
	return es
}
