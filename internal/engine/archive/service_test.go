package archive

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/state"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
)

type memStore struct {
	executions map[uuid.UUID]*models.Execution
	nodeExecs  map[uuid.UUID][]*models.NodeExecution
	archives   map[uuid.UUID]*models.ExecutionArchive
	flowName   string
	flowVer    int

	createArchiveErr error
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[uuid.UUID]*models.Execution),
		nodeExecs:  make(map[uuid.UUID][]*models.NodeExecution),
		archives:   make(map[uuid.UUID]*models.ExecutionArchive),
		flowName:   "billing sync",
		flowVer:    3,
	}
}

func (s *memStore) FindArchivable(_ context.Context, completedBefore time.Time, limit int) ([]*models.Execution, error) {
	var out []*models.Execution
	for _, execution := range s.executions {
		if models.IsTerminalStatus(execution.Status) &&
			execution.CompletedAt != nil && execution.CompletedAt.Before(completedBefore) {
			out = append(out, execution)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetNodeExecutions(_ context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	return s.nodeExecs[executionID], nil
}

func (s *memStore) FlowInfo(_ context.Context, _ uuid.UUID) (string, int, error) {
	return s.flowName, s.flowVer, nil
}

func (s *memStore) CreateArchive(_ context.Context, archive *models.ExecutionArchive) error {
	if s.createArchiveErr != nil {
		return s.createArchiveErr
	}
	if archive.ID == uuid.Nil {
		archive.ID = uuid.New()
	}
	s.archives[archive.ExecutionID] = archive
	return nil
}

func (s *memStore) DeleteExecution(_ context.Context, executionID uuid.UUID) error {
	delete(s.executions, executionID)
	delete(s.nodeExecs, executionID)
	return nil
}

func (s *memStore) DeleteArchivesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, archive := range s.archives {
		if archive.ArchivedAt.Before(cutoff) {
			delete(s.archives, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) GetArchive(_ context.Context, executionID uuid.UUID) (*models.ExecutionArchive, error) {
	archive, ok := s.archives[executionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return archive, nil
}

func terminalExecution(status string, completedAt time.Time) *models.Execution {
	duration := int64(1500)
	started := completedAt.Add(-time.Duration(duration) * time.Millisecond)
	return &models.Execution{
		ID:            uuid.New(),
		FlowID:        uuid.New(),
		FlowVersionID: uuid.New(),
		Status:        status,
		TriggerType:   models.TriggerManual,
		TriggerInput:  models.JSON{"order": float64(42)},
		OutputData:    models.JSON{"done": true},
		StartedAt:     &started,
		CompletedAt:   &completedAt,
		DurationMs:    &duration,
	}
}

func newTestService(t *testing.T, cfg Config) (*Service, *memStore, *state.MemoryStore, *clock.Fake) {
	t.Helper()
	store := newMemStore()
	stateStore := state.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(store, stateStore, clk, cfg), store, stateStore, clk
}

func TestArchiveExecution(t *testing.T) {
	svc, store, stateStore, clk := newTestService(t, Config{})
	ctx := context.Background()

	execution := terminalExecution(models.ExecutionStatusCompleted, clk.Now().Add(-time.Hour))
	store.executions[execution.ID] = execution
	store.nodeExecs[execution.ID] = []*models.NodeExecution{
		{ExecutionID: execution.ID, NodeID: "t", ComponentName: "trigger.manual", Status: models.NodeStatusCompleted},
		{ExecutionID: execution.ID, NodeID: "a", ComponentName: "action.http", Status: models.NodeStatusCompleted},
	}
	require.NoError(t, stateStore.RecordNodeOutput(ctx, execution.ID, "a", map[string]interface{}{"n": 1}))

	require.NoError(t, svc.ArchiveExecution(ctx, execution))

	archive, err := svc.GetArchive(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing sync", archive.FlowName)
	assert.Equal(t, 3, archive.FlowVersion)
	assert.Equal(t, models.ExecutionStatusCompleted, archive.Status)
	assert.Equal(t, models.JSON{"done": true}, archive.Output)
	assert.Equal(t, clk.Now(), archive.ArchivedAt)

	// Node executions are keyed by node id in the snapshot.
	require.Contains(t, archive.NodeExecutions, "a")
	entry := archive.NodeExecutions["a"].(map[string]interface{})
	assert.Equal(t, "action.http", entry["component_name"])

	// Live rows and scratch state are gone.
	assert.NotContains(t, store.executions, execution.ID)
	_, ok, err := stateStore.GetNodeOutput(ctx, execution.ID, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveExecutionRefusesNonTerminal(t *testing.T) {
	svc, _, _, clk := newTestService(t, Config{})

	execution := terminalExecution(models.ExecutionStatusRunning, clk.Now())
	err := svc.ArchiveExecution(context.Background(), execution)
	assert.Error(t, err)
}

func TestArchiveWrittenBeforeDelete(t *testing.T) {
	svc, store, _, clk := newTestService(t, Config{})
	ctx := context.Background()

	execution := terminalExecution(models.ExecutionStatusFailed, clk.Now().Add(-time.Hour))
	store.executions[execution.ID] = execution
	store.createArchiveErr = errors.New("disk full")

	require.Error(t, svc.ArchiveExecution(ctx, execution))

	// The live execution survives a failed archive write.
	assert.Contains(t, store.executions, execution.ID)
}

func TestSweepHonorsMinAgeAndBatchSize(t *testing.T) {
	svc, store, _, clk := newTestService(t, Config{BatchSize: 2, MinAge: time.Hour})
	ctx := context.Background()

	old1 := terminalExecution(models.ExecutionStatusCompleted, clk.Now().Add(-3*time.Hour))
	old2 := terminalExecution(models.ExecutionStatusFailed, clk.Now().Add(-2*time.Hour))
	old3 := terminalExecution(models.ExecutionStatusCancelled, clk.Now().Add(-90*time.Minute))
	fresh := terminalExecution(models.ExecutionStatusCompleted, clk.Now().Add(-time.Minute))
	running := terminalExecution(models.ExecutionStatusRunning, clk.Now().Add(-3*time.Hour))
	for _, e := range []*models.Execution{old1, old2, old3, fresh, running} {
		store.executions[e.ID] = e
	}

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Oldest first; the third old execution waits for the next sweep.
	assert.Contains(t, store.archives, old1.ID)
	assert.Contains(t, store.archives, old2.ID)
	assert.NotContains(t, store.archives, old3.ID)
	assert.NotContains(t, store.archives, fresh.ID)
	assert.NotContains(t, store.archives, running.ID)

	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, store.archives, old3.ID)
}

func TestSweepRetention(t *testing.T) {
	svc, store, _, clk := newTestService(t, Config{RetentionDays: 30})
	ctx := context.Background()

	oldID := uuid.New()
	freshID := uuid.New()
	store.archives[oldID] = &models.ExecutionArchive{
		ExecutionID: oldID,
		ArchivedAt:  clk.Now().AddDate(0, 0, -45),
	}
	store.archives[freshID] = &models.ExecutionArchive{
		ExecutionID: freshID,
		ArchivedAt:  clk.Now().AddDate(0, 0, -5),
	}

	deleted, err := svc.SweepRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.NotContains(t, store.archives, oldID)
	assert.Contains(t, store.archives, freshID)
}

func TestGetArchiveNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})

	_, err := svc.GetArchive(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
