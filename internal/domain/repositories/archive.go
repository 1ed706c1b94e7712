package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

// ArchiveStore joins the execution and archive repositories behind the
// archival service's store interface.
type ArchiveStore struct {
	executions *ExecutionRepository
	archives   *ArchiveRepository
}

func NewArchiveStore(executions *ExecutionRepository, archives *ArchiveRepository) *ArchiveStore {
	return &ArchiveStore{executions: executions, archives: archives}
}

func NewArchiveStoreFromDB(db *gorm.DB) *ArchiveStore {
	return NewArchiveStore(NewExecutionRepository(db), NewArchiveRepository(db))
}

func (s *ArchiveStore) FindArchivable(ctx context.Context, completedBefore time.Time, limit int) ([]*models.Execution, error) {
	return s.executions.FindArchivable(ctx, completedBefore, limit)
}

func (s *ArchiveStore) GetNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	return s.executions.GetNodeExecutions(ctx, executionID)
}

func (s *ArchiveStore) FlowInfo(ctx context.Context, flowVersionID uuid.UUID) (string, int, error) {
	return s.executions.FlowInfo(ctx, flowVersionID)
}

func (s *ArchiveStore) CreateArchive(ctx context.Context, archive *models.ExecutionArchive) error {
	return s.archives.CreateArchive(ctx, archive)
}

func (s *ArchiveStore) DeleteExecution(ctx context.Context, executionID uuid.UUID) error {
	return s.executions.DeleteExecution(ctx, executionID)
}

func (s *ArchiveStore) DeleteArchivesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.archives.DeleteArchivesBefore(ctx, cutoff)
}

func (s *ArchiveStore) GetArchive(ctx context.Context, executionID uuid.UUID) (*models.ExecutionArchive, error) {
	return s.archives.GetArchive(ctx, executionID)
}
