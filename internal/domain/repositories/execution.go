package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type ExecutionRepository struct {
	*BaseRepository[models.Execution]
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: NewBaseRepository[models.Execution](db),
	}
}

func (r *ExecutionRepository) FindByFlowID(ctx context.Context, flowID uuid.UUID, opts *ListOptions) ([]models.Execution, int64, error) {
	var executions []models.Execution
	var total int64

	query := r.DB().WithContext(ctx).Where("flow_id = ?", flowID)
	query.Model(&models.Execution{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&executions).Error
	return executions, total, wrapErr(err)
}

func (r *ExecutionRepository) FindByStatus(ctx context.Context, status string, opts *ListOptions) ([]models.Execution, int64, error) {
	var executions []models.Execution
	var total int64

	query := r.DB().WithContext(ctx).Where("status = ?", status)
	query.Model(&models.Execution{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&executions).Error
	return executions, total, wrapErr(err)
}

// FindStale returns executions stuck in running past the threshold, e.g.
// after a crashed worker.
func (r *ExecutionRepository) FindStale(ctx context.Context, threshold time.Duration, now time.Time) ([]*models.Execution, error) {
	var executions []*models.Execution
	cutoff := now.Add(-threshold)
	err := r.DB().WithContext(ctx).
		Where("status = ? AND started_at < ?", models.ExecutionStatusRunning, cutoff).
		Find(&executions).Error
	return executions, wrapErr(err)
}

// FindWaitingByFlowNode locates the execution suspended on a given node,
// e.g. to route a form submission. Oldest first when several wait.
func (r *ExecutionRepository) FindWaitingByFlowNode(ctx context.Context, flowID uuid.UUID, nodeID string) (*models.Execution, error) {
	var execution models.Execution
	err := r.DB().WithContext(ctx).
		Where("flow_id = ? AND status = ? AND waiting_node_id = ?", flowID, models.ExecutionStatusWaiting, nodeID).
		Order("created_at ASC").
		First(&execution).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &execution, nil
}

// FindArchivable satisfies the archival store: terminal executions whose
// completed_at is before the cutoff.
func (r *ExecutionRepository) FindArchivable(ctx context.Context, completedBefore time.Time, limit int) ([]*models.Execution, error) {
	var executions []*models.Execution
	err := r.DB().WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?",
			[]string{models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled},
			completedBefore).
		Order("completed_at ASC").
		Limit(limit).
		Find(&executions).Error
	return executions, wrapErr(err)
}

func (r *ExecutionRepository) CreateNodeExecution(ctx context.Context, ne *models.NodeExecution) error {
	return wrapErr(r.DB().WithContext(ctx).Create(ne).Error)
}

func (r *ExecutionRepository) UpdateNodeExecution(ctx context.Context, ne *models.NodeExecution) error {
	return wrapErr(r.DB().WithContext(ctx).Save(ne).Error)
}

func (r *ExecutionRepository) ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	var nodeExecutions []*models.NodeExecution
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&nodeExecutions).Error
	return nodeExecutions, wrapErr(err)
}

// GetNodeExecutions satisfies the archival store.
func (r *ExecutionRepository) GetNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	return r.ListNodeExecutions(ctx, executionID)
}

// FlowInfo resolves the denormalized flow name and version number for an
// archive row.
func (r *ExecutionRepository) FlowInfo(ctx context.Context, flowVersionID uuid.UUID) (string, int, error) {
	var version models.FlowVersion
	err := r.DB().WithContext(ctx).First(&version, "id = ?", flowVersionID).Error
	if err != nil {
		return "", 0, wrapErr(err)
	}
	var flow models.Flow
	err = r.DB().WithContext(ctx).Unscoped().First(&flow, "id = ?", version.FlowID).Error
	if err != nil {
		return "", 0, wrapErr(err)
	}
	return flow.Name, version.Version, nil
}

// DeleteExecution removes the execution row and its node execution rows in
// one transaction.
func (r *ExecutionRepository) DeleteExecution(ctx context.Context, executionID uuid.UUID) error {
	return r.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("execution_id = ?", executionID).Delete(&models.NodeExecution{}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Delete(&models.Execution{}, "id = ?", executionID).Error
	})
}

type ArchiveRepository struct {
	*BaseRepository[models.ExecutionArchive]
}

func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{
		BaseRepository: NewBaseRepository[models.ExecutionArchive](db),
	}
}

func (r *ArchiveRepository) CreateArchive(ctx context.Context, archive *models.ExecutionArchive) error {
	return r.Create(ctx, archive)
}

func (r *ArchiveRepository) GetArchive(ctx context.Context, executionID uuid.UUID) (*models.ExecutionArchive, error) {
	var archive models.ExecutionArchive
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		First(&archive).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &archive, nil
}

func (r *ArchiveRepository) DeleteArchivesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB().WithContext(ctx).
		Where("archived_at < ?", cutoff).
		Delete(&models.ExecutionArchive{})
	return result.RowsAffected, wrapErr(result.Error)
}
