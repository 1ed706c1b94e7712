package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type ApprovalRepository struct {
	*BaseRepository[models.ExecutionApproval]
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{
		BaseRepository: NewBaseRepository[models.ExecutionApproval](db),
	}
}

// CreateAction relies on the unique (approval_id, user_id) index to reject
// a second action by the same user.
func (r *ApprovalRepository) CreateAction(ctx context.Context, action *models.ApprovalAction) error {
	return wrapErr(r.DB().WithContext(ctx).Create(action).Error)
}

func (r *ApprovalRepository) HasUserActed(ctx context.Context, approvalID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB().WithContext(ctx).Model(&models.ApprovalAction{}).
		Where("approval_id = ? AND user_id = ?", approvalID, userID).
		Count(&count).Error
	return count > 0, wrapErr(err)
}

func (r *ApprovalRepository) FindExpired(ctx context.Context, now time.Time) ([]*models.ExecutionApproval, error) {
	var approvals []*models.ExecutionApproval
	err := r.DB().WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.ApprovalStatusPending, now).
		Find(&approvals).Error
	return approvals, wrapErr(err)
}

func (r *ApprovalRepository) FindPendingByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionApproval, error) {
	var approvals []*models.ExecutionApproval
	err := r.DB().WithContext(ctx).
		Where("execution_id = ? AND status = ?", executionID, models.ApprovalStatusPending).
		Find(&approvals).Error
	return approvals, wrapErr(err)
}

func (r *ApprovalRepository) ListActions(ctx context.Context, approvalID uuid.UUID) ([]models.ApprovalAction, error) {
	var actions []models.ApprovalAction
	err := r.DB().WithContext(ctx).
		Where("approval_id = ?", approvalID).
		Order("created_at ASC").
		Find(&actions).Error
	return actions, wrapErr(err)
}
