package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type FormRepository struct {
	*BaseRepository[models.FormTrigger]
}

func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{
		BaseRepository: NewBaseRepository[models.FormTrigger](db),
	}
}

func (r *FormRepository) GetByFlowNode(ctx context.Context, flowID uuid.UUID, nodeID string) (*models.FormTrigger, error) {
	var trigger models.FormTrigger
	err := r.DB().WithContext(ctx).
		Where("flow_id = ? AND node_id = ?", flowID, nodeID).
		First(&trigger).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &trigger, nil
}

func (r *FormRepository) GetByToken(ctx context.Context, token string) (*models.FormTrigger, error) {
	var trigger models.FormTrigger
	err := r.DB().WithContext(ctx).
		Where("form_token = ?", token).
		First(&trigger).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &trigger, nil
}

// CreateSubmission relies on the unique (execution_id, node_id) index to
// reject a second submission for the same suspension.
func (r *FormRepository) CreateSubmission(ctx context.Context, submission *models.FormSubmission) error {
	return wrapErr(r.DB().WithContext(ctx).Create(submission).Error)
}

func (r *FormRepository) HasSubmission(ctx context.Context, executionID uuid.UUID, nodeID string) (bool, error) {
	var count int64
	err := r.DB().WithContext(ctx).Model(&models.FormSubmission{}).
		Where("execution_id = ? AND node_id = ?", executionID, nodeID).
		Count(&count).Error
	return count > 0, wrapErr(err)
}

func (r *FormRepository) FindActiveExpired(ctx context.Context, now time.Time) ([]*models.FormTrigger, error) {
	var triggers []*models.FormTrigger
	err := r.DB().WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Find(&triggers).Error
	return triggers, wrapErr(err)
}

func (r *FormRepository) ListSubmissions(ctx context.Context, executionID uuid.UUID) ([]models.FormSubmission, error) {
	var submissions []models.FormSubmission
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&submissions).Error
	return submissions, wrapErr(err)
}
