package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type FlowRepository struct {
	*BaseRepository[models.Flow]
}

func NewFlowRepository(db *gorm.DB) *FlowRepository {
	return &FlowRepository{
		BaseRepository: NewBaseRepository[models.Flow](db),
	}
}

func (r *FlowRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID, opts *ListOptions) ([]models.Flow, int64, error) {
	var flows []models.Flow
	var total int64

	query := r.DB().WithContext(ctx).Where("owner_id = ?", ownerID)
	query.Model(&models.Flow{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&flows).Error
	return flows, total, wrapErr(err)
}

type FlowVersionRepository struct {
	*BaseRepository[models.FlowVersion]
}

func NewFlowVersionRepository(db *gorm.DB) *FlowVersionRepository {
	return &FlowVersionRepository{
		BaseRepository: NewBaseRepository[models.FlowVersion](db),
	}
}

// GetVersion satisfies the scheduler's flow store.
func (r *FlowVersionRepository) GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	return r.GetByID(ctx, id)
}

func (r *FlowVersionRepository) FindPublished(ctx context.Context, flowID uuid.UUID) (*models.FlowVersion, error) {
	var version models.FlowVersion
	err := r.DB().WithContext(ctx).
		Where("flow_id = ? AND status = ?", flowID, models.FlowVersionPublished).
		First(&version).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &version, nil
}

func (r *FlowVersionRepository) FindByFlowID(ctx context.Context, flowID uuid.UUID) ([]models.FlowVersion, error) {
	var versions []models.FlowVersion
	err := r.DB().WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("version DESC").
		Find(&versions).Error
	return versions, wrapErr(err)
}

func (r *FlowVersionRepository) NextVersionNumber(ctx context.Context, flowID uuid.UUID) (int, error) {
	var max int
	err := r.DB().WithContext(ctx).Model(&models.FlowVersion{}).
		Where("flow_id = ?", flowID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max + 1, wrapErr(err)
}

// Publish marks one version published and archives any previously
// published version of the same flow, atomically.
func (r *FlowVersionRepository) Publish(ctx context.Context, flowID, versionID uuid.UUID) error {
	return r.Transaction(func(tx *gorm.DB) error {
		err := tx.WithContext(ctx).Model(&models.FlowVersion{}).
			Where("flow_id = ? AND status = ?", flowID, models.FlowVersionPublished).
			Update("status", models.FlowVersionDeprecated).Error
		if err != nil {
			return fmt.Errorf("failed to archive published version: %w", err)
		}
		return tx.WithContext(ctx).Model(&models.FlowVersion{}).
			Where("id = ? AND flow_id = ?", versionID, flowID).
			Update("status", models.FlowVersionPublished).Error
	})
}
