package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

type CredentialRepository struct {
	*BaseRepository[models.Credential]
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{
		BaseRepository: NewBaseRepository[models.Credential](db),
	}
}

func (r *CredentialRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID, opts *ListOptions) ([]models.Credential, int64, error) {
	var credentials []models.Credential
	var total int64

	query := r.DB().WithContext(ctx).Where("owner_id = ?", ownerID)
	query.Model(&models.Credential{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&credentials).Error
	return credentials, total, wrapErr(err)
}

func (r *CredentialRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return wrapErr(r.DB().WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error)
}
