package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credential stores a named secret bundle. Data is AES-256-GCM encrypted
// and only ever decrypted inside the resolver.
type Credential struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"owner_id"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Type        string         `gorm:"size:50;not null;index" json:"type"`
	Data        string         `gorm:"type:text;not null" json:"-"`
	Description *string        `gorm:"type:text" json:"description,omitempty"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Credential) TableName() string {
	return "credentials"
}
