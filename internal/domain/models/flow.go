package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Flow struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	Description *string        `gorm:"type:text" json:"description,omitempty"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"owner_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Versions []FlowVersion `gorm:"foreignKey:FlowID" json:"-"`
}

func (Flow) TableName() string {
	return "flows"
}

// FlowVersion is an immutable snapshot of a flow definition.
// Exactly one version per flow may be published at a time.
type FlowVersion struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	FlowID     uuid.UUID `gorm:"type:uuid;index;not null" json:"flow_id"`
	Version    int       `gorm:"not null" json:"version"`
	Status     string    `gorm:"size:20;not null;default:draft;index" json:"status"`
	Definition JSON      `gorm:"type:jsonb;not null" json:"definition"`
	Settings   JSON      `gorm:"type:jsonb" json:"settings,omitempty"`
	CreatedBy  uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`

	Flow Flow `gorm:"foreignKey:FlowID" json:"-"`
}

func (FlowVersion) TableName() string {
	return "flow_versions"
}
