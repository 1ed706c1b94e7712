package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionApproval gates a paused execution on human input.
type ExecutionApproval struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"execution_id"`
	NodeID            string     `gorm:"size:100;not null" json:"node_id"`
	Status            string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	ApprovalMode      string     `gorm:"size:20;not null;default:any" json:"approval_mode"`
	ApprovalType      string     `gorm:"size:20;not null;default:manual" json:"approval_type"`
	RequiredApprovers int        `gorm:"not null;default:1" json:"required_approvers"`
	ApprovedCount     int        `gorm:"default:0" json:"approved_count"`
	RejectedCount     int        `gorm:"default:0" json:"rejected_count"`
	Message           *string    `gorm:"type:text" json:"message,omitempty"`
	Metadata          JSON       `gorm:"type:jsonb" json:"metadata,omitempty"`
	ExpiresAt         *time.Time `gorm:"index" json:"expires_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Execution Execution        `gorm:"foreignKey:ExecutionID" json:"-"`
	Actions   []ApprovalAction `gorm:"foreignKey:ApprovalID" json:"-"`
}

func (ExecutionApproval) TableName() string {
	return "execution_approvals"
}

// ApprovalAction is one user's decision on one approval.
// Unique per (approval_id, user_id).
type ApprovalAction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApprovalID uuid.UUID `gorm:"type:uuid;index:idx_approval_user,unique,priority:1;not null" json:"approval_id"`
	UserID     uuid.UUID `gorm:"type:uuid;index:idx_approval_user,unique,priority:2;not null" json:"user_id"`
	Action     string    `gorm:"size:10;not null" json:"action"`
	Comment    *string   `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Approval ExecutionApproval `gorm:"foreignKey:ApprovalID" json:"-"`
}

func (ApprovalAction) TableName() string {
	return "approval_actions"
}
