package models

import (
	"time"

	"github.com/google/uuid"
)

// FormTrigger is a token-addressed submission point that resumes a
// suspended execution. Idempotent on (flow_id, node_id).
type FormTrigger struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	FlowID          uuid.UUID  `gorm:"type:uuid;index:idx_form_flow_node,unique,priority:1;not null" json:"flow_id"`
	NodeID          string     `gorm:"size:100;index:idx_form_flow_node,unique,priority:2;not null" json:"node_id"`
	FormToken       string     `gorm:"size:32;uniqueIndex;not null" json:"form_token"`
	Config          JSON       `gorm:"type:jsonb" json:"config,omitempty"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	SubmissionCount int        `gorm:"default:0" json:"submission_count"`
	MaxSubmissions  int        `gorm:"default:0" json:"max_submissions"`
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedBy       uuid.UUID  `gorm:"type:uuid" json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (FormTrigger) TableName() string {
	return "form_triggers"
}

// FormSubmission is one submitted payload. Unique per (execution_id, node_id).
type FormSubmission struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID uuid.UUID  `gorm:"type:uuid;index:idx_form_exec_node,unique,priority:1;not null" json:"execution_id"`
	NodeID      string     `gorm:"size:100;index:idx_form_exec_node,unique,priority:2;not null" json:"node_id"`
	Data        JSON       `gorm:"type:jsonb" json:"data,omitempty"`
	SubmittedBy *uuid.UUID `gorm:"type:uuid" json:"submitted_by,omitempty"`
	SubmittedIP *string    `gorm:"size:45" json:"submitted_ip,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	Execution Execution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (FormSubmission) TableName() string {
	return "form_submissions"
}
