package models

import (
	"time"

	"github.com/google/uuid"
)

type Execution struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	FlowID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"flow_id"`
	FlowVersionID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"flow_version_id"`
	Status         string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	TriggerType    string     `gorm:"size:20;not null" json:"trigger_type"`
	TriggeredBy    *uuid.UUID `gorm:"type:uuid" json:"triggered_by,omitempty"`
	TriggerInput   JSON       `gorm:"type:jsonb" json:"trigger_input,omitempty"`
	TriggerContext JSON       `gorm:"type:jsonb" json:"trigger_context,omitempty"`
	OutputData     JSON       `gorm:"type:jsonb" json:"output_data,omitempty"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	ErrorNodeID    *string    `gorm:"size:100" json:"error_node_id,omitempty"`
	WaitingNodeID  *string    `gorm:"size:100" json:"waiting_node_id,omitempty"`
	PauseReason    *string    `gorm:"size:50" json:"pause_reason,omitempty"`
	CancelReason   *string    `gorm:"size:255" json:"cancel_reason,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty"`
	NodesTotal     int        `gorm:"default:0" json:"nodes_total"`
	NodesCompleted int        `gorm:"default:0" json:"nodes_completed"`
	RetryCount     int        `gorm:"default:0" json:"retry_count"`
	MaxRetries     int        `gorm:"default:3" json:"max_retries"`
	RetryOf        *uuid.UUID `gorm:"type:uuid;index" json:"retry_of,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	FlowVersion    FlowVersion     `gorm:"foreignKey:FlowVersionID" json:"-"`
	NodeExecutions []NodeExecution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (Execution) TableName() string {
	return "executions"
}

type NodeExecution struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID      uuid.UUID   `gorm:"type:uuid;index:idx_node_exec,unique,priority:1;not null" json:"execution_id"`
	NodeID           string      `gorm:"size:100;index:idx_node_exec,unique,priority:2;not null" json:"node_id"`
	ComponentName    string      `gorm:"size:100;not null" json:"component_name"`
	ComponentVersion string      `gorm:"size:20" json:"component_version,omitempty"`
	Status           string      `gorm:"size:20;not null;default:pending;index" json:"status"`
	InputData        JSON        `gorm:"type:jsonb" json:"input_data,omitempty"`
	OutputData       JSON        `gorm:"type:jsonb" json:"output_data,omitempty"`
	ErrorMessage     *string     `gorm:"type:text" json:"error_message,omitempty"`
	ErrorStack       *string     `gorm:"type:text" json:"error_stack,omitempty"`
	BranchesToFollow StringArray `gorm:"type:text[]" json:"branches_to_follow,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	DurationMs       *int64      `json:"duration_ms,omitempty"`
	RetryCount       int         `gorm:"default:0" json:"retry_count"`
	CreatedAt        time.Time   `json:"created_at"`

	Execution Execution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (NodeExecution) TableName() string {
	return "node_executions"
}

// ExecutionArchive is the compact post-terminal snapshot that replaces the
// live execution and node execution rows after archival.
type ExecutionArchive struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID    uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null" json:"execution_id"`
	FlowID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"flow_id"`
	FlowName       string     `gorm:"size:255;not null" json:"flow_name"`
	FlowVersion    int        `gorm:"not null" json:"flow_version"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	TriggerType    string     `gorm:"size:20;not null" json:"trigger_type"`
	TriggerInput   JSON       `gorm:"type:jsonb" json:"trigger_input,omitempty"`
	Output         JSON       `gorm:"type:jsonb" json:"output,omitempty"`
	NodeExecutions JSON       `gorm:"type:jsonb" json:"node_executions,omitempty"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty"`
	ArchivedAt     time.Time  `gorm:"not null;index" json:"archived_at"`
}

func (ExecutionArchive) TableName() string {
	return "execution_archives"
}
