package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// JSON type for JSONB columns
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSON: not a byte slice")
	}
	return json.Unmarshal(bytes, j)
}

// JSONArray type for JSONB array columns
type JSONArray []interface{}

func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONArray: not a byte slice")
	}
	return json.Unmarshal(bytes, j)
}

// StringArray type for text[] columns
type StringArray = pq.StringArray

// Flow version status constants
const (
	FlowVersionDraft      = "draft"
	FlowVersionPublished  = "published"
	FlowVersionDeprecated = "deprecated"
)

// Execution status constants
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusWaiting   = "waiting"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether a status is a sink state.
func IsTerminalStatus(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Node execution status constants
const (
	NodeStatusPending   = "pending"
	NodeStatusRunning   = "running"
	NodeStatusCompleted = "completed"
	NodeStatusFailed    = "failed"
)

// Trigger types
const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerWebhook   = "webhook"
	TriggerError     = "error"
	TriggerForm      = "form"
	TriggerRetry     = "retry"
)

// Pause reasons
const (
	PauseReasonApproval = "approval"
	PauseReasonForm     = "form"
	PauseReasonWait     = "wait"
	PauseReasonWebhook  = "webhook"
	PauseReasonManual   = "manual"
)

// Approval status constants
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusExpired   = "expired"
	ApprovalStatusCancelled = "cancelled"
)

// Approval modes
const (
	ApprovalModeAny      = "any"
	ApprovalModeAll      = "all"
	ApprovalModeMajority = "majority"
)

// Approval actions
const (
	ApprovalActionApprove = "approve"
	ApprovalActionReject  = "reject"
)
