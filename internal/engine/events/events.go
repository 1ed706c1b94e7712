package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventExecutionStarted   EventType = "EXECUTION_STARTED"
	EventExecutionCompleted EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "EXECUTION_FAILED"
	EventExecutionCancelled EventType = "EXECUTION_CANCELLED"
	EventExecutionWaiting   EventType = "EXECUTION_WAITING"
	EventExecutionResumed   EventType = "EXECUTION_RESUMED"
	EventNodeStarted        EventType = "NODE_STARTED"
	EventNodeCompleted      EventType = "NODE_COMPLETED"
	EventNodeFailed         EventType = "NODE_FAILED"
	EventApprovalCreated    EventType = "APPROVAL_CREATED"
	EventApprovalAction     EventType = "APPROVAL_ACTION"
	EventApprovalResolved   EventType = "APPROVAL_RESOLVED"
	EventFormSubmitted      EventType = "FORM_SUBMITTED"
)

// Event is one lifecycle notification. Events for a single execution reach
// each subscriber in publish order.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID uuid.UUID              `json:"executionId"`
	FlowID      uuid.UUID              `json:"flowId,omitempty"`
	Status      string                 `json:"status,omitempty"`
	NodeID      string                 `json:"nodeId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Encode returns the wire form pushed to subscribers.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// outputPreviewLimit caps how much node output is embedded in an event.
const outputPreviewLimit = 1000

// Preview truncates a node output for event payloads. Full outputs stay in
// the state store; events only carry a bounded sample.
func Preview(output map[string]interface{}) interface{} {
	if output == nil {
		return nil
	}
	buf, err := json.Marshal(output)
	if err != nil {
		return nil
	}
	if len(buf) <= outputPreviewLimit {
		return output
	}
	return map[string]interface{}{
		"truncated": true,
		"sample":    string(buf[:outputPreviewLimit]),
	}
}
