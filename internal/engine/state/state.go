package state

import (
	"context"

	"github.com/google/uuid"
)

// Store is per-execution scratch memory that outlives suspensions. A read
// after a write within the same execution always observes the write.
type Store interface {
	// InitExecution creates the entry for an execution. Idempotent; an
	// existing entry is left untouched.
	InitExecution(ctx context.Context, execID uuid.UUID, initial map[string]interface{}) error

	// RecordNodeOutput stores a completed node's output atomically.
	RecordNodeOutput(ctx context.Context, execID uuid.UUID, nodeID string, output map[string]interface{}) error

	// GetNodeOutput returns a node's recorded output. ok is false when the
	// node has not completed.
	GetNodeOutput(ctx context.Context, execID uuid.UUID, nodeID string) (map[string]interface{}, bool, error)

	// RecordBranchDecision stores which outbound handles a branching node
	// selected.
	RecordBranchDecision(ctx context.Context, execID uuid.UUID, nodeID string, branches []string) error

	// GetBranchDecision returns the selected handles for a branching node.
	GetBranchDecision(ctx context.Context, execID uuid.UUID, nodeID string) ([]string, bool, error)

	// UpdateExecutionStatus records the execution's current status.
	UpdateExecutionStatus(ctx context.Context, execID uuid.UUID, status string) error

	// GetExecutionStatus returns the last recorded status.
	GetExecutionStatus(ctx context.Context, execID uuid.UUID) (string, bool, error)

	// GetExecutionOutput returns all node outputs keyed by node id.
	GetExecutionOutput(ctx context.Context, execID uuid.UUID) (map[string]interface{}, error)

	// CleanupExecution removes all state for an execution. Idempotent.
	CleanupExecution(ctx context.Context, execID uuid.UUID) error
}
