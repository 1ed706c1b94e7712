package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// ExecutionStore is the persistence the scheduler needs over execution and
// node execution rows.
type ExecutionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	Update(ctx context.Context, execution *models.Execution) error
	CreateNodeExecution(ctx context.Context, ne *models.NodeExecution) error
	UpdateNodeExecution(ctx context.Context, ne *models.NodeExecution) error
	ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error)
}

// FlowStore resolves flow version snapshots.
type FlowStore interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error)
}

// Config tunes the scheduler and its worker pool.
type Config struct {
	// PoolSize bounds concurrent node executions across all executions.
	PoolSize int
	// PerExecutionCap bounds in-flight nodes of one execution.
	PerExecutionCap int
	// DefaultNodeTimeout wraps each handler call unless the node config
	// overrides it.
	DefaultNodeTimeout time.Duration
	// EnvAllowList names environment variables templates may read.
	EnvAllowList []string
}

// outcome is what a worker reports back to the execution's run loop.
type outcome struct {
	nodeID   string
	result   *core.Result
	err      error
	duration time.Duration
	record   *models.NodeExecution
}

// resumeSignal re-arms a waiting execution. Data, when non-nil, completes
// the suspended node directly instead of re-executing it.
type resumeSignal struct {
	nodeID string
	data   map[string]interface{}
	// fail aborts the suspended node instead of resuming it, e.g. on
	// approval rejection or expiry.
	fail       bool
	failReason string
	failCode   string
}
