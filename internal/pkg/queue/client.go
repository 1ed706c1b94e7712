package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nodeflow-ai/nodeflow/internal/pkg/config"
)

const (
	TypeExecutionRun    = "execution:run"
	TypeExecutionResume = "execution:resume"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.RedisConfig) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecutionRunPayload starts a pending execution on a worker.
type ExecutionRunPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

func (c *Client) EnqueueExecutionRun(ctx context.Context, executionID uuid.UUID) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(ExecutionRunPayload{ExecutionID: executionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeExecutionRun, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)

	return c.client.EnqueueContext(ctx, task)
}

// ExecutionResumePayload re-arms a waiting execution after a timed wait.
type ExecutionResumePayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// ScheduleResume satisfies the scheduler's delayer: wait nodes whose delay
// outlives the process are resumed through the queue instead of a timer.
func (c *Client) ScheduleResume(ctx context.Context, executionID uuid.UUID, delay time.Duration) error {
	data, err := json.Marshal(ExecutionResumePayload{ExecutionID: executionID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeExecutionResume, data,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.ProcessIn(delay),
	)

	_, err = c.client.EnqueueContext(ctx, task)
	return err
}
