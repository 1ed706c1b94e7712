package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/engine/dag"
	"github.com/nodeflow-ai/nodeflow/internal/engine/scheduler"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/queue"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/validator"
)

// ExecutionService is the wire surface over the engine: it creates and
// queries execution rows and forwards control operations to the scheduler.
type ExecutionService struct {
	executions *repositories.ExecutionRepository
	archives   *repositories.ArchiveRepository
	flows      *FlowService
	queue      *queue.Client
	engine     *scheduler.Scheduler
}

func NewExecutionService(
	executions *repositories.ExecutionRepository,
	archives *repositories.ArchiveRepository,
	flows *FlowService,
	queueClient *queue.Client,
	engine *scheduler.Scheduler,
) *ExecutionService {
	return &ExecutionService{
		executions: executions,
		archives:   archives,
		flows:      flows,
		queue:      queueClient,
		engine:     engine,
	}
}

type CreateExecutionInput struct {
	FlowID         uuid.UUID `validate:"required"`
	FlowVersionID  *uuid.UUID
	TriggerType    string `validate:"required,oneof=manual scheduler webhook error form retry"`
	TriggeredBy    *uuid.UUID
	TriggerInput   models.JSON
	TriggerContext models.JSON
}

// Create records a pending execution against the published version (or an
// explicit one) and enqueues it for a worker.
func (s *ExecutionService) Create(ctx context.Context, input CreateExecutionInput) (*models.Execution, error) {
	if err := validator.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrValidation, err.Error())
	}

	var version *models.FlowVersion
	var err error
	if input.FlowVersionID != nil {
		version, err = s.flows.GetVersion(ctx, *input.FlowVersionID)
	} else {
		version, err = s.flows.PublishedVersion(ctx, input.FlowID)
	}
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: flow has no published version", errs.ErrValidation)
		}
		return nil, err
	}
	if version.FlowID != input.FlowID {
		return nil, fmt.Errorf("%w: version does not belong to flow", errs.ErrValidation)
	}

	execution := &models.Execution{
		FlowID:         input.FlowID,
		FlowVersionID:  version.ID,
		Status:         models.ExecutionStatusPending,
		TriggerType:    input.TriggerType,
		TriggeredBy:    input.TriggeredBy,
		TriggerInput:   input.TriggerInput,
		TriggerContext: input.TriggerContext,
	}
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueExecutionRun(ctx, execution.ID); err != nil {
		return nil, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	log.Info().
		Str("execution_id", execution.ID.String()).
		Str("flow_id", input.FlowID.String()).
		Str("trigger_type", input.TriggerType).
		Msg("Execution created")

	return execution, nil
}

func (s *ExecutionService) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	return s.executions.GetByID(ctx, id)
}

func (s *ExecutionService) List(ctx context.Context, flowID uuid.UUID, opts *repositories.ListOptions) ([]models.Execution, int64, error) {
	return s.executions.FindByFlowID(ctx, flowID, opts)
}

func (s *ExecutionService) GetNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	return s.executions.ListNodeExecutions(ctx, executionID)
}

// GetOutput returns the final output map, falling back to the archive when
// the live row has already been swept.
func (s *ExecutionService) GetOutput(ctx context.Context, executionID uuid.UUID) (models.JSON, error) {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err == nil {
		if !models.IsTerminalStatus(execution.Status) {
			return nil, fmt.Errorf("%w: execution is not finished", errs.ErrStateConflict)
		}
		return execution.OutputData, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	archive, archErr := s.archives.GetArchive(ctx, executionID)
	if archErr != nil {
		return nil, err
	}
	return archive.Output, nil
}

func (s *ExecutionService) Cancel(ctx context.Context, executionID uuid.UUID, reason string) error {
	return s.engine.CancelExecution(ctx, executionID, reason)
}

func (s *ExecutionService) Pause(ctx context.Context, executionID uuid.UUID, reason string) error {
	return s.engine.PauseExecution(ctx, executionID, reason)
}

func (s *ExecutionService) Resume(ctx context.Context, executionID uuid.UUID, data map[string]interface{}) error {
	return s.engine.ResumeExecution(ctx, executionID, data)
}

// Retry clones a terminal non-completed execution and enqueues the clone.
// The original row is left untouched.
func (s *ExecutionService) Retry(ctx context.Context, executionID uuid.UUID) (*models.Execution, error) {
	original, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !models.IsTerminalStatus(original.Status) || original.Status == models.ExecutionStatusCompleted {
		return nil, fmt.Errorf("%w: only failed or cancelled executions can be retried", errs.ErrStateConflict)
	}
	if original.RetryCount >= original.MaxRetries {
		return nil, fmt.Errorf("%w: retry limit reached", errs.ErrStateConflict)
	}

	retry := &models.Execution{
		FlowID:         original.FlowID,
		FlowVersionID:  original.FlowVersionID,
		Status:         models.ExecutionStatusPending,
		TriggerType:    models.TriggerRetry,
		TriggeredBy:    original.TriggeredBy,
		TriggerInput:   original.TriggerInput,
		TriggerContext: original.TriggerContext,
		RetryCount:     original.RetryCount + 1,
		MaxRetries:     original.MaxRetries,
		RetryOf:        &original.ID,
	}
	if err := s.executions.Create(ctx, retry); err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueExecutionRun(ctx, retry.ID); err != nil {
		return nil, fmt.Errorf("failed to enqueue retry: %w", err)
	}
	return retry, nil
}

// Preview parses a definition without executing it: order, dependencies,
// entry points and warnings.
func (s *ExecutionService) Preview(ctx context.Context, definition models.JSON) (*dag.ParseResult, error) {
	def, err := dag.FromMap(definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrValidation, err.Error())
	}
	return dag.Parse(def), nil
}

// RecoverStale fails executions stuck in running past the threshold, e.g.
// after a worker crash. Returns how many were failed.
func (s *ExecutionService) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	stale, err := s.executions.FindStale(ctx, threshold, time.Now())
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, execution := range stale {
		msg := "execution abandoned: no progress past stale threshold"
		now := time.Now()
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = &msg
		execution.CompletedAt = &now
		if execution.StartedAt != nil {
			duration := now.Sub(*execution.StartedAt).Milliseconds()
			execution.DurationMs = &duration
		}
		if err := s.executions.Update(ctx, execution); err != nil {
			log.Error().Err(err).
				Str("execution_id", execution.ID.String()).
				Msg("Failed to recover stale execution")
			continue
		}
		recovered++
	}
	return recovered, nil
}
