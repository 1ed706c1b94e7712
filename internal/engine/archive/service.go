package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/state"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/metrics"
)

// Store is the persistence the archival service needs.
type Store interface {
	// FindArchivable returns terminal executions whose completedAt is before
	// the cutoff, up to limit rows.
	FindArchivable(ctx context.Context, completedBefore time.Time, limit int) ([]*models.Execution, error)
	GetNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error)
	// FlowInfo returns the denormalized flow name and version number for an
	// execution.
	FlowInfo(ctx context.Context, flowVersionID uuid.UUID) (name string, version int, err error)
	CreateArchive(ctx context.Context, archive *models.ExecutionArchive) error
	// DeleteExecution removes the live execution row and its node execution
	// rows.
	DeleteExecution(ctx context.Context, executionID uuid.UUID) error
	DeleteArchivesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetArchive(ctx context.Context, executionID uuid.UUID) (*models.ExecutionArchive, error)
}

// Config controls sweep behavior.
type Config struct {
	RetentionDays int           // purge archives older than this
	BatchSize     int           // max executions per sweep
	MinAge        time.Duration // leave fresh terminal executions alone
}

// Service moves terminal executions into compact archive rows and purges
// archives past retention.
type Service struct {
	store Store
	state state.Store
	clock clock.Clock
	cfg   Config
}

func NewService(store Store, stateStore state.Store, clk clock.Clock, cfg Config) *Service {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{store: store, state: stateStore, clock: clk, cfg: cfg}
}

// Sweep archives one batch of terminal executions. Failures on individual
// executions are logged and skipped; the batch continues.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.MinAge)
	executions, err := s.store.FindArchivable(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list archivable executions: %w", err)
	}

	archived := 0
	for _, execution := range executions {
		if err := s.ArchiveExecution(ctx, execution); err != nil {
			log.Error().Err(err).
				Str("execution_id", execution.ID.String()).
				Msg("failed to archive execution")
			continue
		}
		archived++
	}
	return archived, nil
}

// ArchiveExecution snapshots one terminal execution, deletes its live rows
// and drops its scratch state. The archive row is written before anything
// is deleted so a crash between the two steps loses nothing.
func (s *Service) ArchiveExecution(ctx context.Context, execution *models.Execution) error {
	if !models.IsTerminalStatus(execution.Status) {
		return fmt.Errorf("execution %s is not terminal", execution.ID)
	}

	nodeExecs, err := s.store.GetNodeExecutions(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load node executions: %w", err)
	}
	flowName, flowVersion, err := s.store.FlowInfo(ctx, execution.FlowVersionID)
	if err != nil {
		return fmt.Errorf("failed to load flow info: %w", err)
	}

	archive := &models.ExecutionArchive{
		ExecutionID:    execution.ID,
		FlowID:         execution.FlowID,
		FlowName:       flowName,
		FlowVersion:    flowVersion,
		Status:         execution.Status,
		TriggerType:    execution.TriggerType,
		TriggerInput:   execution.TriggerInput,
		Output:         execution.OutputData,
		NodeExecutions: encodeNodeExecutions(nodeExecs),
		ErrorMessage:   execution.ErrorMessage,
		StartedAt:      execution.StartedAt,
		CompletedAt:    execution.CompletedAt,
		DurationMs:     execution.DurationMs,
		ArchivedAt:     s.clock.Now(),
	}
	if err := s.store.CreateArchive(ctx, archive); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	if err := s.store.DeleteExecution(ctx, execution.ID); err != nil {
		return fmt.Errorf("failed to delete live execution: %w", err)
	}
	if err := s.state.CleanupExecution(ctx, execution.ID); err != nil {
		log.Warn().Err(err).
			Str("execution_id", execution.ID.String()).
			Msg("failed to cleanup execution state")
	}

	metrics.ExecutionsArchived.Inc()
	log.Info().
		Str("execution_id", execution.ID.String()).
		Str("status", execution.Status).
		Msg("execution archived")
	return nil
}

// SweepRetention deletes archives older than the retention window.
func (s *Service) SweepRetention(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.store.DeleteArchivesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge archives: %w", err)
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("purged expired archives")
	}
	return deleted, nil
}

// GetArchive returns the archived snapshot of an execution.
func (s *Service) GetArchive(ctx context.Context, executionID uuid.UUID) (*models.ExecutionArchive, error) {
	return s.store.GetArchive(ctx, executionID)
}

// encodeNodeExecutions lays node executions out as a nodeId-keyed map so the
// archive stays queryable without the original rows.
func encodeNodeExecutions(nodeExecs []*models.NodeExecution) models.JSON {
	result := make(models.JSON, len(nodeExecs))
	for _, ne := range nodeExecs {
		// Round-trip through JSON keeps the archive shape aligned with the
		// row's wire form.
		buf, err := json.Marshal(ne)
		if err != nil {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal(buf, &entry); err != nil {
			continue
		}
		result[ne.NodeID] = entry
	}
	return result
}
