package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/random"
)

// Store is the persistence the coordinator needs.
type Store interface {
	GetByFlowNode(ctx context.Context, flowID uuid.UUID, nodeID string) (*models.FormTrigger, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.FormTrigger, error)
	GetByToken(ctx context.Context, token string) (*models.FormTrigger, error)
	Create(ctx context.Context, trigger *models.FormTrigger) error
	Update(ctx context.Context, trigger *models.FormTrigger) error
	// CreateSubmission must fail with a conflict when the
	// (executionID, nodeID) pair already has a submission.
	CreateSubmission(ctx context.Context, submission *models.FormSubmission) error
	HasSubmission(ctx context.Context, executionID uuid.UUID, nodeID string) (bool, error)
	FindActiveExpired(ctx context.Context, now time.Time) ([]*models.FormTrigger, error)
}

// Submission notifies the scheduler that a paused execution got its form
// data and can resume.
type Submission struct {
	ExecutionID uuid.UUID
	NodeID      string
	Data        map[string]interface{}
}

// Coordinator manages token-gated form triggers and the submissions that
// unblock paused executions.
type Coordinator struct {
	store     Store
	bus       *events.Bus
	clock     clock.Clock
	submitted chan Submission
}

func NewCoordinator(store Store, bus *events.Bus, clk clock.Clock) *Coordinator {
	return &Coordinator{
		store:     store,
		bus:       bus,
		clock:     clk,
		submitted: make(chan Submission, 64),
	}
}

// Submitted is the stream of accepted form submissions.
func (c *Coordinator) Submitted() <-chan Submission {
	return c.submitted
}

// CreateOrUpdate registers a form trigger for (flowID, nodeID). An existing
// row keeps its token; only config and limits change.
func (c *Coordinator) CreateOrUpdate(ctx context.Context, flowID uuid.UUID, nodeID string, config models.JSON, expiresInDays, maxSubmissions int, createdBy uuid.UUID) (*models.FormTrigger, error) {
	if maxSubmissions < 0 {
		return nil, fmt.Errorf("%w: maxSubmissions cannot be negative", errs.ErrValidation)
	}

	var expiresAt *time.Time
	if expiresInDays > 0 {
		t := c.clock.Now().AddDate(0, 0, expiresInDays)
		expiresAt = &t
	}

	existing, err := c.store.GetByFlowNode(ctx, flowID, nodeID)
	if err == nil {
		existing.Config = config
		existing.MaxSubmissions = maxSubmissions
		existing.ExpiresAt = expiresAt
		existing.IsActive = true
		if err := c.store.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update form trigger: %w", err)
		}
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	token, err := random.FormToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate form token: %w", err)
	}
	trigger := &models.FormTrigger{
		FlowID:         flowID,
		NodeID:         nodeID,
		FormToken:      token,
		Config:         config,
		IsActive:       true,
		MaxSubmissions: maxSubmissions,
		ExpiresAt:      expiresAt,
		CreatedBy:      createdBy,
	}
	if err := c.store.Create(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to create form trigger: %w", err)
	}
	return trigger, nil
}

// GetByToken resolves a trigger from its public token.
func (c *Coordinator) GetByToken(ctx context.Context, token string) (*models.FormTrigger, error) {
	return c.store.GetByToken(ctx, token)
}

// Submit records a form submission for a paused execution. Exactly one
// submission is accepted per (executionID, nodeID).
func (c *Coordinator) Submit(ctx context.Context, token string, executionID uuid.UUID, nodeID string, data models.JSON, submittedBy *uuid.UUID, ip *string) (*models.FormSubmission, error) {
	trigger, err := c.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.checkAcceptable(trigger); err != nil {
		return nil, err
	}

	exists, err := c.store.HasSubmission(ctx, executionID, nodeID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: form already submitted for this execution", errs.ErrStateConflict)
	}

	submission := &models.FormSubmission{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Data:        data,
		SubmittedBy: submittedBy,
		SubmittedIP: ip,
	}
	if err := c.store.CreateSubmission(ctx, submission); err != nil {
		return nil, fmt.Errorf("failed to record form submission: %w", err)
	}

	trigger.SubmissionCount++
	if trigger.MaxSubmissions > 0 && trigger.SubmissionCount >= trigger.MaxSubmissions {
		trigger.IsActive = false
	}
	if err := c.store.Update(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to update form trigger: %w", err)
	}

	c.bus.Publish(events.Event{
		Type:        events.EventFormSubmitted,
		ExecutionID: executionID,
		FlowID:      trigger.FlowID,
		NodeID:      nodeID,
		Data: map[string]interface{}{
			"form_trigger_id": trigger.ID.String(),
		},
		Timestamp: c.clock.Now(),
	})
	c.submitted <- Submission{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Data:        data,
	}
	return submission, nil
}

// RegenerateToken rotates a trigger's token. The old token stops working
// immediately.
func (c *Coordinator) RegenerateToken(ctx context.Context, triggerID uuid.UUID) (*models.FormTrigger, error) {
	trigger, err := c.store.GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	token, err := random.FormToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate form token: %w", err)
	}
	trigger.FormToken = token
	if err := c.store.Update(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to rotate form token: %w", err)
	}
	return trigger, nil
}

// Deactivate disables a trigger without deleting its history.
func (c *Coordinator) Deactivate(ctx context.Context, triggerID uuid.UUID) error {
	trigger, err := c.store.GetByID(ctx, triggerID)
	if err != nil {
		return err
	}
	if !trigger.IsActive {
		return nil
	}
	trigger.IsActive = false
	if err := c.store.Update(ctx, trigger); err != nil {
		return fmt.Errorf("failed to deactivate form trigger: %w", err)
	}
	return nil
}

// SweepExpired deactivates active triggers past their expiry. Returns how
// many were deactivated.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	expired, err := c.store.FindActiveExpired(ctx, c.clock.Now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, trigger := range expired {
		trigger.IsActive = false
		if err := c.store.Update(ctx, trigger); err != nil {
			return count, fmt.Errorf("failed to deactivate form trigger %s: %w", trigger.ID, err)
		}
		count++
	}
	return count, nil
}

func (c *Coordinator) checkAcceptable(trigger *models.FormTrigger) error {
	if !trigger.IsActive {
		return fmt.Errorf("%w: form trigger is inactive", errs.ErrStateConflict)
	}
	if trigger.ExpiresAt != nil && c.clock.Now().After(*trigger.ExpiresAt) {
		return fmt.Errorf("%w: form trigger expired at %s", errs.ErrExpired, trigger.ExpiresAt.Format(time.RFC3339))
	}
	if trigger.MaxSubmissions > 0 && trigger.SubmissionCount >= trigger.MaxSubmissions {
		return fmt.Errorf("%w: submission limit reached", errs.ErrStateConflict)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
