package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
)

// Store is the persistence the coordinator needs.
type Store interface {
	Create(ctx context.Context, approval *models.ExecutionApproval) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExecutionApproval, error)
	Update(ctx context.Context, approval *models.ExecutionApproval) error
	// CreateAction persists an action; it must fail with a conflict when the
	// (approvalID, userID) pair already acted.
	CreateAction(ctx context.Context, action *models.ApprovalAction) error
	HasUserActed(ctx context.Context, approvalID, userID uuid.UUID) (bool, error)
	FindExpired(ctx context.Context, now time.Time) ([]*models.ExecutionApproval, error)
	FindPendingByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionApproval, error)
}

// Resolution is the coordinator's verdict after an action or sweep.
type Resolution struct {
	ApprovalID  uuid.UUID
	ExecutionID uuid.UUID
	NodeID      string
	Status      string // approved | rejected | expired | cancelled
}

// Coordinator runs the multi-user approval state machine. Resolutions are
// reported through the resolved channel, which the scheduler consumes to
// un-suspend executions.
type Coordinator struct {
	store    Store
	bus      *events.Bus
	clock    clock.Clock
	resolved chan Resolution
}

func NewCoordinator(store Store, bus *events.Bus, clk clock.Clock) *Coordinator {
	return &Coordinator{
		store:    store,
		bus:      bus,
		clock:    clk,
		resolved: make(chan Resolution, 64),
	}
}

// Resolved is the stream of terminal approval outcomes.
func (c *Coordinator) Resolved() <-chan Resolution {
	return c.resolved
}

// CreateRequest describes a new approval gate.
type CreateRequest struct {
	ExecutionID       uuid.UUID
	NodeID            string
	ApprovalMode      string
	RequiredApprovers int
	Message           *string
	Metadata          models.JSON
	ExpiresAt         *time.Time
}

// Create opens a pending approval for a suspended execution.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*models.ExecutionApproval, error) {
	mode := req.ApprovalMode
	if mode == "" {
		mode = models.ApprovalModeAny
	}
	switch mode {
	case models.ApprovalModeAny, models.ApprovalModeAll, models.ApprovalModeMajority:
	default:
		return nil, fmt.Errorf("%w: unknown approval mode %q", errs.ErrValidation, mode)
	}
	if req.RequiredApprovers < 1 {
		return nil, fmt.Errorf("%w: requiredApprovers must be at least 1", errs.ErrValidation)
	}

	approval := &models.ExecutionApproval{
		ExecutionID:       req.ExecutionID,
		NodeID:            req.NodeID,
		Status:            models.ApprovalStatusPending,
		ApprovalMode:      mode,
		ApprovalType:      "manual",
		RequiredApprovers: req.RequiredApprovers,
		Message:           req.Message,
		Metadata:          req.Metadata,
		ExpiresAt:         req.ExpiresAt,
	}
	if err := c.store.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	c.bus.Publish(events.Event{
		Type:        events.EventApprovalCreated,
		ExecutionID: approval.ExecutionID,
		NodeID:      approval.NodeID,
		Data: map[string]interface{}{
			"approval_id":        approval.ID.String(),
			"approval_mode":      approval.ApprovalMode,
			"required_approvers": approval.RequiredApprovers,
		},
		Timestamp: c.clock.Now(),
	})
	return approval, nil
}

// Get returns an approval by id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.ExecutionApproval, error) {
	return c.store.GetByID(ctx, id)
}

// Submit records one user's decision. It refuses actions on non-pending or
// expired approvals and repeat actions by the same user. When the action
// resolves the approval, the resolution is emitted.
func (c *Coordinator) Submit(ctx context.Context, approvalID, userID uuid.UUID, action string, comment *string) (*models.ExecutionApproval, error) {
	if action != models.ApprovalActionApprove && action != models.ApprovalActionReject {
		return nil, fmt.Errorf("%w: unknown action %q", errs.ErrValidation, action)
	}

	approval, err := c.store.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("%w: approval is %s", errs.ErrStateConflict, approval.Status)
	}

	// Lazy expiry check; the sweep covers approvals nobody touches.
	if approval.ExpiresAt != nil && c.clock.Now().After(*approval.ExpiresAt) {
		c.expire(ctx, approval)
		return nil, fmt.Errorf("%w: approval expired at %s", errs.ErrExpired, approval.ExpiresAt.Format(time.RFC3339))
	}

	acted, err := c.store.HasUserActed(ctx, approvalID, userID)
	if err != nil {
		return nil, err
	}
	if acted {
		return nil, fmt.Errorf("%w: user already acted on this approval", errs.ErrStateConflict)
	}

	if err := c.store.CreateAction(ctx, &models.ApprovalAction{
		ApprovalID: approvalID,
		UserID:     userID,
		Action:     action,
		Comment:    comment,
	}); err != nil {
		return nil, fmt.Errorf("failed to record approval action: %w", err)
	}

	if action == models.ApprovalActionApprove {
		approval.ApprovedCount++
	} else {
		approval.RejectedCount++
	}

	c.bus.Publish(events.Event{
		Type:        events.EventApprovalAction,
		ExecutionID: approval.ExecutionID,
		NodeID:      approval.NodeID,
		Data: map[string]interface{}{
			"approval_id": approval.ID.String(),
			"user_id":     userID.String(),
			"action":      action,
		},
		Timestamp: c.clock.Now(),
	})

	if status := resolve(approval); status != "" {
		approval.Status = status
		now := c.clock.Now()
		approval.ResolvedAt = &now
	}
	if err := c.store.Update(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to update approval: %w", err)
	}
	if approval.ResolvedAt != nil {
		c.emitResolved(approval)
	}
	return approval, nil
}

// Cancel marks a pending approval cancelled, e.g. when its execution is
// cancelled.
func (c *Coordinator) Cancel(ctx context.Context, approvalID uuid.UUID) error {
	approval, err := c.store.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	if approval.Status != models.ApprovalStatusPending {
		return fmt.Errorf("%w: approval is %s", errs.ErrStateConflict, approval.Status)
	}
	approval.Status = models.ApprovalStatusCancelled
	now := c.clock.Now()
	approval.ResolvedAt = &now
	if err := c.store.Update(ctx, approval); err != nil {
		return fmt.Errorf("failed to cancel approval: %w", err)
	}
	c.emitResolved(approval)
	return nil
}

// CancelForExecution cancels all pending approvals of one execution without
// emitting resolutions; the execution is already going down.
func (c *Coordinator) CancelForExecution(ctx context.Context, executionID uuid.UUID) error {
	pending, err := c.store.FindPendingByExecution(ctx, executionID)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, approval := range pending {
		approval.Status = models.ApprovalStatusCancelled
		approval.ResolvedAt = &now
		if err := c.store.Update(ctx, approval); err != nil {
			return fmt.Errorf("failed to cancel approval %s: %w", approval.ID, err)
		}
	}
	return nil
}

// SweepExpired marks overdue pending approvals expired and emits their
// resolutions. Returns how many were expired.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	expired, err := c.store.FindExpired(ctx, c.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, approval := range expired {
		c.expire(ctx, approval)
	}
	return len(expired), nil
}

func (c *Coordinator) expire(ctx context.Context, approval *models.ExecutionApproval) {
	approval.Status = models.ApprovalStatusExpired
	now := c.clock.Now()
	approval.ResolvedAt = &now
	if err := c.store.Update(ctx, approval); err != nil {
		log.Error().Err(err).
			Str("approval_id", approval.ID.String()).
			Msg("failed to expire approval")
		return
	}
	c.emitResolved(approval)
}

func (c *Coordinator) emitResolved(approval *models.ExecutionApproval) {
	c.bus.Publish(events.Event{
		Type:        events.EventApprovalResolved,
		ExecutionID: approval.ExecutionID,
		NodeID:      approval.NodeID,
		Status:      approval.Status,
		Data: map[string]interface{}{
			"approval_id":    approval.ID.String(),
			"approved_count": approval.ApprovedCount,
			"rejected_count": approval.RejectedCount,
		},
		Timestamp: c.clock.Now(),
	})
	c.resolved <- Resolution{
		ApprovalID:  approval.ID,
		ExecutionID: approval.ExecutionID,
		NodeID:      approval.NodeID,
		Status:      approval.Status,
	}
}

// resolve applies the quorum rules and returns the terminal status, or ""
// while the approval stays pending.
func resolve(a *models.ExecutionApproval) string {
	switch a.ApprovalMode {
	case models.ApprovalModeAny:
		if a.ApprovedCount > 0 {
			return models.ApprovalStatusApproved
		}
		if a.RejectedCount > 0 {
			return models.ApprovalStatusRejected
		}
	case models.ApprovalModeAll:
		if a.RejectedCount > 0 {
			return models.ApprovalStatusRejected
		}
		if a.ApprovedCount >= a.RequiredApprovers {
			return models.ApprovalStatusApproved
		}
	case models.ApprovalModeMajority:
		if a.ApprovedCount*2 > a.RequiredApprovers {
			return models.ApprovalStatusApproved
		}
		if a.RejectedCount*2 > a.RequiredApprovers {
			return models.ApprovalStatusRejected
		}
	}
	return ""
}
