package approval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
)

type memStore struct {
	approvals map[uuid.UUID]*models.ExecutionApproval
	actions   map[uuid.UUID]map[uuid.UUID]*models.ApprovalAction
}

func newMemStore() *memStore {
	return &memStore{
		approvals: make(map[uuid.UUID]*models.ExecutionApproval),
		actions:   make(map[uuid.UUID]map[uuid.UUID]*models.ApprovalAction),
	}
}

func (s *memStore) Create(_ context.Context, approval *models.ExecutionApproval) error {
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	cp := *approval
	s.approvals[approval.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.ExecutionApproval, error) {
	approval, ok := s.approvals[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *approval
	return &cp, nil
}

func (s *memStore) Update(_ context.Context, approval *models.ExecutionApproval) error {
	if _, ok := s.approvals[approval.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *approval
	s.approvals[approval.ID] = &cp
	return nil
}

func (s *memStore) CreateAction(_ context.Context, action *models.ApprovalAction) error {
	byUser, ok := s.actions[action.ApprovalID]
	if !ok {
		byUser = make(map[uuid.UUID]*models.ApprovalAction)
		s.actions[action.ApprovalID] = byUser
	}
	if _, exists := byUser[action.UserID]; exists {
		return fmt.Errorf("%w: duplicate action", errs.ErrStateConflict)
	}
	byUser[action.UserID] = action
	return nil
}

func (s *memStore) HasUserActed(_ context.Context, approvalID, userID uuid.UUID) (bool, error) {
	_, ok := s.actions[approvalID][userID]
	return ok, nil
}

func (s *memStore) FindExpired(_ context.Context, now time.Time) ([]*models.ExecutionApproval, error) {
	var out []*models.ExecutionApproval
	for _, approval := range s.approvals {
		if approval.Status == models.ApprovalStatusPending &&
			approval.ExpiresAt != nil && approval.ExpiresAt.Before(now) {
			cp := *approval
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindPendingByExecution(_ context.Context, executionID uuid.UUID) ([]*models.ExecutionApproval, error) {
	var out []*models.ExecutionApproval
	for _, approval := range s.approvals {
		if approval.ExecutionID == executionID && approval.Status == models.ApprovalStatusPending {
			cp := *approval
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memStore, *clock.Fake) {
	t.Helper()
	store := newMemStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCoordinator(store, events.NewBus(16), clk)
	return c, store, clk
}

func mustCreate(t *testing.T, c *Coordinator, mode string, required int, expiresAt *time.Time) *models.ExecutionApproval {
	t.Helper()
	approval, err := c.Create(context.Background(), CreateRequest{
		ExecutionID:       uuid.New(),
		NodeID:            "approve-1",
		ApprovalMode:      mode,
		RequiredApprovers: required,
		ExpiresAt:         expiresAt,
	})
	require.NoError(t, err)
	return approval
}

func awaitResolution(t *testing.T, c *Coordinator) Resolution {
	t.Helper()
	select {
	case res := <-c.Resolved():
		return res
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
		return Resolution{}
	}
}

func TestCreateValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateRequest{ExecutionID: uuid.New(), NodeID: "n", ApprovalMode: "plurality", RequiredApprovers: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = c.Create(ctx, CreateRequest{ExecutionID: uuid.New(), NodeID: "n", RequiredApprovers: 0})
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Empty mode defaults to any.
	approval, err := c.Create(ctx, CreateRequest{ExecutionID: uuid.New(), NodeID: "n", RequiredApprovers: 1})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeAny, approval.ApprovalMode)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)
}

func TestAnyModeResolvesOnFirstAction(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAny, 3, nil)
	got, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	res := awaitResolution(t, c)
	assert.Equal(t, approval.ID, res.ApprovalID)
	assert.Equal(t, models.ApprovalStatusApproved, res.Status)

	rejected := mustCreate(t, c, models.ApprovalModeAny, 3, nil)
	got, err = c.Submit(ctx, rejected.ID, uuid.New(), models.ApprovalActionReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, got.Status)
}

func TestAllModeNeedsFullQuorum(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAll, 2, nil)

	got, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)

	got, err = c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
	assert.Equal(t, 2, got.ApprovedCount)
}

func TestAllModeSingleRejectShortCircuits(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAll, 3, nil)
	got, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, got.Status)
}

func TestMajorityMode(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeMajority, 3, nil)

	got, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)

	// Second approve out of 3 required is a strict majority.
	got, err = c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
}

func TestMajorityModeRejects(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeMajority, 2, nil)

	got, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)

	got, err = c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, got.Status)
}

func TestSubmitRejectsRepeatUser(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAll, 3, nil)
	user := uuid.New()

	_, err := c.Submit(ctx, approval.ID, user, models.ApprovalActionApprove, nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, approval.ID, user, models.ApprovalActionApprove, nil)
	assert.ErrorIs(t, err, errs.ErrStateConflict)
}

func TestSubmitRejectsUnknownAction(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	approval := mustCreate(t, c, models.ApprovalModeAny, 1, nil)
	_, err := c.Submit(context.Background(), approval.ID, uuid.New(), "abstain", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSubmitOnResolvedApprovalConflicts(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAny, 1, nil)
	_, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	assert.ErrorIs(t, err, errs.ErrStateConflict)
}

func TestSubmitLazyExpiry(t *testing.T) {
	c, store, clk := newTestCoordinator(t)
	ctx := context.Background()

	expires := clk.Now().Add(time.Hour)
	approval := mustCreate(t, c, models.ApprovalModeAny, 1, &expires)

	clk.Advance(2 * time.Hour)

	_, err := c.Submit(ctx, approval.ID, uuid.New(), models.ApprovalActionApprove, nil)
	assert.ErrorIs(t, err, errs.ErrExpired)

	stored, err := store.GetByID(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)

	res := awaitResolution(t, c)
	assert.Equal(t, models.ApprovalStatusExpired, res.Status)
}

func TestSweepExpired(t *testing.T) {
	c, store, clk := newTestCoordinator(t)
	ctx := context.Background()

	soon := clk.Now().Add(time.Minute)
	later := clk.Now().Add(time.Hour)
	overdue := mustCreate(t, c, models.ApprovalModeAny, 1, &soon)
	fresh := mustCreate(t, c, models.ApprovalModeAny, 1, &later)
	forever := mustCreate(t, c, models.ApprovalModeAny, 1, nil)

	clk.Advance(10 * time.Minute)

	n, err := c.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := store.GetByID(ctx, overdue.ID)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)
	stored, _ = store.GetByID(ctx, fresh.ID)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)
	stored, _ = store.GetByID(ctx, forever.ID)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)

	res := awaitResolution(t, c)
	assert.Equal(t, overdue.ID, res.ApprovalID)
}

func TestCancel(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	approval := mustCreate(t, c, models.ApprovalModeAny, 1, nil)
	require.NoError(t, c.Cancel(ctx, approval.ID))

	stored, _ := store.GetByID(ctx, approval.ID)
	assert.Equal(t, models.ApprovalStatusCancelled, stored.Status)

	res := awaitResolution(t, c)
	assert.Equal(t, models.ApprovalStatusCancelled, res.Status)

	// Cancelling twice is a conflict.
	assert.ErrorIs(t, c.Cancel(ctx, approval.ID), errs.ErrStateConflict)
}

func TestCancelForExecution(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	execID := uuid.New()
	first, err := c.Create(ctx, CreateRequest{ExecutionID: execID, NodeID: "a", RequiredApprovers: 1})
	require.NoError(t, err)
	second, err := c.Create(ctx, CreateRequest{ExecutionID: execID, NodeID: "b", RequiredApprovers: 1})
	require.NoError(t, err)
	unrelated := mustCreate(t, c, models.ApprovalModeAny, 1, nil)

	require.NoError(t, c.CancelForExecution(ctx, execID))

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored, _ := store.GetByID(ctx, id)
		assert.Equal(t, models.ApprovalStatusCancelled, stored.Status)
	}
	stored, _ := store.GetByID(ctx, unrelated.ID)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)

	// No resolutions are emitted for execution-level cancellation.
	select {
	case res := <-c.Resolved():
		t.Fatalf("unexpected resolution %+v", res)
	default:
	}
}
