package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/engine/dag"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/validator"
)

// FlowService owns flows and their immutable versions.
type FlowService struct {
	flows    *repositories.FlowRepository
	versions *repositories.FlowVersionRepository
}

func NewFlowService(flows *repositories.FlowRepository, versions *repositories.FlowVersionRepository) *FlowService {
	return &FlowService{flows: flows, versions: versions}
}

type CreateFlowInput struct {
	Name        string `validate:"required,min=1,max=255"`
	Description *string
	OwnerID     uuid.UUID `validate:"required"`
}

func (s *FlowService) Create(ctx context.Context, input CreateFlowInput) (*models.Flow, error) {
	if err := validator.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrValidation, err.Error())
	}

	flow := &models.Flow{
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     input.OwnerID,
	}
	if err := s.flows.Create(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

func (s *FlowService) GetByID(ctx context.Context, id uuid.UUID) (*models.Flow, error) {
	return s.flows.GetByID(ctx, id)
}

func (s *FlowService) List(ctx context.Context, ownerID uuid.UUID, opts *repositories.ListOptions) ([]models.Flow, int64, error) {
	return s.flows.FindByOwner(ctx, ownerID, opts)
}

func (s *FlowService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.flows.Delete(ctx, id)
}

// CreateVersion snapshots a definition as the next draft version. The
// definition must parse before it is accepted.
func (s *FlowService) CreateVersion(ctx context.Context, flowID uuid.UUID, definition models.JSON, settings models.JSON, createdBy uuid.UUID) (*models.FlowVersion, error) {
	if _, err := s.flows.GetByID(ctx, flowID); err != nil {
		return nil, err
	}

	def, err := dag.FromMap(definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrValidation, err.Error())
	}
	result := dag.Parse(def)
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", errs.ErrValidation, joinIssues(result.Errors))
	}

	number, err := s.versions.NextVersionNumber(ctx, flowID)
	if err != nil {
		return nil, err
	}

	version := &models.FlowVersion{
		FlowID:     flowID,
		Version:    number,
		Status:     models.FlowVersionDraft,
		Definition: definition,
		Settings:   settings,
		CreatedBy:  createdBy,
	}
	if err := s.versions.Create(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

func (s *FlowService) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.FlowVersion, error) {
	return s.versions.GetByID(ctx, versionID)
}

func (s *FlowService) ListVersions(ctx context.Context, flowID uuid.UUID) ([]models.FlowVersion, error) {
	return s.versions.FindByFlowID(ctx, flowID)
}

// Publish makes one version live, deprecating the current published one.
func (s *FlowService) Publish(ctx context.Context, flowID, versionID uuid.UUID) error {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if version.FlowID != flowID {
		return fmt.Errorf("%w: version does not belong to flow", errs.ErrValidation)
	}
	return s.versions.Publish(ctx, flowID, versionID)
}

// PublishedVersion resolves the currently published version of a flow.
func (s *FlowService) PublishedVersion(ctx context.Context, flowID uuid.UUID) (*models.FlowVersion, error) {
	return s.versions.FindPublished(ctx, flowID)
}

func joinIssues(issues []dag.Issue) string {
	msgs := make([]string, 0, len(issues))
	for _, issue := range issues {
		msgs = append(msgs, issue.Message)
	}
	return strings.Join(msgs, "; ")
}
