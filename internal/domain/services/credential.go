package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/crypto"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
)

// CredentialService owns the credential lifecycle and implements the
// engine's resolver: handlers only ever see decrypted key/value pairs.
type CredentialService struct {
	repo      *repositories.CredentialRepository
	encryptor *crypto.Encryptor
}

func NewCredentialService(repo *repositories.CredentialRepository, encryptor *crypto.Encryptor) *CredentialService {
	return &CredentialService{repo: repo, encryptor: encryptor}
}

type CreateCredentialInput struct {
	OwnerID     uuid.UUID
	Name        string
	Type        string
	Data        map[string]string
	Description *string
}

func (s *CredentialService) Create(ctx context.Context, input CreateCredentialInput) (*models.Credential, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", errs.ErrValidation)
	}
	encrypted, err := s.seal(input.Data)
	if err != nil {
		return nil, err
	}

	credential := &models.Credential{
		OwnerID:     input.OwnerID,
		Name:        input.Name,
		Type:        input.Type,
		Data:        encrypted,
		Description: input.Description,
	}
	if err := s.repo.Create(ctx, credential); err != nil {
		return nil, err
	}
	return credential, nil
}

func (s *CredentialService) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *CredentialService) List(ctx context.Context, ownerID uuid.UUID, opts *repositories.ListOptions) ([]models.Credential, int64, error) {
	return s.repo.FindByOwner(ctx, ownerID, opts)
}

func (s *CredentialService) UpdateData(ctx context.Context, id uuid.UUID, data map[string]string) error {
	credential, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	encrypted, err := s.seal(data)
	if err != nil {
		return err
	}
	credential.Data = encrypted
	return s.repo.Update(ctx, credential)
}

func (s *CredentialService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Resolve satisfies the engine's credential resolver. Access is checked
// before decryption and usage is recorded after.
func (s *CredentialService) Resolve(ctx context.Context, credentialID, userID uuid.UUID) (map[string]string, error) {
	allowed, err := s.CanAccess(ctx, credentialID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: credential %s", errs.ErrPermissionDenied, credentialID)
	}

	credential, err := s.repo.GetByID(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.encryptor.Decrypt(credential.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential %s: %w", credentialID, err)
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("failed to decode credential %s: %w", credentialID, err)
	}

	_ = s.repo.UpdateLastUsed(ctx, credentialID)
	return data, nil
}

func (s *CredentialService) CanAccess(ctx context.Context, credentialID, userID uuid.UUID) (bool, error) {
	credential, err := s.repo.GetByID(ctx, credentialID)
	if err != nil {
		return false, err
	}
	return credential.OwnerID == userID, nil
}

func (s *CredentialService) seal(data map[string]string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential data: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential data: %w", err)
	}
	return encrypted, nil
}
