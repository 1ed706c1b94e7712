package core

import (
	"context"

	"github.com/google/uuid"
)

// CredentialResolver is the external collaborator that decrypts stored
// credentials for node handlers. Implementations may fail with
// errs.ErrNotFound or errs.ErrPermissionDenied.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialID, userID uuid.UUID) (map[string]string, error)
	CanAccess(ctx context.Context, credentialID, userID uuid.UUID) (bool, error)
}
