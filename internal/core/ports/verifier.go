package ports

import (
	"context"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// CredentialVerifier validates a bearer credential and extracts the identity
// it was issued for. Errors wrap domain.ErrAuth.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// TokenDenylist reports whether a credential has been revoked (logout).
type TokenDenylist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}
