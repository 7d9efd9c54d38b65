package providers

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// Claims are the identity and role asserted by the identity provider.
// They are trusted as-is.
type Claims struct {
	IdentityID string        `json:"identityId"`
	Role       entities.Role `json:"role"`
}

// IdentityProvider resolves opaque session tokens
type IdentityProvider interface {
	// Resolve returns the claims for token or an unauthorized error
	Resolve(ctx context.Context, token string) (*Claims, error)

	// Issue creates a session token for claims
	Issue(ctx context.Context, claims Claims) (string, error)

	// Revoke invalidates token
	Revoke(ctx context.Context, token string) error
}
