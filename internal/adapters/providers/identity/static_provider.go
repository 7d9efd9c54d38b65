package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// StaticProvider resolves tokens from a fixed table plus tokens issued at
// runtime. Intended for development and tests.
type StaticProvider struct {
	mu     sync.RWMutex
	tokens map[string]providers.Claims
}

// NewStaticProvider parses entries of the form token=identityId:role
func NewStaticProvider(entries []string) (*StaticProvider, error) {
	p := &StaticProvider{tokens: make(map[string]providers.Claims, len(entries))}
	for _, entry := range entries {
		token, rest, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("invalid static token entry %q", entry)
		}
		id, role, ok := strings.Cut(rest, ":")
		if !ok || id == "" || !entities.Role(role).Valid() {
			return nil, fmt.Errorf("invalid static token entry %q: want token=id:role", entry)
		}
		p.tokens[token] = providers.Claims{IdentityID: id, Role: entities.Role(role)}
	}
	return p, nil
}

var _ providers.IdentityProvider = (*StaticProvider)(nil)

func (p *StaticProvider) Resolve(_ context.Context, token string) (*providers.Claims, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	claims, ok := p.tokens[token]
	if !ok {
		return nil, apperrors.NewUnauthorizedError("invalid or expired session token")
	}
	return &claims, nil
}

func (p *StaticProvider) Issue(_ context.Context, claims providers.Claims) (string, error) {
	if claims.IdentityID == "" || !claims.Role.Valid() {
		return "", apperrors.NewValidationError("claims need an identity id and a known role")
	}
	token := uuid.NewString()
	p.mu.Lock()
	p.tokens[token] = claims
	p.mu.Unlock()
	return token, nil
}

func (p *StaticProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	delete(p.tokens, token)
	p.mu.Unlock()
	return nil
}
