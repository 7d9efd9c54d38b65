package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// RedisSessionProvider stores session claims in Redis under prefix+token
type RedisSessionProvider struct {
	client *redisclient.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionProvider creates a provider; a zero ttl keeps sessions until revoked
func NewRedisSessionProvider(client *redisclient.Client, prefix string, ttl time.Duration) *RedisSessionProvider {
	return &RedisSessionProvider{client: client, prefix: prefix, ttl: ttl}
}

var _ providers.IdentityProvider = (*RedisSessionProvider)(nil)

func (p *RedisSessionProvider) key(token string) string {
	return p.prefix + token
}

func (p *RedisSessionProvider) Resolve(ctx context.Context, token string) (*providers.Claims, error) {
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("missing session token")
	}
	raw, err := p.client.Client().Get(ctx, p.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewUnauthorizedError("invalid or expired session token")
		}
		return nil, apperrors.NewUpstreamError("session store unavailable", err)
	}

	var claims providers.Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, apperrors.NewInternalError("corrupt session", err)
	}
	if !claims.Role.Valid() {
		return nil, apperrors.NewUnauthorizedError("session carries an unknown role")
	}
	return &claims, nil
}

func (p *RedisSessionProvider) Issue(ctx context.Context, claims providers.Claims) (string, error) {
	if claims.IdentityID == "" || !claims.Role.Valid() {
		return "", apperrors.NewValidationError("claims need an identity id and a known role")
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	token := uuid.NewString()
	if err := p.client.Client().Set(ctx, p.key(token), data, p.ttl).Err(); err != nil {
		return "", apperrors.NewUpstreamError("failed to store session", err)
	}
	return token, nil
}

func (p *RedisSessionProvider) Revoke(ctx context.Context, token string) error {
	if err := p.client.Client().Del(ctx, p.key(token)).Err(); err != nil {
		return apperrors.NewUpstreamError("failed to revoke session", err)
	}
	return nil
}
