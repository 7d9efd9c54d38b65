package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	redisclient "github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func TestStaticProvider(t *testing.T) {
	p, err := NewStaticProvider([]string{"tok-pat=p-1:patient", " tok-doc=doc-1:clinician"})
	require.NoError(t, err)
	ctx := context.Background()

	claims, err := p.Resolve(ctx, "tok-doc")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.IdentityID)
	assert.Equal(t, entities.RoleClinician, claims.Role)

	_, err = p.Resolve(ctx, "nope")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))

	token, err := p.Issue(ctx, providers.Claims{IdentityID: "p-2", Role: entities.RolePatient})
	require.NoError(t, err)
	claims, err = p.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "p-2", claims.IdentityID)

	require.NoError(t, p.Revoke(ctx, token))
	_, err = p.Resolve(ctx, token)
	assert.Error(t, err)
}

func TestStaticProvider_InvalidEntries(t *testing.T) {
	for _, entry := range []string{"novalue", "=p-1:patient", "tok=p-1", "tok=p-1:admin", "tok=:patient"} {
		_, err := NewStaticProvider([]string{entry})
		assert.Error(t, err, entry)
	}
}

func TestRedisSessionProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewRedisSessionProvider(redisclient.Wrap(rdb), "session:", time.Hour)
	ctx := context.Background()

	token, err := p.Issue(ctx, providers.Claims{IdentityID: "doc-1", Role: entities.RoleClinician})
	require.NoError(t, err)
	assert.True(t, mr.Exists("session:"+token))

	claims, err := p.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.IdentityID)
	assert.Equal(t, entities.RoleClinician, claims.Role)

	mr.FastForward(2 * time.Hour)
	_, err = p.Resolve(ctx, token)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))

	token, err = p.Issue(ctx, providers.Claims{IdentityID: "p-1", Role: entities.RolePatient})
	require.NoError(t, err)
	require.NoError(t, p.Revoke(ctx, token))
	_, err = p.Resolve(ctx, token)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))

	_, err = p.Issue(ctx, providers.Claims{IdentityID: "x", Role: "admin"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
