package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	tokenKey     contextKey = "session_token"
)

// Authenticator resolves a bearer token to a principal
type Authenticator interface {
	Resolve(ctx context.Context, token string) (entities.Principal, error)
}

// RequireAuth rejects requests without a valid session token. EventSource
// clients cannot set headers, so the token may also arrive as access_token.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			principal, err := auth.Resolve(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				message := "authentication required"
				if !apperrors.IsType(err, apperrors.ErrorTypeUnauthorized) {
					status = http.StatusInternalServerError
					message = "failed to resolve session"
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal, token)))
		})
	}
}

// PrincipalFromContext returns the authenticated principal
func PrincipalFromContext(ctx context.Context) (entities.Principal, bool) {
	p, ok := ctx.Value(principalKey).(entities.Principal)
	return p, ok && p != nil
}

// SessionFromContext returns the session token the request authenticated with
func SessionFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// WithPrincipal attaches a principal and session to ctx
func WithPrincipal(ctx context.Context, principal entities.Principal, session string) context.Context {
	ctx = context.WithValue(ctx, principalKey, principal)
	return context.WithValue(ctx, tokenKey, session)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
