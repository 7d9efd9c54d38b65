package handlers

import (
	"net/http"

	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
)

// IdentityHandler handles registration and profile requests
type IdentityHandler struct {
	identities *services.IdentityService
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(identities *services.IdentityService) *IdentityHandler {
	return &IdentityHandler{identities: identities}
}

// Register handles POST /api/identities
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	identity, token, err := h.identities.Register(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"identity": identity,
		"token":    token,
	})
}

// Me handles GET /api/me
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	respondWithJSON(w, http.StatusOK, principal.Profile())
}
