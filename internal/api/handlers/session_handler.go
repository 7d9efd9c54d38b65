package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
)

// SessionHandler handles the patient directory and active patient selection
type SessionHandler struct {
	sessions   *services.SessionStore
	directory  *services.PatientDirectory
	identities *services.IdentityService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionStore, directory *services.PatientDirectory, identities *services.IdentityService) *SessionHandler {
	return &SessionHandler{sessions: sessions, directory: directory, identities: identities}
}

// Patients handles GET /api/patients
func (h *SessionHandler) Patients(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !viewer.CanBrowsePatients() {
		respondWithError(w, http.StatusForbidden, "only clinicians may browse patients")
		return
	}

	patients := h.directory.List()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"patients": patients,
		"count":    len(patients),
	})
}

// Select handles PUT /api/session/selection
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		PatientID string `json:"patientId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	selection, err := h.sessions.Select(r.Context(), middleware.SessionFromContext(r.Context()), principal, body.PatientID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, selection)
}

// Current handles GET /api/session/selection
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	selection := h.sessions.Get(middleware.SessionFromContext(r.Context()), principal.Profile().ID)
	if selection == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondWithJSON(w, http.StatusOK, selection)
}

// ClearSelection handles DELETE /api/session/selection
func (h *SessionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(middleware.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	h.sessions.Logout(session)
	if err := h.identities.Revoke(r.Context(), session); err != nil {
		log.Warn().Err(err).Msg("Failed to revoke session token")
	}
	w.WriteHeader(http.StatusNoContent)
}
