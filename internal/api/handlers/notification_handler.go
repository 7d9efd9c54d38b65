package handlers

import (
	"net/http"

	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
)

// NotificationHandler handles device registration and the notification inbox
type NotificationHandler struct {
	inbox *services.InboxService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(inbox *services.InboxService) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// RegisterDevice handles POST /api/devices
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	device, err := h.inbox.RegisterDevice(r.Context(), principal, body.Token)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, device)
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	records, err := h.inbox.List(r.Context(), principal, queryInt(r, "limit", 50, 200))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	unread := 0
	for _, rec := range records {
		if !rec.Read {
			unread++
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
		"unread":        unread,
	})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.inbox.MarkRead(r.Context(), principal, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
