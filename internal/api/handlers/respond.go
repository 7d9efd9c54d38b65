package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

var statusByType = map[apperrors.ErrorType]int{
	apperrors.ErrorTypeNotFound:        http.StatusNotFound,
	apperrors.ErrorTypeForbidden:       http.StatusForbidden,
	apperrors.ErrorTypeConflict:        http.StatusConflict,
	apperrors.ErrorTypeAlreadyAnalyzed: http.StatusConflict,
	apperrors.ErrorTypeValidation:      http.StatusBadRequest,
	apperrors.ErrorTypeUnauthorized:    http.StatusUnauthorized,
	apperrors.ErrorTypeUpstream:        http.StatusBadGateway,
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps a service error to its HTTP status. Internal
// details are logged, never returned.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	errType := apperrors.TypeOf(err)
	status, ok := statusByType[errType]
	if !ok {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	respondWithJSON(w, status, map[string]string{
		"error": message,
		"code":  string(errType),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// requestViewer builds the viewer for the authenticated request
func requestViewer(r *http.Request, sessions *services.SessionStore) (visibility.Viewer, entities.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return visibility.Viewer{}, nil, false
	}
	return sessions.Viewer(middleware.SessionFromContext(r.Context()), principal), principal, true
}

func views(records []*entities.ScanRecord) []entities.ScanView {
	out := make([]entities.ScanView, 0, len(records))
	for _, r := range records {
		out = append(out, r.View())
	}
	return out
}
