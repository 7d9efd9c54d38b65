package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

func TestRespondWithAppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", apperrors.NewNotFoundError("scan not found"), http.StatusNotFound, "scan not found"},
		{"forbidden", apperrors.NewForbiddenError("no"), http.StatusForbidden, "no"},
		{"validation", apperrors.NewValidationError("bad"), http.StatusBadRequest, "bad"},
		{"already analyzed", apperrors.NewAlreadyAnalyzedError("s-1"), http.StatusConflict, ""},
		{"upstream", apperrors.NewUpstreamError("labeler down", errors.New("dial tcp")), http.StatusBadGateway, "labeler down"},
		{"wrapped", fmt.Errorf("loading: %w", apperrors.NewNotFoundError("gone")), http.StatusNotFound, "gone"},
		{"plain", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondWithAppError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.message != "" {
				assert.Equal(t, tt.message, body["error"])
			}
			assert.NotContains(t, body["error"], "pq:")
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=900&offset=-1&bad=abc", nil)
	assert.Equal(t, 500, queryInt(r, "limit", 50, 500))
	assert.Equal(t, 0, queryInt(r, "offset", 0, 0))
	assert.Equal(t, 7, queryInt(r, "bad", 7, 0))
	assert.Equal(t, 3, queryInt(r, "missing", 3, 0))
}
