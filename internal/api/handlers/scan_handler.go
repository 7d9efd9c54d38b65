package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// ScanHandler handles scan record HTTP requests
type ScanHandler struct {
	scans    *services.ScanService
	sessions *services.SessionStore
	maxBytes int64
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scans *services.ScanService, sessions *services.SessionStore, maxUploadBytes int64) *ScanHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ScanHandler{scans: scans, sessions: sessions, maxBytes: maxUploadBytes}
}

// Upload handles POST /api/scans. The image arrives as the multipart field
// "image" or as the raw request body.
func (h *ScanHandler) Upload(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBytes+1<<10)
	ownerID := r.URL.Query().Get("ownerId")
	var (
		data        []byte
		contentType string
		err         error
	)
	if isMultipart(r) {
		r.Body = body
		if err := r.ParseMultipartForm(h.maxBytes); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid multipart upload")
			return
		}
		file, header, ferr := r.FormFile("image")
		if ferr != nil {
			respondWithError(w, http.StatusBadRequest, "image field is required")
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		contentType = header.Header.Get("Content-Type")
		if v := r.FormValue("ownerId"); v != "" {
			ownerID = v
		}
	} else {
		data, err = io.ReadAll(body)
		contentType = r.Header.Get("Content-Type")
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	record, err := h.scans.Upload(r.Context(), viewer, ownerID, data, contentType)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, record.View())
}

// List handles GET /api/scans
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	records, err := h.scans.List(r.Context(), viewer, queryInt(r, "limit", 0, 500), queryInt(r, "offset", 0, 0))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"scans": views(records),
		"count": len(records),
		"mode":  viewer.Mode(),
	})
}

// Stats handles GET /api/scans/stats
func (h *ScanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	stats, err := h.scans.Stats(r.Context(), viewer)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/scans/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	record, err := h.scans.Get(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, record.View())
}

// Image handles GET /api/scans/{id}/image. Presigned storage URLs are
// followed by redirect; otherwise the bytes are streamed.
func (h *ScanHandler) Image(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := r.PathValue("id")

	if r.URL.Query().Get("redirect") == "true" {
		url, err := h.scans.ImageURL(r.Context(), viewer, id)
		if err != nil {
			respondWithAppError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	data, contentType, err := h.scans.Image(r.Context(), viewer, id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Timeline handles GET /api/patients/{id}/timeline
func (h *ScanHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	entries, err := h.scans.Timeline(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"timeline": entries,
		"count":    len(entries),
	})
}

// Correct handles POST /api/scans/{id}/correction
func (h *ScanHandler) Correct(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var input services.CorrectionInput
	if err := decodeJSON(r, &input); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	record, err := h.scans.Correct(r.Context(), viewer, r.PathValue("id"), input)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, record.View())
}

// Escalate handles POST /api/scans/{id}/escalate
func (h *ScanHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	record, err := h.scans.Escalate(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, record.View())
}

// Annotate handles PUT /api/scans/{id}/notes
func (h *ScanHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	record, err := h.scans.Annotate(r.Context(), viewer, r.PathValue("id"), body.Notes)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, record.View())
}

// Reanalyze handles POST /api/scans/{id}/reanalyze
func (h *ScanHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	record, err := h.scans.RequestReanalysis(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     record.ID,
		"status": entities.StatusAwaitingAnalysis,
	})
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
