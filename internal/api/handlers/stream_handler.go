package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
)

// StreamHandler serves Server-Sent Events for live record views
type StreamHandler struct {
	hub       *services.LiveHub
	scans     *services.ScanService
	sessions  *services.SessionStore
	directory *services.PatientDirectory
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *services.LiveHub, scans *services.ScanService, sessions *services.SessionStore, directory *services.PatientDirectory, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		hub:       hub,
		scans:     scans,
		sessions:  sessions,
		directory: directory,
		heartbeat: heartbeat,
	}
}

// StreamScans handles GET /api/stream/scans. The first event is the full
// visible snapshot; later events are upserts and removals against it.
func (h *StreamHandler) StreamScans(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	sub, snapshot, err := h.subscribe(r, viewer)
	if err != nil {
		log.Error().Err(err).Str("view", viewer.Key()).Msg("Failed to open live view")
		sendEvent(w, "error", map[string]string{"error": "failed to load records"})
		flusher.Flush()
		return
	}
	defer sub.Close()

	sendEvent(w, "snapshot", map[string]interface{}{
		"mode":      viewer.Mode(),
		"scans":     views(snapshot),
		"timestamp": time.Now(),
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sendEvent(w, "heartbeat", map[string]interface{}{"timestamp": time.Now()})
			flusher.Flush()
		case msg, ok := <-sub.Updates():
			if !ok {
				// Dropped for lagging or a session change; the client
				// reconnects and reloads the snapshot.
				sendEvent(w, "resync", map[string]interface{}{"timestamp": time.Now()})
				flusher.Flush()
				return
			}
			switch msg.Kind {
			case services.LiveUpsert:
				sendEvent(w, string(msg.Kind), msg.Record)
			case services.LiveRemove:
				sendEvent(w, string(msg.Kind), map[string]string{"id": msg.RecordID})
			case services.LiveNotification:
				sendEvent(w, string(msg.Kind), msg.Notification)
			}
			flusher.Flush()
		}
	}
}

// StreamStats handles GET /api/stream/stats. Counts are recomputed after
// every change that reaches the viewer.
func (h *StreamHandler) StreamStats(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	sub, _, err := h.subscribe(r, viewer)
	if err != nil {
		log.Error().Err(err).Str("view", viewer.Key()).Msg("Failed to open stats view")
		return
	}
	defer sub.Close()

	send := func() bool {
		stats, err := h.scans.Stats(r.Context(), viewer)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to compute scan stats")
			return false
		}
		sendEvent(w, "stats", stats)
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sendEvent(w, "heartbeat", map[string]interface{}{"timestamp": time.Now()})
			flusher.Flush()
		case msg, ok := <-sub.Updates():
			if !ok {
				return
			}
			if msg.Kind == services.LiveNotification {
				continue
			}
			if !send() {
				return
			}
		}
	}
}

// StreamPatients handles GET /api/stream/patients
func (h *StreamHandler) StreamPatients(w http.ResponseWriter, r *http.Request) {
	viewer, _, ok := requestViewer(r, h.sessions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !viewer.CanBrowsePatients() {
		respondWithError(w, http.StatusForbidden, "only clinicians may browse patients")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	updates := h.directory.Subscribe(r.Context())
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sendEvent(w, "heartbeat", map[string]interface{}{"timestamp": time.Now()})
			flusher.Flush()
		case patients, ok := <-updates:
			if !ok {
				return
			}
			sendEvent(w, "patients", map[string]interface{}{
				"patients": patients,
				"count":    len(patients),
			})
			flusher.Flush()
		}
	}
}

// subscribe opens a view tied to the request's session. A selection that
// changed while the view was opening closes it again at once.
func (h *StreamHandler) subscribe(r *http.Request, viewer visibility.Viewer) (*services.Subscription, []*entities.ScanRecord, error) {
	sessionID := middleware.SessionFromContext(r.Context())
	sub, snapshot, err := h.hub.Subscribe(r.Context(), sessionID, viewer, h.loader(viewer))
	if err != nil {
		return nil, nil, err
	}
	if h.sessions.Viewer(sessionID, viewer.Principal).Key() != viewer.Key() {
		sub.Close()
	}
	return sub, snapshot, nil
}

func (h *StreamHandler) loader(viewer visibility.Viewer) func(context.Context) ([]*entities.ScanRecord, error) {
	return func(ctx context.Context) ([]*entities.ScanRecord, error) {
		return h.scans.List(ctx, viewer, 0, 0)
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// sendEvent writes one SSE frame
func sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}
