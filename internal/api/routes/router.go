package routes

import (
	"net/http"

	"github.com/zatekoja/dermascan/internal/api/handlers"
	"github.com/zatekoja/dermascan/internal/api/middleware"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	identityHandler     *handlers.IdentityHandler
	sessionHandler      *handlers.SessionHandler
	scanHandler         *handlers.ScanHandler
	notificationHandler *handlers.NotificationHandler
	streamHandler       *handlers.StreamHandler

	auth           middleware.Authenticator
	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	identityHandler *handlers.IdentityHandler,
	sessionHandler *handlers.SessionHandler,
	scanHandler *handlers.ScanHandler,
	notificationHandler *handlers.NotificationHandler,
	streamHandler *handlers.StreamHandler,
	auth middleware.Authenticator,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                 http.NewServeMux(),
		identityHandler:     identityHandler,
		sessionHandler:      sessionHandler,
		scanHandler:         scanHandler,
		notificationHandler: notificationHandler,
		streamHandler:       streamHandler,
		auth:                auth,
		allowedOrigins:      allowedOrigins,
		metrics:             metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	r.mux.HandleFunc("POST /api/identities", r.identityHandler.Register)

	protected := middleware.RequireAuth(r.auth)
	handle := func(pattern string, h http.HandlerFunc) {
		r.mux.Handle(pattern, protected(h))
	}

	handle("GET /api/me", r.identityHandler.Me)

	// Patient directory and session focus
	handle("GET /api/patients", r.sessionHandler.Patients)
	handle("GET /api/patients/{id}/timeline", r.scanHandler.Timeline)
	handle("GET /api/session/selection", r.sessionHandler.Current)
	handle("PUT /api/session/selection", r.sessionHandler.Select)
	handle("DELETE /api/session/selection", r.sessionHandler.ClearSelection)
	handle("POST /api/session/logout", r.sessionHandler.Logout)

	// Scan records
	handle("POST /api/scans", r.scanHandler.Upload)
	handle("GET /api/scans", r.scanHandler.List)
	handle("GET /api/scans/stats", r.scanHandler.Stats)
	handle("GET /api/scans/{id}", r.scanHandler.Get)
	handle("GET /api/scans/{id}/image", r.scanHandler.Image)
	handle("POST /api/scans/{id}/correction", r.scanHandler.Correct)
	handle("POST /api/scans/{id}/escalate", r.scanHandler.Escalate)
	handle("PUT /api/scans/{id}/notes", r.scanHandler.Annotate)
	handle("POST /api/scans/{id}/reanalyze", r.scanHandler.Reanalyze)

	// Notifications
	handle("POST /api/devices", r.notificationHandler.RegisterDevice)
	handle("GET /api/notifications", r.notificationHandler.List)
	handle("POST /api/notifications/{id}/read", r.notificationHandler.MarkRead)

	// Live views
	if r.streamHandler != nil {
		handle("GET /api/stream/scans", r.streamHandler.StreamScans)
		handle("GET /api/stream/stats", r.streamHandler.StreamStats)
		handle("GET /api/stream/patients", r.streamHandler.StreamPatients)
	}

	// Apply middleware in reverse order (last middleware wraps first).
	// CORS is outermost so preflight requests never reach auth.
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
