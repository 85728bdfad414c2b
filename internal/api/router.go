package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/logout", s.handleLogout)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Get("/online", s.handleOnline)
			r.Post("/users", s.handleCreateUser)

			r.Post("/upload-content", s.handleUploadContent)
			r.Post("/get-key", s.handleGetKey)
			r.Get("/grant", s.handleGrant)
			r.Post("/authorize", s.handleAuthorize)

			r.Get("/kill-switch", s.handleGetKillSwitch)
			r.Post("/kill-switch", s.handleSetKillSwitch)
			r.Post("/revoke-session", s.handleRevokeSession)

			r.Get("/audit", s.handleListAudit)
			r.Get("/metrics", s.handleMetrics)
		})
	})

	r.With(s.authMiddleware).Get("/content", s.handleContent)

	// The channel authenticates in the handler so it can refuse the upgrade
	// with a plain 401.
	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status. A failing database makes
// the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	writeJSON(w, status, body)
}
