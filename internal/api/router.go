package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/equipwatch-core/internal/auth"
)

// healthCheckTimeout bounds the database probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// defaultWSPath is used when websocket.path is not configured.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.With(s.loginRateLimitMiddleware).Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(wsPath, s.handleWebSocket)

		// Session-protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
				r.Post("/password", s.handleChangePassword)
				r.Post("/authorize", s.handleAuthorize)
				r.With(s.requirePermission(auth.PermSystemConfig)).Post("/ws-ticket", s.handleWSTicket)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermManageUsers))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{username}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Get("/sessions", s.handleListUserSessions)
					r.Delete("/sessions", s.handleRevokeUserSessions)
					r.Post("/deactivate", s.handleDeactivateUser)
					r.Post("/reactivate", s.handleReactivateUser)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSystemConfig))
				r.Get("/audit", s.handleListAudit)
				r.Get("/system/metrics", s.handleSystemMetrics)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
// The database is probed when one is configured; a failed probe reports 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.db == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Warn("database health check failed", "error", err)
		resp["status"] = "degraded"
		resp["database"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["database"] = "ok"
	if version, err := s.db.SchemaVersion(ctx); err == nil {
		resp["schema_version"] = version
	}
	writeJSON(w, http.StatusOK, resp)
}
