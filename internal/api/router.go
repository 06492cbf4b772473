package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ecozone/authcore/internal/auth"
)

// healthCheckTimeout bounds each dependency check behind GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.realIPMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   orDefault(s.cfg.CORS.AllowedOrigins, []string{"*"}),
		AllowedMethods:   orDefault(s.cfg.CORS.AllowedMethods, []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		AllowedHeaders:   orDefault(s.cfg.CORS.AllowedHeaders, []string{"Authorization", "Content-Type", "X-Request-ID"}),
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.storeTimeoutMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogoutAll)
			r.Get("/profile", s.handleProfile)
			r.Get("/sessions", s.handleSessions)
			r.Put("/password", s.handleChangePassword)
		})
	})

	// Protected resource routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.handleListZones)
			r.With(
				s.requireRole(auth.UserTypeEmployee, auth.UserTypeOffice, auth.UserTypeEnvironmental),
				s.requireZone,
			).Get("/{zone}", s.handleGetZone)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(auth.UserTypeOffice))

			r.Get("/audit", s.handleListAuditLogs)
			r.Patch("/users/{id}/status", s.handleSetUserStatus)
			r.Post("/users/{id}/unlock", s.handleUnlockUser)
		})
	})

	return r
}

// handleHealth returns the server health status and, when configured,
// the state of each dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	status := http.StatusOK

	if len(s.health) > 0 {
		checks := make(map[string]string, len(s.health))
		for name, check := range s.health {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				checks[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		resp["checks"] = checks
	}

	writeJSON(w, status, resp)
}

func orDefault(values, def []string) []string {
	if len(values) == 0 {
		return def
	}
	return values
}
