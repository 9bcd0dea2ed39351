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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - user must be logged in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Post("/auth/logout", s.handleLogout)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Post("/", s.handleCreateDevice)
				r.Get("/household/{householdId}", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handlePatchDevice)
					r.Delete("/", s.handleDeleteDevice)
				})
			})

			// Household endpoints
			r.Route("/households", func(r chi.Router) {
				r.Get("/", s.handleListHouseholds)
				r.Get("/{id}/members", s.handleListMembers)
				r.Post("/{id}/invitations", s.handleCreateInvitation)
				r.Get("/{id}/invitations", s.handleListInvitations)
				r.Get("/{id}/audit", s.handleListAudit)
			})

			// Invitation redemption
			r.Post("/invitations/accept", s.handleAcceptInvitation)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
