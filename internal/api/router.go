package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.accessLog)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleAddDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleRemoveDevice)
				r.Get("/reading", s.handleGetReading)
				r.Post("/request", s.handleRequest)
			})
		})

		r.Post("/kinds/{kind}/broadcast", s.handleBroadcast)

		r.Get("/audit", s.handleListAudit)
		r.Get("/ws", s.handleEvents)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": len(s.ctrl.ListDevices()),
	})
}
