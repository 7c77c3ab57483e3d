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
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Put("/credentials", s.handleSetCredentials)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/switch", s.handleSwitch)
				r.Put("/dim", s.handleDim)
			})
		})

		r.Get("/commands", s.handleListCommands)

		r.Route("/presence", func(r chi.Router) {
			r.Get("/", s.handleListPresence)
			r.Get("/condition", s.handlePresenceCondition)
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Get("/", s.handleListTriggers)
			r.Post("/", s.handleCreateTrigger)
			r.Delete("/{id}", s.handleDeleteTrigger)
		})
	})

	return r
}
