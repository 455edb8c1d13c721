package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the task API on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HealthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/domains", h.ListDomains)
		if h.Sessions != nil {
			r.Get("/sessions/{id}/tasks", h.ListSessionTasks)
		}
		if h.Events != nil {
			r.Get("/tasks/{id}/events", h.GetTaskEvents)
		}
	})
}
