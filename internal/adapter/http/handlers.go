// Package http exposes the router over a JSON request/response API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/port/archive"
	"github.com/Strob0t/JellyRoute/internal/service"
)

// TaskService is the Supervisor as seen by the HTTP API.
type TaskService interface {
	Handle(ctx context.Context, req task.Request) (*task.Response, error)
	Get(ctx context.Context, taskID string) (*task.Response, error)
	Domains() []service.DomainSummary
}

// HealthCheck probes one dependency. Optional checks report "disabled"
// instead of failing the whole endpoint.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Handlers holds the HTTP handlers. Sessions and Events are set only when a
// durable archive is configured; their routes are not mounted otherwise.
type Handlers struct {
	Tasks    TaskService
	Sessions archive.SessionLister
	Events   archive.EventLoader
	Health   []HealthCheck
	Version  string
}

// SubmitTask handles POST /api/v1/tasks. Every task outcome, failed ones
// included, is a 200 with the structured response; only malformed
// requests are rejected.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.Request](w, r)
	if !ok {
		return
	}

	resp, err := h.Tasks.Handle(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "invalid task")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessionTasks handles GET /api/v1/sessions/{id}/tasks?limit=N.
func (h *Handlers) ListSessionTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.Sessions.ListBySession(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetTaskEvents handles GET /api/v1/tasks/{id}/events.
func (h *Handlers) GetTaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.LoadByRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ListDomains handles GET /api/v1/domains.
func (h *Handlers) ListDomains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Tasks.Domains())
}

type healthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// HealthHandler handles GET /health. It answers 503 when a required
// dependency fails its probe.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Version: h.Version, Components: make(map[string]string, len(h.Health))}
	code := http.StatusOK
	for _, c := range h.Health {
		if c.Check == nil {
			status.Components[c.Name] = "disabled"
			continue
		}
		if err := c.Check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "component", c.Name, "error", err)
			status.Components[c.Name] = "error"
			if !c.Optional {
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
			continue
		}
		status.Components[c.Name] = "ok"
	}
	writeJSON(w, code, status)
}
