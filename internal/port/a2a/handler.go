// Package a2a serves the router as an A2A agent: an agent card with one
// skill per domain and a task endpoint whose clarification and
// confirmation requests map to the input-required state.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/port/cache"
)

const (
	maxBodySize = 1 << 20
	maxTurns    = 40
)

// Service is the Supervisor as seen by the A2A endpoints.
type Service interface {
	Handle(ctx context.Context, req task.Request) (*task.Response, error)
	Get(ctx context.Context, taskID string) (*task.Response, error)
}

// Handler serves the A2A endpoints. Conversation turns of each context are
// kept in contexts for contextTTL so that a reply continues the task.
type Handler struct {
	svc        Service
	domains    func() []capability.DomainInfo
	agent      *config.Agent
	contexts   cache.Cache
	contextTTL time.Duration
	now        func() time.Time
}

// NewHandler creates an A2A handler.
func NewHandler(svc Service, domains func() []capability.DomainInfo, agent *config.Agent, contexts cache.Cache, contextTTL time.Duration) *Handler {
	return &Handler{svc: svc, domains: domains, agent: agent, contexts: contexts, contextTTL: contextTTL, now: time.Now}
}

// MountRoutes registers the A2A routes at the root of r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Post("/a2a/tasks", h.handleCreateTask)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	base := h.agent.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	writeJSON(w, http.StatusOK, BuildAgentCard(h.agent, base, h.domains()))
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Message.Text())
	if text == "" {
		writeError(w, http.StatusBadRequest, "message must contain a text part")
		return
	}
	if req.ContextID == "" {
		req.ContextID = uuid.NewString()
	}

	ctx := r.Context()
	turns, err := h.loadTurns(ctx, req.ContextID)
	if err != nil {
		slog.WarnContext(ctx, "a2a context lookup failed", "context_id", req.ContextID, "error", err)
	}

	resp, err := h.svc.Handle(ctx, task.Request{
		SessionID:   req.ContextID,
		Text:        text,
		Turns:       turns,
		Interactive: req.Interactive,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
			return
		}
		slog.ErrorContext(ctx, "a2a task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.saveTurns(ctx, req.ContextID, turns, text, resp)
	slog.InfoContext(ctx, "a2a task handled", "task_id", resp.TaskID, "context_id", req.ContextID, "status", resp.Status)
	writeJSON(w, http.StatusOK, h.toTask(resp))
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.ErrorContext(r.Context(), "a2a get task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, h.toTask(resp))
}

// toTask maps a router response onto the A2A task states.
func (h *Handler) toTask(resp *task.Response) Task {
	t := Task{
		ID:        resp.TaskID,
		ContextID: resp.SessionID,
		Kind:      "task",
		Status:    TaskStatus{Timestamp: h.now().UTC()},
		Metadata: map[string]any{
			"task_status": resp.TaskStatus,
			"calls":       len(resp.Trace),
		},
	}
	if resp.Domain != "" {
		t.Metadata["domain"] = resp.Domain
	}

	switch resp.Status {
	case task.ResponseDone:
		t.Status.State = a2a.TaskStateCompleted
		t.Artifacts = []Artifact{{
			ArtifactID: resp.TaskID + "-answer",
			Name:       "answer",
			Parts:      []Part{{Kind: "text", Text: resp.Answer}},
		}}
	case task.ResponseNeedsClarification:
		t.Status.State = a2a.TaskStateInputRequired
		t.Status.Message = agentMessage(resp.SessionID, resp.Clarification)
	case task.ResponseNeedsConfirmation:
		t.Status.State = a2a.TaskStateInputRequired
		t.Status.Message = agentMessage(resp.SessionID, resp.Confirmation.Prompt)
		t.Metadata["confirmation"] = resp.Confirmation
	default:
		t.Status.State = a2a.TaskStateFailed
		if resp.Failure != nil {
			t.Status.Message = agentMessage(resp.SessionID, resp.Failure.Message)
			t.Metadata["failure_kind"] = resp.Failure.Kind
			if resp.Failure.Kind == failure.KindCancelled {
				t.Status.State = a2a.TaskStateCanceled
			}
		}
	}
	return t
}

func agentMessage(contextID, text string) *Message {
	return &Message{
		Role:      "agent",
		Parts:     []Part{{Kind: "text", Text: text}},
		MessageID: uuid.NewString(),
		ContextID: contextID,
		Kind:      "message",
	}
}

func contextKey(id string) string { return "a2a:ctx:" + id }

func (h *Handler) loadTurns(ctx context.Context, contextID string) ([]task.Turn, error) {
	if h.contexts == nil {
		return nil, nil
	}
	data, found, err := h.contexts.Get(ctx, contextKey(contextID))
	if err != nil || !found {
		return nil, err
	}
	var turns []task.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", contextID, err)
	}
	return turns, nil
}

// saveTurns stores the exchange; a settled task demotes earlier control
// turns to plain messages so they do not govern the next request.
func (h *Handler) saveTurns(ctx context.Context, contextID string, turns []task.Turn, text string, resp *task.Response) {
	if h.contexts == nil {
		return
	}
	if resp.Status == task.ResponseDone || resp.Status == task.ResponseFailed {
		for i := range turns {
			turns[i].Kind = task.TurnMessage
		}
	}
	turns = append(turns, task.Turn{Role: task.RoleUser, Kind: task.TurnMessage, Content: text}, resp.FollowUpTurn())
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return
	}
	if err := h.contexts.Set(ctx, contextKey(contextID), data, h.contextTTL); err != nil {
		slog.WarnContext(ctx, "a2a context store failed", "context_id", contextID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
