// Package ws is the conversational WebSocket transport. Each connection is
// a session that keeps its turn history, so clarification questions and
// confirmation requests can be answered on the same connection. Task
// events are streamed to the session that started the task.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// Message is the envelope for all WebSocket messages in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Runner handles one task request.
type Runner interface {
	Handle(ctx context.Context, req task.Request) (*task.Response, error)
}

// Hub tracks sessions and routes task events to them. It implements
// broadcast.Broadcaster.
type Hub struct {
	runner Runner

	mu       sync.RWMutex
	sessions map[string]*session // by session id
	runs     map[string]*session // by task (run) id
}

// NewHub creates a hub whose sessions submit tasks to runner. runner may be
// nil when the hub must exist before the runner does; set it with
// SetRunner before serving.
func NewHub(runner Runner) *Hub {
	return &Hub{
		runner:   runner,
		sessions: make(map[string]*session),
		runs:     make(map[string]*session),
	}
}

// SetRunner sets the task runner. Call it before HandleWS is reachable.
func (h *Hub) SetRunner(runner Runner) { h.runner = runner }

// HandleWS upgrades the connection and serves one session until the
// client disconnects. ?observe=1 opens a read-only connection receiving the
// events of every task.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	c.SetReadLimit(64 << 10)

	ctx, cancel := context.WithCancel(r.Context())
	s := &session{
		id:       uuid.NewString(),
		hub:      h,
		ws:       c,
		cancel:   cancel,
		observer: r.URL.Query().Get("observe") == "1",
	}
	h.add(s)
	defer func() {
		h.remove(s)
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	slog.InfoContext(ctx, "websocket connected", "session_id", s.id, "observer", s.observer, "remote", r.RemoteAddr)
	s.send(ctx, Message{Type: TypeSession, Payload: mustJSON(sessionInfo{SessionID: s.id})})
	s.serve(ctx)
}

// BroadcastEvent delivers a task event to the session that started the
// task and to every observer. Events without a run id go to everyone.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}
	var ids struct {
		RunID    string `json:"run_id"`
		ThreadID string `json:"thread_id"`
	}
	_ = json.Unmarshal(data, &ids)
	msg := Message{Type: eventType, Payload: data}

	h.mu.Lock()
	if eventType == string(event.RunStarted) && ids.RunID != "" {
		if owner, ok := h.sessions[ids.ThreadID]; ok {
			h.runs[ids.RunID] = owner
		}
	}
	targets := h.targetsLocked(ids.RunID)
	if eventType == string(event.RunFinished) {
		delete(h.runs, ids.RunID)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.send(ctx, msg)
	}
}

func (h *Hub) targetsLocked(runID string) []*session {
	var out []*session
	owner := h.runs[runID]
	for _, s := range h.sessions {
		if runID == "" || s.observer || s == owner {
			out = append(out, s)
		}
	}
	return out
}

// ConnectionCount returns the number of open sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	s.cancel()
	delete(h.sessions, s.id)
	for runID, owner := range h.runs {
		if owner == s {
			delete(h.runs, runID)
		}
	}
	slog.Info("websocket disconnected", "session_id", s.id)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
