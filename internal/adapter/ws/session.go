package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// Message types sent by clients.
const (
	TypeUserMessage = "message" // {"text": "..."}
	TypeConfirm     = "confirm" // {"approved": true}
	TypeCancel      = "cancel"
)

// Message types sent by the server, besides the task events.
const (
	TypeSession  = "session"       // {"session_id": "..."}
	TypeResponse = "task.response" // task.Response
	TypeError    = "error"         // {"error": "..."}
)

const (
	maxTurns     = 40 // history carried into each request
	writeTimeout = 5 * time.Second
)

type sessionInfo struct {
	SessionID string `json:"session_id"`
}

type userMessage struct {
	Text string `json:"text"`
}

type confirmMessage struct {
	Approved bool `json:"approved"`
}

type errorPayload struct {
	Error string `json:"error"`
}

type session struct {
	id       string
	hub      *Hub
	ws       *websocket.Conn
	cancel   context.CancelFunc
	observer bool

	mu        sync.Mutex
	turns     []task.Turn
	running   bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// serve reads client messages until the connection closes. Tasks run in
// their own goroutine so that a cancel message can still be read.
func (s *session) serve(ctx context.Context) {
	defer s.wg.Wait()
	for {
		_, data, err := s.ws.Read(ctx)
		if err != nil {
			s.stopRun()
			return
		}
		if s.observer {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, "invalid message")
			continue
		}
		switch msg.Type {
		case TypeUserMessage:
			var m userMessage
			if err := json.Unmarshal(msg.Payload, &m); err != nil || strings.TrimSpace(m.Text) == "" {
				s.sendError(ctx, "message text is required")
				continue
			}
			s.start(ctx, m.Text)
		case TypeConfirm:
			var m confirmMessage
			if err := json.Unmarshal(msg.Payload, &m); err != nil {
				s.sendError(ctx, "invalid confirmation")
				continue
			}
			if !s.awaitingConfirmation() {
				s.sendError(ctx, "nothing to confirm")
				continue
			}
			text := "no"
			if m.Approved {
				text = "yes"
			}
			s.start(ctx, text)
		case TypeCancel:
			s.stopRun()
		default:
			s.sendError(ctx, "unknown message type "+msg.Type)
		}
	}
}

// start runs one request against the session history.
func (s *session) start(ctx context.Context, text string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.sendError(ctx, "a task is already running; send cancel first")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelRun = cancel
	req := task.Request{
		SessionID: s.id,
		Text:      text,
		Turns:     append([]task.Turn(nil), s.turns...),
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		resp, err := s.hub.runner.Handle(runCtx, req)

		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		if err == nil {
			s.record(text, resp)
		}
		s.mu.Unlock()

		if err != nil {
			msg := "task failed"
			if errors.Is(err, domain.ErrValidation) {
				msg = strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
			}
			s.sendError(ctx, msg)
			return
		}
		s.send(ctx, Message{Type: TypeResponse, Payload: mustJSON(resp)})
	}()
}

// record appends the exchange to the history. Once a task settles, earlier
// clarification and confirmation turns become plain messages so that they
// do not govern the next request.
// Must be called with s.mu held.
func (s *session) record(text string, resp *task.Response) {
	follow := resp.FollowUpTurn()
	if resp.Status == task.ResponseDone || resp.Status == task.ResponseFailed {
		for i := range s.turns {
			s.turns[i].Kind = task.TurnMessage
		}
	}
	s.turns = append(s.turns, task.Turn{Role: task.RoleUser, Kind: task.TurnMessage, Content: text}, follow)
	if len(s.turns) > maxTurns {
		s.turns = append([]task.Turn(nil), s.turns[len(s.turns)-maxTurns:]...)
	}
}

func (s *session) awaitingConfirmation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.turns)
	return n > 0 && s.turns[n-1].Kind == task.TurnConfirmationRequest
}

func (s *session) stopRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// send writes msg even when ctx is already cancelled: the final events of a
// cancelled task must still reach the client.
func (s *session) send(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "websocket marshal failed", "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.ws.Write(wctx, websocket.MessageText, data); err != nil {
		slog.DebugContext(ctx, "websocket write failed", "session_id", s.id, "error", err)
	}
}

func (s *session) sendError(ctx context.Context, msg string) {
	s.send(ctx, Message{Type: TypeError, Payload: mustJSON(errorPayload{Error: msg})})
}
