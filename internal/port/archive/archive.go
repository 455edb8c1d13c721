package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// TaskSummary is one archived task as listed per session.
type TaskSummary struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Domain    string              `json:"domain"`
	Outcome   task.ResponseStatus `json:"outcome"`
	Failure   string              `json:"failure,omitempty"`
	Calls     int                 `json:"calls"`
	CreatedAt time.Time           `json:"created_at"`
}

// Event is one stored lifecycle event of a run.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionLister lists a session's archived tasks, newest first.
type SessionLister interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]TaskSummary, error)
}

// EventLoader replays the events a run emitted, in emission order.
type EventLoader interface {
	LoadByRun(ctx context.Context, runID string) ([]Event, error)
}
