package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/JellyRoute/internal/port/archive"
)

// EventStore appends task lifecycle events to task_events. It implements
// broadcast.Broadcaster so the Supervisor can fan events into it.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// BroadcastEvent appends the event. Events without a run id are not
// stored. Failures are logged; the event stream never blocks a task on the
// archive.
func (s *EventStore) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event for archive", "event_type", eventType, "error", err)
		return
	}
	var head struct {
		RunID string `json:"run_id"`
	}
	if json.Unmarshal(data, &head) != nil || head.RunID == "" {
		return
	}
	if err := s.Append(context.WithoutCancel(ctx), head.RunID, eventType, data); err != nil {
		slog.WarnContext(ctx, "archive event failed", "run_id", head.RunID, "event_type", eventType, "error", err)
	}
}

// Append inserts one event.
func (s *EventStore) Append(ctx context.Context, runID, eventType string, payload json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_events (run_id, event_type, payload) VALUES ($1, $2, $3)`,
		runID, eventType, []byte(payload))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByRun returns the events of one run in emission order.
func (s *EventStore) LoadByRun(ctx context.Context, runID string) ([]archive.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, event_type, payload, created_at FROM task_events WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("load events of run %s: %w", runID, err)
	}
	defer rows.Close()

	events := []archive.Event{}
	for rows.Next() {
		var ev archive.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
