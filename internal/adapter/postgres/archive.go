package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/port/archive"
)

// Archive implements archive.Store using PostgreSQL. A task that was
// suspended for a follow-up and later finished under the same id is
// overwritten with its latest response.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive creates an Archive backed by the given connection pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

func (a *Archive) SaveResponse(ctx context.Context, t *task.Task, resp *task.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response %s: %w", t.ID, err)
	}
	kind := ""
	if resp.Failure != nil {
		kind = string(resp.Failure.Kind)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO tasks (id, session_id, text, domain, status, outcome, failure, interactive, reroutes, calls, response, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   domain = EXCLUDED.domain, status = EXCLUDED.status, outcome = EXCLUDED.outcome,
		   failure = EXCLUDED.failure, reroutes = EXCLUDED.reroutes, calls = EXCLUDED.calls,
		   response = EXCLUDED.response, updated_at = EXCLUDED.updated_at`,
		t.ID, t.SessionID, t.Text, string(t.Domain), string(t.Status), string(resp.Status), kind,
		t.Interactive, t.Reroutes(), len(resp.Trace), body, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (a *Archive) GetResponse(ctx context.Context, taskID string) (*task.Response, error) {
	var body []byte
	err := a.pool.QueryRow(ctx, `SELECT response FROM tasks WHERE id = $1`, taskID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	var resp task.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &resp, nil
}

// ListBySession returns the archived tasks of a session, newest first.
func (a *Archive) ListBySession(ctx context.Context, sessionID string, limit int) ([]archive.TaskSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, text, domain, outcome, failure, calls, created_at
		 FROM tasks WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := []archive.TaskSummary{}
	for rows.Next() {
		var s archive.TaskSummary
		if err := rows.Scan(&s.ID, &s.Text, &s.Domain, &s.Outcome, &s.Failure, &s.Calls, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
