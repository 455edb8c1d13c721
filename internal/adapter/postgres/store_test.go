package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/JellyRoute/internal/adapter/postgres"
	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// setupPool runs all migrations and returns a pool closed via t.Cleanup.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.Migrate(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newTask(session string) *task.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return task.New(uuid.NewString(), task.Request{SessionID: session, Text: "delete user Bob"}, now)
}

func TestArchiveSaveAndGet(t *testing.T) {
	a := postgres.NewArchive(setupPool(t))
	ctx := context.Background()

	tk := newTask("s-" + uuid.NewString()[:8])
	if err := tk.Delegate(task.Delegation{Domain: capability.DomainUser, Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}

	pending := &task.Response{
		TaskID:       tk.ID,
		SessionID:    tk.SessionID,
		Status:       task.ResponseNeedsConfirmation,
		Domain:       capability.DomainUser,
		Confirmation: &task.ConfirmationRequest{Tool: "delete_user", Fingerprint: "abc", Prompt: "Delete Bob?"},
	}
	if err := a.SaveResponse(ctx, tk, pending); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	failed := &task.Response{
		TaskID:    tk.ID,
		SessionID: tk.SessionID,
		Status:    task.ResponseFailed,
		Domain:    capability.DomainUser,
		Failure:   &task.FailureInfo{Kind: failure.KindDestructiveRefused, Message: "declined"},
	}
	if err := a.SaveResponse(ctx, tk, failed); err != nil {
		t.Fatalf("save final: %v", err)
	}

	got, err := a.GetResponse(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.ResponseFailed || got.Failure.Kind != failure.KindDestructiveRefused {
		t.Errorf("got %+v", got)
	}

	list, err := a.ListBySession(ctx, tk.SessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Failure != string(failure.KindDestructiveRefused) {
		t.Errorf("list = %+v", list)
	}
}

func TestArchiveGetNotFound(t *testing.T) {
	a := postgres.NewArchive(setupPool(t))
	_, err := a.GetResponse(context.Background(), uuid.NewString())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEventStoreRecordsRun(t *testing.T) {
	s := postgres.NewEventStore(setupPool(t))
	ctx := context.Background()
	run := uuid.NewString()

	s.BroadcastEvent(ctx, string(event.RunStarted), event.RunStartedEvent{RunID: run, ThreadID: "s1"})
	s.BroadcastEvent(ctx, string(event.RunFinished), event.RunFinishedEvent{RunID: run, Status: "done"})
	s.BroadcastEvent(ctx, "ping", map[string]string{"x": "y"})

	events, err := s.LoadByRun(ctx, run)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != string(event.RunStarted) || events[1].Type != string(event.RunFinished) {
		t.Errorf("order = %s, %s", events[0].Type, events[1].Type)
	}
}
