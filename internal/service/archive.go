package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/port/archive"
	"github.com/Strob0t/JellyRoute/internal/port/cache"
)

// CachedArchive keeps recent responses in a cache in front of an optional
// durable archive. Without a durable archive, responses are retrievable
// until they expire from the cache.
type CachedArchive struct {
	durable archive.Store
	cache   cache.Cache
	ttl     time.Duration
}

// NewCachedArchive wraps durable, which may be nil.
func NewCachedArchive(durable archive.Store, c cache.Cache, ttl time.Duration) *CachedArchive {
	return &CachedArchive{durable: durable, cache: c, ttl: ttl}
}

func responseKey(id string) string { return "task:" + id }

func (a *CachedArchive) SaveResponse(ctx context.Context, t *task.Task, resp *task.Response) error {
	a.put(ctx, resp)
	if a.durable == nil {
		return nil
	}
	return a.durable.SaveResponse(ctx, t, resp)
}

func (a *CachedArchive) GetResponse(ctx context.Context, taskID string) (*task.Response, error) {
	data, found, err := a.cache.Get(ctx, responseKey(taskID))
	if err != nil {
		slog.WarnContext(ctx, "response cache read failed", "task_id", taskID, "error", err)
	}
	if found {
		var resp task.Response
		if err := json.Unmarshal(data, &resp); err == nil {
			return &resp, nil
		}
	}

	if a.durable == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	resp, err := a.durable.GetResponse(ctx, taskID)
	if err != nil {
		return nil, err
	}
	a.put(ctx, resp)
	return resp, nil
}

func (a *CachedArchive) put(ctx context.Context, resp *task.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, responseKey(resp.TaskID), data, a.ttl); err != nil {
		slog.WarnContext(ctx, "response cache write failed", "task_id", resp.TaskID, "error", err)
	}
}
