package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log output.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// job is a record bound to the handler it was logged through, so attrs
// added with With survive the hop to the writer goroutines.
type job struct {
	h   slog.Handler
	rec slog.Record
}

// pipeline is shared by an AsyncHandler and all handlers derived from it.
type pipeline struct {
	mu      sync.RWMutex // guards closed against sends on a closed channel
	closed  bool
	jobs    chan job
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// AsyncHandler writes records from background goroutines. When the buffer
// is full, records below Warn are dropped and counted; Warn and above are
// written synchronously so task failures always reach the log.
type AsyncHandler struct {
	inner slog.Handler
	p     *pipeline
}

// NewAsyncHandler starts workers draining a buffer of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	p := &pipeline{jobs: make(chan job, size)}
	for range max(workers, 1) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				_ = j.h.Handle(context.Background(), j.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, p: p}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.enqueue(rec) {
		return nil
	}
	if rec.Level >= slog.LevelWarn || h.isClosed() {
		return h.inner.Handle(ctx, rec)
	}
	h.p.dropped.Add(1)
	return nil
}

func (h *AsyncHandler) enqueue(rec slog.Record) bool { //nolint:gocritic // record is copied into the job anyway
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	if h.p.closed {
		return false
	}
	select {
	case h.p.jobs <- job{h: h.inner, rec: rec.Clone()}:
		return true
	default:
		return false
	}
}

func (h *AsyncHandler) isClosed() bool {
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	return h.p.closed
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), p: h.p}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), p: h.p}
}

// Dropped returns how many records were discarded because the buffer was full.
func (h *AsyncHandler) Dropped() int64 {
	return h.p.dropped.Load()
}

// Close drains the buffer, then logs the drop count if any records were
// lost. Records handled after Close are written synchronously.
func (h *AsyncHandler) Close() {
	h.p.mu.Lock()
	if h.p.closed {
		h.p.mu.Unlock()
		return
	}
	h.p.closed = true
	close(h.p.jobs)
	h.p.mu.Unlock()

	h.p.wg.Wait()
	if n := h.p.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
