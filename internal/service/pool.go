package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool caps how many tasks the supervisor runs at once. Further tasks wait
// for a slot until their context ends.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// NewPool allows limit concurrent tasks, at least one.
func NewPool(limit int) *Pool {
	limit = max(limit, 1)
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run executes fn in a slot. A nil Pool runs fn unbounded. The error is
// ctx.Err() when no slot freed up in time, otherwise fn's.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil {
		return fn()
	}
	if !p.sem.TryAcquire(1) {
		slog.DebugContext(ctx, "task waiting for a free slot", "limit", p.limit)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn()
}

// InFlight returns the number of tasks holding a slot.
func (p *Pool) InFlight() int {
	if p == nil {
		return 0
	}
	return int(p.inFlight.Load())
}
