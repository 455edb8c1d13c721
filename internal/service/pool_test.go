package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/service"
)

func TestPoolLimitsConcurrency(t *testing.T) {
	p := service.NewPool(2)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), func() error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPoolRunReturnsError(t *testing.T) {
	p := service.NewPool(1)
	want := errors.New("boom")
	if err := p.Run(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestPoolCancelledWhileWaiting(t *testing.T) {
	p := service.NewPool(1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := p.Run(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if called {
		t.Error("fn ran without a slot")
	}
}

func TestPoolZeroLimitAllowsOne(t *testing.T) {
	p := service.NewPool(0)
	if err := p.Run(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestPoolInFlight(t *testing.T) {
	p := service.NewPool(3)
	var seen int
	_ = p.Run(context.Background(), func() error {
		seen = p.InFlight()
		return nil
	})
	if seen != 1 {
		t.Errorf("in flight during run = %d, want 1", seen)
	}
	if p.InFlight() != 0 {
		t.Errorf("in flight after run = %d", p.InFlight())
	}

	var nilPool *service.Pool
	if nilPool.InFlight() != 0 {
		t.Error("nil pool reports work")
	}
}
