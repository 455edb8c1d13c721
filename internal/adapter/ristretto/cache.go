// Package ristretto is the in-process L1 cache for task responses and
// idempotency records.
package ristretto

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntryBytes sizes the admission counters; archived responses with a
// short trace land around this size.
const avgEntryBytes = 1024

// Cache is a byte-costed ristretto cache. Stored slices are copied so
// callers may reuse their buffers.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of keys and values.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/avgEntryBytes*10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set waits until the value is visible to Get, so a response replayed right
// after it was stored is not missed. Ristretto may still reject the entry
// under memory pressure; that reads as a later miss.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := append([]byte(nil), value...)
	c.c.SetWithTTL(key, v, int64(len(key)+len(v)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio reports the share of Get calls that were hits since start.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Close logs the final hit ratio and stops the cache's goroutines.
func (c *Cache) Close() {
	m := c.c.Metrics
	slog.Debug("l1 cache closed", "hits", m.Hits(), "misses", m.Misses(), "ratio", m.Ratio())
	c.c.Close()
}
