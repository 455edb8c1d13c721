// Package cache defines the port for the byte-value caches behind the
// idempotency middleware and the response archive.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value store with per-entry TTL. A missing key is reported
// with ok == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
