// Package cachetest holds the behaviour every cache.Cache implementation
// must show. Adapters call Run from their own tests.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/port/cache"
)

// Run exercises c with keys prefixed by prefix so that shared backends
// (NATS KV, Redis) can run it repeatedly.
func Run(t *testing.T, c cache.Cache, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(k string) string { return prefix + k }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, key("resp"), []byte(`{"status":"done"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key("resp"))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"status":"done"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, key("never-set"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, key("gone"), []byte("x"), time.Minute)
		if err := c.Delete(ctx, key("gone")); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, key("gone")); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteUnknown", func(t *testing.T) {
		if err := c.Delete(ctx, key("never-existed")); err != nil {
			t.Fatalf("Delete of unknown key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, key("ow"), []byte("v1"), time.Minute)
		_ = c.Set(ctx, key("ow"), []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, key("ow"))
		if err != nil || !found {
			t.Fatalf("expected hit, err=%v", err)
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
