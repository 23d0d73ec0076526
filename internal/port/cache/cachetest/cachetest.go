// Package cachetest holds the behaviour every cache.Cache adapter must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/devsync/internal/port/cache"
)

// RunComplianceTests runs the shared suite against c. Keys use the
// "kind:id" form the sync service caches under.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "latest:1", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "latest:1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "latest:404")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "positions", []byte("del-val"), time.Minute)
		if err := c.Delete(ctx, "positions"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "positions")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "latest:never"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "latest:2", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "latest:2", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "latest:2")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
