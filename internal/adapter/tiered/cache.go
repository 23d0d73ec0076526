// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/devsync/internal/port/cache"
)

// Cache combines an L1 (in-process) and an optional L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit). Set and Delete
// operate on both levels. L2 failures degrade to L1-only operation; an
// unreachable NATS server must not fail a status read.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l2 may be nil. l1Expire caps how long an
// entry lives in L1, both on Set and on L2 backfill.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}
	return nil, false, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1Expire > 0 && (l1TTL <= 0 || l1TTL > c.l1Expire) {
		l1TTL = c.l1Expire
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes from both L1 and L2. An L2 failure is returned so stale
// shared entries are noticed.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Delete(ctx, key)
}
