// Package ristretto implements the cache port on dgraph-io/ristretto, the
// in-process L1 for sync positions and latest-reading lookups.
package ristretto

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntryBytes sizes the admission counters. Cached values are small JSON
// documents: one position list or one latest-reading record.
const avgEntryBytes = 256

// Cache is a size-bounded in-process cache.
type Cache struct {
	c          *ristretto.Cache[string, []byte]
	defaultTTL time.Duration
}

// New returns a cache holding at most maxSizeMB of keys and values. Entries
// set without a TTL live for defaultTTL.
func New(maxSizeMB int64, defaultTTL time.Duration) (*Cache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("ristretto: max size must be positive, got %d MB", maxSizeMB)
	}
	maxCost := maxSizeMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10 * maxCost / avgEntryBytes,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c, defaultTTL: defaultTTL}, nil
}

// Get returns a copy of the cached value; callers may modify it.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return bytes.Clone(val), true, nil
}

// Set stores value and waits until Get can see it, so a read right after a
// run never misses the entry the run just wrote. A rejected admission is not
// an error; the entry is simply not cached.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if !c.c.SetWithTTL(key, bytes.Clone(value), int64(len(key)+len(value)), ttl) {
		slog.Debug("l1 cache dropped entry", "key", key, "bytes", len(value))
	}
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close logs the hit ratio and releases the cache.
func (c *Cache) Close() {
	if m := c.c.Metrics; m != nil {
		slog.Debug("l1 cache closed",
			"hits", m.Hits(), "misses", m.Misses(), "hit_ratio", m.Ratio(), "evicted", m.KeysEvicted())
	}
	c.c.Close()
}
