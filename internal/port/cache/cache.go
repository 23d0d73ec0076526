// Package cache defines the byte-level cache used for read endpoints that
// only change when a sync run finishes (sync positions, latest readings).
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys. Keys may contain ':'.
// A miss is reported as ok == false with a nil error; errors mean the
// backend is unavailable and callers fall back to the store.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value for ttl. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
