// Package natskv implements the cache port on a NATS JetStream KeyValue
// bucket, shared as the L2 cache between devsync instances.
package natskv

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// headerLen is the size of the expiry stamp in front of every stored value.
const headerLen = 8

// bucket is the part of jetstream.KeyValue the cache uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Cache stores values in a KV bucket. The bucket's own TTL bounds every
// entry; a shorter per-entry TTL is enforced on read from a stamp stored in
// front of the value.
type Cache struct {
	kv  bucket
	now func() time.Time
}

// New returns a cache on kv.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// kvKey maps a cache key such as "latest:42" onto the KV key alphabet.
// ':' becomes '.', any other character outside [-/_=.a-zA-Z0-9] becomes '_'.
func kvKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-/_=.", r):
			return r
		default:
			return '_'
		}
	}, key)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k := kvKey(key)
	entry, err := c.kv.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	raw := entry.Value()
	if len(raw) < headerLen {
		// foreign or truncated value
		_ = c.kv.Delete(ctx, k)
		return nil, false, nil
	}
	if exp := int64(binary.BigEndian.Uint64(raw)); exp != 0 && c.now().UnixNano() >= exp {
		_ = c.kv.Delete(ctx, k)
		return nil, false, nil
	}
	return raw[headerLen:], true, nil
}

// Set stores value. A ttl of zero leaves expiry to the bucket.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, headerLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(c.now().Add(ttl).UnixNano()))
	}
	copy(buf[headerLen:], value)
	_, err := c.kv.Put(ctx, kvKey(key), buf)
	return err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, kvKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}
