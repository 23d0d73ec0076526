package natskv

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/devsync/internal/adapter/nats"
	"github.com/Strob0t/devsync/internal/port/cache/cachetest"
)

type entry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e entry) Value() []byte { return e.value }

// memBucket is an in-memory bucket with the KV's not-found semantics.
type memBucket struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBucket() *memBucket { return &memBucket{data: map[string][]byte{}} }

func (b *memBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return entry{value: v}, nil
}

func (b *memBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return uint64(len(b.data)), nil
}

func (b *memBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(b.data, key)
	return nil
}

func TestKVKey(t *testing.T) {
	tests := map[string]string{
		"positions":       "positions",
		"latest:42":       "latest.42",
		"a:b:c":           "a.b.c",
		"already.ok":      "already.ok",
		"stage:readings*": "stage.readings_",
		"name with space": "name_with_space",
	}
	for in, want := range tests {
		if got := kvKey(in); got != want {
			t.Errorf("kvKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCache_InMemoryCompliance(t *testing.T) {
	cachetest.RunComplianceTests(t, &Cache{kv: newMemBucket(), now: time.Now})
}

func TestCache_PerEntryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := newMemBucket()
	c := &Cache{kv: b, now: func() time.Time { return now }}

	_ = c.Set(ctx, "latest:7", []byte("short"), time.Minute)
	_ = c.Set(ctx, "positions", []byte("bucket-ttl"), 0)

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "latest:7"); ok {
		t.Error("expired entry returned")
	}
	if _, still := b.data["latest.7"]; still {
		t.Error("expired entry not deleted from the bucket")
	}
	if v, ok, _ := c.Get(ctx, "positions"); !ok || string(v) != "bucket-ttl" {
		t.Errorf("entry without ttl = %q, %v", v, ok)
	}
}

func TestCache_ShortValueIsAMiss(t *testing.T) {
	b := newMemBucket()
	b.data["latest.9"] = []byte("abc")
	c := &Cache{kv: b, now: time.Now}
	if _, ok, err := c.Get(context.Background(), "latest:9"); ok || err != nil {
		t.Fatalf("ok = %v, err = %v", ok, err)
	}
}

func TestCache_Compliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()
	q, err := nats.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	kv, err := q.KeyValue(ctx, "DEVSYNC_CACHE_TEST", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	cachetest.RunComplianceTests(t, New(kv))
}
