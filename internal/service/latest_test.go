package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/series"
)

func TestLatestRefresher_Observe(t *testing.T) {
	tgt := newFakeTarget()
	c := newMemCache()
	ctx := context.Background()
	for _, site := range []string{"a", "b"} {
		if _, err := tgt.CreateSystem(ctx, inventory.System{VendorType: "x", VendorSiteID: site, OwnerIdentity: aliceDev}); err != nil {
			t.Fatal(err)
		}
	}
	_ = c.Set(ctx, latestCacheKey(100), []byte(`{}`), time.Minute)

	r := NewLatestRefresher(tgt, c)
	err := r.Observe(ctx, []series.Reading{
		{SystemID: 100, MeasuredAt: t0},
		{SystemID: 100, MeasuredAt: t0.Add(time.Minute)},
		{SystemID: 101, MeasuredAt: t0.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := tgt.latest[100]; !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("latest[100] = %v", got)
	}
	if got := tgt.latest[101]; !got.Equal(t0.Add(-time.Hour)) {
		t.Errorf("latest[101] = %v", got)
	}
	if _, ok, _ := c.Get(ctx, latestCacheKey(100)); ok {
		t.Error("stale cache entry not invalidated")
	}

	// Older batches never move the value back.
	if err := r.Observe(ctx, []series.Reading{{SystemID: 100, MeasuredAt: t0}}); err != nil {
		t.Fatal(err)
	}
	if got := tgt.latest[100]; !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("latest[100] moved back to %v", got)
	}
}

func TestCached_FallsBackWithoutCache(t *testing.T) {
	h := newHarness(newFixtureSource(), newFixtureTarget())
	h.svc.cache = nil
	_ = h.tgt.RefreshLatest(context.Background(), 7, t0)

	got, err := h.svc.Latest(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ReadingAt.Equal(t0) {
		t.Errorf("latest = %v", got.ReadingAt)
	}
}

func TestCached_ServesFromCache(t *testing.T) {
	h := newHarness(newFixtureSource(), newFixtureTarget())
	ctx := context.Background()
	_ = h.tgt.RefreshLatest(ctx, 7, t0)

	if _, err := h.svc.Latest(ctx, 7); err != nil {
		t.Fatal(err)
	}
	_ = h.tgt.RefreshLatest(ctx, 7, t0.Add(time.Hour))

	got, err := h.svc.Latest(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ReadingAt.Equal(t0) {
		t.Errorf("latest = %v, want cached %v", got.ReadingAt, t0)
	}
}

func TestLatestRefresher_CacheDeleteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tgt := newFakeTarget()
	c := newMemCache()
	c.delErr = errors.New("nats: timeout")

	r := NewLatestRefresher(tgt, c)
	if err := r.Observe(context.Background(), []series.Reading{{SystemID: 7, MeasuredAt: t0}}); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if got := tgt.latest[7]; !got.Equal(t0) {
		t.Errorf("latest[7] = %v, want the write to land despite the cache", got)
	}
	out := buf.String()
	if !strings.Contains(out, "cache delete failed") || !strings.Contains(out, "key=latest:7") || !strings.Contains(out, "nats: timeout") {
		t.Errorf("log = %q", out)
	}
}
