package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/port/cache"
	"github.com/Strob0t/devsync/internal/port/database"
)

// maxLatestFanout bounds concurrent system_latest writes per batch.
const maxLatestFanout = 8

// LatestRefresher keeps the derived latest-reading row of each target system
// current as readings are written. The per-system writes are independent
// and idempotent, so they run concurrently without ordering.
type LatestRefresher struct {
	target database.TargetStore
	cache  cache.Cache
}

// NewLatestRefresher returns a refresher. c may be nil.
func NewLatestRefresher(target database.TargetStore, c cache.Cache) *LatestRefresher {
	return &LatestRefresher{target: target, cache: c}
}

// Observe implements batchObserver for written readings.
func (l *LatestRefresher) Observe(ctx context.Context, written []series.Reading) error {
	latest := series.LatestBySystem(written)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLatestFanout)
	for systemID, ts := range latest {
		g.Go(func() error {
			return l.refresh(gctx, systemID, ts)
		})
	}
	return g.Wait()
}

func (l *LatestRefresher) refresh(ctx context.Context, systemID int64, ts time.Time) error {
	if err := l.target.RefreshLatest(ctx, systemID, ts); err != nil {
		return err
	}
	if l.cache != nil {
		key := latestCacheKey(systemID)
		if err := l.cache.Delete(ctx, key); err != nil {
			slog.Debug("cache delete failed", "key", key, "error", err)
		}
	}
	return nil
}

func latestCacheKey(systemID int64) string {
	return "latest:" + strconv.FormatInt(systemID, 10)
}
