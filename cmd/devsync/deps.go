package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	cfnats "github.com/Strob0t/devsync/internal/adapter/nats"
	"github.com/Strob0t/devsync/internal/adapter/natskv"
	cfotel "github.com/Strob0t/devsync/internal/adapter/otel"
	"github.com/Strob0t/devsync/internal/adapter/postgres"
	"github.com/Strob0t/devsync/internal/adapter/ristretto"
	"github.com/Strob0t/devsync/internal/adapter/tiered"
	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/domain/safety"
	"github.com/Strob0t/devsync/internal/port/broadcast"
	"github.com/Strob0t/devsync/internal/port/cache"
	"github.com/Strob0t/devsync/internal/resilience"
	"github.com/Strob0t/devsync/internal/service"
)

// deps is the wired sync pipeline shared by serve and sync.
type deps struct {
	pool       *pgxpool.Pool
	store      *postgres.Store
	queue      *cfnats.Queue
	breaker    *resilience.Breaker
	gate       *service.SafetyGate
	sync       *service.SyncService
	identities *service.IdentityService

	closers []func()
}

// newGate builds the production checks of this deployment.
func newGate(cfg *config.Config) *service.SafetyGate {
	return &service.SafetyGate{
		Rules: safety.Rules{
			ProductionHosts:       cfg.Sync.ProductionHosts,
			ProductionIdentifiers: cfg.Sync.ProductionIdentifiers,
		},
		StoreURL: cfg.Postgres.DSN,
		EnvVar:   cfg.Sync.EnvironmentVar,
	}
}

// newDeps connects the local store and optional NATS, builds the cache
// tiers and wires the sync service. mirror may be nil.
func newDeps(ctx context.Context, cfg *config.Config, mirror broadcast.Broadcaster) (*deps, error) {
	d := &deps{gate: newGate(cfg)}
	ready := false
	defer func() {
		if !ready {
			d.Close()
		}
	}()

	var err error
	d.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	d.closers = append(d.closers, d.pool.Close)
	d.store = postgres.NewStore(d.pool)
	slog.Info("postgres connected")

	if cfg.NATS.URL != "" {
		d.queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		q := d.queue
		d.closers = append(d.closers, func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		})
	} else {
		slog.Info("nats not configured, run notifications and shared cache disabled")
	}

	c, err := d.newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	var notifier *service.RunNotifier
	if d.queue != nil {
		d.breaker = resilience.NewNamedBreaker("nats", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		notifier = service.NewRunNotifier(d.queue, d.breaker)
	}

	stages := service.DefaultStages(
		postgres.NewOpener(cfg.Source),
		service.TransferOptions{
			PageSize:   cfg.Sync.PageSize,
			ChunkSize:  cfg.Sync.ChunkSize,
			ChunkDelay: cfg.Sync.ChunkDelay,
		},
		service.NewLatestRefresher(d.store, c),
		nil,
	)
	d.sync = service.NewSyncService(d.store, service.NewOrchestrator(stages, metrics), d.gate,
		service.SyncOptions{
			SourceConfigured: cfg.Source.DSN != "",
			DefaultLookback:  cfg.Sync.DefaultLookback,
			CacheTTL:         cfg.Cache.L2TTL,
		},
		notifier, c, metrics, mirror)
	d.identities = service.NewIdentityService(d.store)
	ready = true
	return d, nil
}

// newCache builds the ristretto L1 and, with NATS, the JetStream KV L2.
func (d *deps) newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB, cfg.Cache.L1TTL)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	d.closers = append(d.closers, l1.Close)
	if d.queue == nil {
		return tiered.New(l1, nil, cfg.Cache.L1TTL), nil
	}

	kv, err := d.queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		slog.Warn("l2 cache unavailable, using l1 only", "bucket", cfg.Cache.L2Bucket, "error", err)
		return tiered.New(l1, nil, cfg.Cache.L1TTL), nil
	}
	return tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL), nil
}

// Close releases every connection in reverse order of acquisition.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// newStore connects only the local store, for commands that need nothing else.
func newStore(ctx context.Context, cfg *config.Config) (*postgres.Store, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// errNoNATS is returned by commands that need NATS when none is configured.
var errNoNATS = errors.New("nats url is not configured (set NATS_URL or --nats-url)")
