package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/devsync/internal/adapter/otel"
	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
	"github.com/Strob0t/devsync/internal/logger"
	"github.com/Strob0t/devsync/internal/port/broadcast"
	"github.com/Strob0t/devsync/internal/port/cache"
	"github.com/Strob0t/devsync/internal/port/database"
)

const positionsCacheKey = "positions"

// DefaultStages returns the pipeline in run order. Fixed budgets add up to
// 15%; the transfer stages share the remaining 85% by record count.
func DefaultStages(opener database.SourceOpener, opts TransferOptions, latest *LatestRefresher, now func() time.Time) []Stage {
	if now == nil {
		now = time.Now
	}
	var readingsObserver batchObserver[series.Reading]
	if latest != nil {
		readingsObserver = latest
	}
	return []Stage{
		{Descriptor: pipeline.Descriptor{ID: StageConnect, Name: "Connect to production", Budget: 2},
			Runner: connectStage{opener: opener}},
		{Descriptor: pipeline.Descriptor{ID: StageWindow, Name: "Resolve sync window", Budget: 1},
			Runner: windowStage{now: now}},
		{Descriptor: pipeline.Descriptor{ID: StageCount, Name: "Count records to sync", Budget: 3},
			Runner: countStage{targets: []countTarget{
				{stageID: StageReadings, table: series.PointReadings.Name},
				{stageID: StageAggregates5m, table: series.Aggregates5m.Name},
				{stageID: StageAggregates1d, table: series.Aggregates1d.Name, daily: true},
				{stageID: StageSessions, table: series.PollingSessions.Name},
			}}},
		{Descriptor: pipeline.Descriptor{ID: StageIdentities, Name: "Load identity mappings", ModifiesMetadata: true, Budget: 1},
			Runner: identitiesStage{}},
		{Descriptor: pipeline.Descriptor{ID: StageSystems, Name: "Map systems", ModifiesMetadata: true, Budget: 3},
			Runner: systemsStage{}},
		{Descriptor: pipeline.Descriptor{ID: StagePoints, Name: "Map monitoring points", ModifiesMetadata: true, Budget: 3},
			Runner: pointsStage{pageSize: opts.PageSize}},
		{Descriptor: pipeline.Descriptor{ID: StageReadings, Name: "Sync point readings"},
			Runner: transferStage[series.Reading]{spec: readingsSpec, opts: opts, observer: readingsObserver}},
		{Descriptor: pipeline.Descriptor{ID: StageAggregates5m, Name: "Sync 5-minute aggregates"},
			Runner: transferStage[series.Aggregate]{spec: aggregates5mSpec, opts: opts}},
		{Descriptor: pipeline.Descriptor{ID: StageAggregates1d, Name: "Sync daily aggregates"},
			Runner: transferStage[series.DailyAggregate]{spec: aggregates1dSpec, opts: opts}},
		{Descriptor: pipeline.Descriptor{ID: StageSessions, Name: "Sync polling sessions"},
			Runner: transferStage[series.Session]{spec: sessionsSpec, opts: opts}},
		{Descriptor: pipeline.Descriptor{ID: StageFinalize, Name: "Close production connection", Budget: 2},
			Runner: finalizeStage{}},
	}
}

// SyncOptions configure a SyncService.
type SyncOptions struct {
	// SourceConfigured is false when no production URL is set.
	SourceConfigured bool
	DefaultLookback  string
	CacheTTL         time.Duration
}

// SyncService owns the single active sync run and the read endpoints around it.
type SyncService struct {
	target   database.TargetStore
	orch     *Orchestrator
	gate     *SafetyGate
	opts     SyncOptions
	notifier *RunNotifier
	cache    cache.Cache
	metrics  *cfotel.Metrics
	mirror   broadcast.Broadcaster

	mu     sync.Mutex
	active *Run
}

// NewSyncService wires the service. notifier, c, metrics and mirror may be nil.
func NewSyncService(target database.TargetStore, orch *Orchestrator, gate *SafetyGate, opts SyncOptions,
	notifier *RunNotifier, c cache.Cache, metrics *cfotel.Metrics, mirror broadcast.Broadcaster,
) *SyncService {
	return &SyncService{
		target:   target,
		orch:     orch,
		gate:     gate,
		opts:     opts,
		notifier: notifier,
		cache:    c,
		metrics:  metrics,
		mirror:   mirror,
	}
}

// StartRequest describes a sync trigger.
type StartRequest struct {
	// Lookback is "auto", "<n>d" or "<n>h"; empty uses the configured default.
	Lookback string
	// Host is the request host, empty for CLI runs.
	Host    string
	Trigger string
}

// Run is a prepared sync run holding the single-run slot until Execute returns.
type Run struct {
	ID       string
	Lookback pipeline.Lookback
	Trigger  string
	Started  time.Time

	svc    *SyncService
	cancel *pipeline.Canceller
}

// RunStatus describes the active run, if any.
type RunStatus struct {
	Active   bool      `json:"active"`
	RunID    string    `json:"run_id,omitempty"`
	Lookback string    `json:"lookback,omitempty"`
	Trigger  string    `json:"trigger,omitempty"`
	Started  time.Time `json:"started_at,omitzero"`
}

// Prepare runs every pre-start check and reserves the run slot. All
// rejections happen here, before any stage starts or any event is sent.
func (s *SyncService) Prepare(ctx context.Context, req StartRequest) (*Run, error) {
	if err := s.gate.Check(req.Host); err != nil {
		slog.Warn("sync rejected by safety gate", "error", err)
		return nil, err
	}

	raw := req.Lookback
	if raw == "" {
		raw = s.opts.DefaultLookback
	}
	lb, err := pipeline.ParseLookback(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if !s.opts.SourceConfigured {
		return nil, fmt.Errorf("%w: production database url is not set", domain.ErrConfig)
	}

	if lb.Auto {
		positions, err := s.target.ListSyncPositions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sync positions: %w", err)
		}
		if _, err := syncstate.EarliestResume(positions); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, fmt.Errorf("%w: sync %s is already running", domain.ErrConflict, s.active.ID)
	}
	run := &Run{
		ID:       uuid.New().String(),
		Lookback: lb,
		Trigger:  req.Trigger,
		Started:  time.Now().UTC(),
		svc:      s,
		cancel:   pipeline.NewCanceller(),
	}
	s.active = run
	return run, nil
}

// Execute drives the run to completion on the calling goroutine. When ctx
// ends (client disconnect) the run is cancelled cooperatively; in-flight
// batches finish first.
func (r *Run) Execute(ctx context.Context, emit pipeline.Emitter) (RunSummary, error) {
	s := r.svc
	defer s.release(r)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.cancel.Cancel()
		case <-done:
		}
	}()
	runCtx := logger.WithRunID(context.WithoutCancel(ctx), r.ID)

	emitters := pipeline.Emitters{emit}
	if s.mirror != nil {
		emitters = append(emitters, mirrorEmitter{b: s.mirror, runID: r.ID})
	}

	slog.Info("sync started", "run_id", r.ID, "lookback", r.Lookback.String(), "trigger", r.Trigger)
	s.metrics.RecordRunStarted(runCtx, r.Lookback.String())
	s.notifier.Started(runCtx, r.ID, r.Lookback.String(), r.Trigger, r.Started)

	sc := NewSyncContext(r.ID, s.target, r.cancel, r.Lookback)
	summary, err := s.orch.Run(runCtx, sc, emitters)

	s.invalidate(runCtx, positionsCacheKey)
	s.notifier.Finished(runCtx, summary)
	return summary, err
}

// Abandon releases the slot of a run that will not be executed.
func (r *Run) Abandon() {
	r.svc.release(r)
}

func (s *SyncService) release(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == r {
		s.active = nil
	}
}

// Cancel requests a cooperative stop of the active run.
func (s *SyncService) Cancel() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", fmt.Errorf("no active sync: %w", domain.ErrNotFound)
	}
	s.active.cancel.Cancel()
	slog.Info("sync cancel requested", "run_id", s.active.ID)
	return s.active.ID, nil
}

// Status returns the active run, if any.
func (s *SyncService) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return RunStatus{}
	}
	return RunStatus{
		Active:   true,
		RunID:    s.active.ID,
		Lookback: s.active.Lookback.String(),
		Trigger:  s.active.Trigger,
		Started:  s.active.Started,
	}
}

// Stages returns the pipeline stages in run order.
func (s *SyncService) Stages() []pipeline.Descriptor {
	return s.orch.Descriptors()
}

// Positions returns the persisted sync positions, cached between runs.
func (s *SyncService) Positions(ctx context.Context) ([]syncstate.Position, error) {
	return cached(ctx, s, positionsCacheKey, func(ctx context.Context) ([]syncstate.Position, error) {
		return s.target.ListSyncPositions(ctx)
	})
}

// Latest returns the latest reading time of a target system.
func (s *SyncService) Latest(ctx context.Context, systemID int64) (*series.Latest, error) {
	return cached(ctx, s, latestCacheKey(systemID), func(ctx context.Context) (*series.Latest, error) {
		return s.target.GetLatest(ctx, systemID)
	})
}

// cached reads key from the cache or loads and stores it. Cache failures
// fall through to the store.
func cached[T any](ctx context.Context, s *SyncService, key string, load func(context.Context) (T, error)) (T, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		} else if err != nil {
			slog.Debug("cache get failed", "key", key, "error", err)
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
				slog.Debug("cache set failed", "key", key, "error", err)
			}
		}
	}
	return v, nil
}

func (s *SyncService) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.Debug("cache delete failed", "key", key, "error", err)
	}
}

// mirrorEmitter rebroadcasts status events to dashboard connections.
type mirrorEmitter struct {
	b     broadcast.Broadcaster
	runID string
}

// EventSyncStatus is the broadcast type of mirrored status events.
const EventSyncStatus = "sync.status"

type mirroredEvent struct {
	RunID string         `json:"run_id"`
	Event pipeline.Event `json:"event"`
}

func (m mirrorEmitter) Emit(ev pipeline.Event) {
	m.b.BroadcastEvent(context.Background(), EventSyncStatus, mirroredEvent{RunID: m.runID, Event: ev})
}

// IsCancelled reports whether err ended a run by operator request.
func IsCancelled(err error) bool {
	return errors.Is(err, domain.ErrCancelled)
}
