package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/cursor"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/progress"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
	"github.com/Strob0t/devsync/internal/port/database"
)

// Stage IDs in run order.
const (
	StageConnect      = "connect"
	StageWindow       = "window"
	StageCount        = "count"
	StageIdentities   = "identities"
	StageSystems      = "systems"
	StagePoints       = "points"
	StageReadings     = "readings"
	StageAggregates5m = "aggregates-5m"
	StageAggregates1d = "aggregates-1d"
	StageSessions     = "sessions"
	StageFinalize     = "finalize"
)

// --- connect ---

type connectStage struct {
	opener database.SourceOpener
}

func (s connectStage) Run(ctx context.Context, _ View, t *Tracker) (Outcome, error) {
	src, err := s.opener.OpenSource(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("open production connection: %w", err)
	}
	return Outcome{Detail: "connected read-only", Delta: Delta{Source: src}}, nil
}

// --- window ---

type windowStage struct {
	now func() time.Time
}

func (s windowStage) Run(ctx context.Context, v View, _ *Tracker) (Outcome, error) {
	if !v.Lookback.Auto {
		start := s.now().UTC().Add(-v.Lookback.Window)
		return Outcome{
			Detail: "last " + v.Lookback.String() + " since " + start.Format(progress.LayoutTimestamp),
			Delta:  Delta{WindowStart: start},
		}, nil
	}

	positions, err := v.Target.ListSyncPositions(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load sync positions: %w", err)
	}
	start, err := syncstate.EarliestResume(positions)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Detail: "resuming from " + start.Format(progress.LayoutTimestamp),
		Delta:  Delta{WindowStart: start},
	}, nil
}

// --- count ---

// countTarget names the source table counted for one transfer stage.
type countTarget struct {
	stageID string
	table   string
	daily   bool
}

type countStage struct {
	targets []countTarget
}

func (s countStage) Run(ctx context.Context, v View, t *Tracker) (Outcome, error) {
	counts := make(pipeline.RecordCounts, len(s.targets))
	for i, ct := range s.targets {
		if v.Signal.Cancelled() {
			return Outcome{}, domain.ErrCancelled
		}
		since := v.WindowStart
		if ct.daily {
			since = syncstate.DayStart(since)
		}
		n, err := v.Source.CountSince(ctx, ct.table, since)
		if err != nil {
			return Outcome{}, err
		}
		counts[ct.stageID] = n
		t.Tick(float64(i+1)/float64(len(s.targets)), ct.table+": "+strconv.FormatInt(n, 10))
	}
	return Outcome{
		Detail: strconv.FormatInt(counts.Total(), 10) + " records to sync",
		Delta:  Delta{Counts: counts},
	}, nil
}

// --- identities ---

type identitiesStage struct{}

func (identitiesStage) Run(ctx context.Context, v View, _ *Tracker) (Outcome, error) {
	rows, err := v.Target.ListIdentityMappings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load identity mappings: %w", err)
	}
	m, err := identity.NewExternalMap(rows)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Detail: strconv.Itoa(m.Len()) + " identity mappings",
		Delta:  Delta{Identities: m},
	}, nil
}

// --- systems ---

type systemsStage struct{}

func (systemsStage) Run(ctx context.Context, v View, t *Tracker) (Outcome, error) {
	source, err := v.Source.ListSystems(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list source systems: %w", err)
	}
	target, err := v.Target.ListSystems(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list target systems: %w", err)
	}

	m := identity.NewMap[int64]()
	res := identity.MatchInventories[inventory.System, inventory.SystemKey](source, target)
	total := int64(len(source))
	var done, created, updated, skipped int64

	tick := func() {
		done++
		t.Tick(progress.Fraction(done, total), progress.FormatCount(done, total, progress.Fraction(done, total)))
	}

	for _, match := range res.Matched {
		owner, ok := v.Identities.Lookup(match.Source.OwnerIdentity)
		if !ok {
			skipped++
			slog.Debug("system skipped, owner unmapped", "system", match.Source.NaturalKey().String(),
				"owner", identity.Truncate(match.Source.OwnerIdentity))
			tick()
			continue
		}
		want := match.Source.ForTarget(match.Target.ID, owner)
		if err := checkOwner(v.Identities, want); err != nil {
			return Outcome{}, err
		}
		if want.NeedsRefresh(match.Target) {
			if err := v.Target.UpdateSystem(ctx, want); err != nil {
				return Outcome{}, err
			}
			updated++
		}
		if err := m.Set(match.Source.ID, match.Target.ID); err != nil {
			return Outcome{}, err
		}
		tick()
	}

	for _, src := range res.Missing {
		owner, ok := v.Identities.Lookup(src.OwnerIdentity)
		if !ok {
			skipped++
			slog.Debug("system skipped, owner unmapped", "system", src.NaturalKey().String(),
				"owner", identity.Truncate(src.OwnerIdentity))
			tick()
			continue
		}
		want := src.ForTarget(0, owner)
		if err := checkOwner(v.Identities, want); err != nil {
			return Outcome{}, err
		}
		id, err := v.Target.CreateSystem(ctx, want)
		if err != nil {
			return Outcome{}, err
		}
		if err := m.Set(src.ID, id); err != nil {
			return Outcome{}, err
		}
		created++
		tick()
	}

	return Outcome{
		Detail: fmt.Sprintf("%d mapped (%d created, %d updated), %d skipped",
			m.Len(), created, updated, skipped),
		Delta: Delta{Systems: m, Skipped: skipped},
	}, nil
}

// checkOwner refuses to write a system whose owner is not a local identity
// of the mapping table.
func checkOwner(ids *identity.ExternalMap, sys inventory.System) error {
	if ids.IsTarget(sys.OwnerIdentity) {
		return nil
	}
	return fmt.Errorf("%w: system %s would be written with owner %s, which is not a mapped local identity",
		domain.ErrValidation, sys.NaturalKey().String(), identity.Truncate(sys.OwnerIdentity))
}

// --- points ---

type pointsStage struct {
	pageSize int
}

type pointPager struct {
	src database.SourceStore
}

func (p pointPager) FetchComposite(ctx context.Context, pos cursor.CompositePosition, limit int) ([]inventory.Point, error) {
	return p.src.FetchPoints(ctx, pos, limit)
}

func (pointPager) Key(p inventory.Point) cursor.CompositePosition {
	return cursor.CompositePosition{Major: p.SystemID, Minor: p.PointID}
}

// pointSink maps each fetched source point onto the target inventory.
type pointSink struct {
	view    View
	tracker *Tracker
	index   map[inventory.PointKey]inventory.Point
	points  *identity.SubEntityMap

	seen, created, updated, skipped int64
}

func (s *pointSink) Consume(ctx context.Context, batch []inventory.Point) error {
	for _, src := range batch {
		s.seen++
		sys, ok := s.view.Systems.Lookup(src.SystemID)
		if !ok {
			s.skipped++
			continue
		}
		want := src.InSystem(sys)

		if existing, ok := s.index[want.NaturalKey()]; ok {
			want.PointID = existing.PointID
			if want.NeedsRefresh(existing) {
				if err := s.view.Target.UpdatePoint(ctx, want); err != nil {
					return err
				}
				s.updated++
			}
		} else {
			id, err := s.view.Target.CreatePoint(ctx, want)
			if err != nil {
				return err
			}
			want.PointID = id
			s.index[want.NaturalKey()] = want
			s.created++
		}
		if err := s.points.Set(src.Key(), want.Key()); err != nil {
			return err
		}
	}
	s.tracker.Tick(0, fmt.Sprintf("%d points processed", s.seen))
	return nil
}

func (s pointsStage) Run(ctx context.Context, v View, t *Tracker) (Outcome, error) {
	existing, err := v.Target.ListPoints(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list target points: %w", err)
	}
	index := make(map[inventory.PointKey]inventory.Point, len(existing))
	for _, p := range existing {
		if _, dup := index[p.NaturalKey()]; !dup {
			index[p.NaturalKey()] = p
		}
	}

	sink := &pointSink{view: v, tracker: t, index: index, points: identity.NewMap[identity.SubKey]()}
	c := cursor.NewCompositeCursor(s.pageSize)
	if _, err := cursor.DrainComposite[inventory.Point](ctx, v.Signal, c, pointPager{src: v.Source}, sink); err != nil {
		return Outcome{}, err
	}

	audit := &pipeline.MappingSummary{
		Identities: v.Identities.Summaries(),
		Systems:    systemSummaries(v.Systems),
		Points:     sink.points.Len(),
		Skipped:    int(v.Skipped + sink.skipped),
	}
	return Outcome{
		Detail: fmt.Sprintf("%d mapped (%d created, %d updated), %d skipped",
			sink.points.Len(), sink.created, sink.updated, sink.skipped),
		Delta: Delta{Points: sink.points, Skipped: sink.skipped},
		Audit: audit,
	}, nil
}

func systemSummaries(m *identity.EntityMap) []string {
	pairs := m.Pairs(func(a, b int64) bool { return a < b })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = fmt.Sprintf("system %d -> %d", p.Source, p.Target)
	}
	return out
}

// --- finalize ---

type finalizeStage struct{}

func (finalizeStage) Run(_ context.Context, v View, _ *Tracker) (Outcome, error) {
	if v.Source != nil {
		v.Source.Close()
	}
	return Outcome{
		Detail: fmt.Sprintf("production connection closed; %d records synced, %d skipped", v.Synced, v.Skipped),
		Delta:  Delta{SourceClosed: true},
	}, nil
}
