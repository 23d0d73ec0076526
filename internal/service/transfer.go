package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/cursor"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/progress"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
	"github.com/Strob0t/devsync/internal/port/database"
)

// seriesRow is a time-series row that can be written to a target table.
type seriesRow interface {
	Row() batch.Row
}

// batchObserver is notified after a batch has been written.
type batchObserver[T any] interface {
	Observe(ctx context.Context, written []T) error
}

// TransferOptions tune the transfer stages.
type TransferOptions struct {
	PageSize   int
	ChunkSize  int
	ChunkDelay time.Duration
}

// transferSpec describes how one source table is paged, remapped and
// written. fetch is a method expression on database.SourceStore.
type transferSpec[T seriesRow] struct {
	stageID string
	table   batch.Table
	unit    time.Duration
	daily   bool
	fetch   func(database.SourceStore, context.Context, cursor.TimePosition, int) ([]T, error)
	stamp   func(T) time.Time
	remap   func(T, View) (T, bool)
}

// start returns the first cursor value for a window starting at windowStart.
func (s transferSpec[T]) start(windowStart time.Time) time.Time {
	if s.daily {
		return syncstate.DayStart(windowStart)
	}
	return windowStart
}

// transferStage copies one time-series table from source to target.
type transferStage[T seriesRow] struct {
	spec     transferSpec[T]
	opts     TransferOptions
	observer batchObserver[T]
}

type timePager[T seriesRow] struct {
	src  database.SourceStore
	spec transferSpec[T]
}

func (p timePager[T]) FetchTime(ctx context.Context, pos cursor.TimePosition, limit int) ([]T, error) {
	return p.spec.fetch(p.src, ctx, pos, limit)
}

func (p timePager[T]) Stamp(row T) time.Time { return p.spec.stamp(row) }

// transferSink remaps and writes each fetched batch.
type transferSink[T seriesRow] struct {
	spec     transferSpec[T]
	view     View
	writer   *batch.Writer
	tracker  *Tracker
	observer batchObserver[T]
	due      int64

	fetched int64
	skipped int64
	window  pipeline.Window
}

func (s *transferSink[T]) Consume(ctx context.Context, rows []T) error {
	mapped := make([]T, 0, len(rows))
	out := make([]batch.Row, 0, len(rows))
	for _, r := range rows {
		m, ok := s.spec.remap(r, s.view)
		if !ok {
			s.skipped++
			continue
		}
		mapped = append(mapped, m)
		out = append(out, m.Row())
	}

	if _, err := s.writer.Write(ctx, out); err != nil {
		return err
	}
	if s.observer != nil && len(mapped) > 0 {
		if err := s.observer.Observe(ctx, mapped); err != nil {
			return err
		}
	}

	s.fetched += int64(len(rows))
	if len(rows) > 0 {
		if s.window.Start.IsZero() {
			s.window.Start = s.spec.stamp(rows[0])
		}
		s.window.End = s.spec.stamp(rows[len(rows)-1])
	}
	fraction := progress.Fraction(s.fetched, s.due)
	s.tracker.Tick(fraction, progress.FormatWindow(s.fetched, s.window, s.layout(), fraction))
	return nil
}

func (s *transferSink[T]) layout() string {
	if s.spec.daily {
		return progress.LayoutDay
	}
	return progress.LayoutTimestamp
}

func (s transferStage[T]) Run(ctx context.Context, v View, t *Tracker) (Outcome, error) {
	w, err := batch.NewWriter(v.Target, s.spec.table, batch.Options{
		ChunkSize: s.opts.ChunkSize,
		Delay:     s.opts.ChunkDelay,
	}, v.Signal)
	if err != nil {
		return Outcome{}, err
	}

	sink := &transferSink[T]{
		spec:     s.spec,
		view:     v,
		writer:   w,
		tracker:  t,
		observer: s.observer,
		due:      v.Counts[s.spec.stageID],
	}
	c := cursor.NewTimeCursor(s.spec.start(v.WindowStart), s.spec.unit, s.opts.PageSize)
	pager := timePager[T]{src: v.Source, spec: s.spec}

	if _, err := cursor.DrainTime[T](ctx, v.Signal, c, pager, sink); err != nil {
		return Outcome{}, err
	}

	if _, last, ok := c.Span(); ok {
		pos := syncstate.AtTime(s.spec.table.Name, last)
		if s.spec.daily {
			pos = syncstate.AtDay(s.spec.table.Name, last)
		}
		if err := v.Target.UpsertSyncPosition(ctx, pos); err != nil {
			return Outcome{}, fmt.Errorf("record sync position: %w", err)
		}
	}

	detail := progress.FormatWindow(sink.fetched, sink.window, sink.layout(), 1)
	if sink.skipped > 0 {
		detail += fmt.Sprintf(", %d skipped", sink.skipped)
	}
	return Outcome{
		Detail: detail,
		Delta: Delta{
			Synced:  sink.fetched,
			Skipped: sink.skipped,
			Written: map[string]int64{s.spec.table.Name: w.Written()},
		},
	}, nil
}

// Transfer specs of the time-series tables.

var readingsSpec = transferSpec[series.Reading]{
	stageID: StageReadings,
	table:   series.PointReadings,
	unit:    time.Microsecond,
	fetch:   database.SourceStore.FetchReadings,
	stamp:   func(r series.Reading) time.Time { return r.MeasuredAt },
	remap:   func(r series.Reading, v View) (series.Reading, bool) { return r.Remap(v.Points) },
}

var aggregates5mSpec = transferSpec[series.Aggregate]{
	stageID: StageAggregates5m,
	table:   series.Aggregates5m,
	unit:    time.Microsecond,
	fetch:   database.SourceStore.FetchAggregates5m,
	stamp:   func(a series.Aggregate) time.Time { return a.IntervalEnd },
	remap:   func(a series.Aggregate, v View) (series.Aggregate, bool) { return a.Remap(v.Points) },
}

var aggregates1dSpec = transferSpec[series.DailyAggregate]{
	stageID: StageAggregates1d,
	table:   series.Aggregates1d,
	unit:    24 * time.Hour,
	daily:   true,
	fetch:   database.SourceStore.FetchAggregates1d,
	stamp:   func(d series.DailyAggregate) time.Time { return d.Day },
	remap:   func(d series.DailyAggregate, v View) (series.DailyAggregate, bool) { return d.Remap(v.Points) },
}

var sessionsSpec = transferSpec[series.Session]{
	stageID: StageSessions,
	table:   series.PollingSessions,
	unit:    time.Microsecond,
	fetch:   database.SourceStore.FetchSessions,
	stamp:   func(s series.Session) time.Time { return s.StartedAt },
	remap:   func(s series.Session, v View) (series.Session, bool) { return s.Remap(v.Systems) },
}
