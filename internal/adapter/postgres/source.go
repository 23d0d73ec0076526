package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/cursor"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
	"github.com/Strob0t/devsync/internal/port/database"
)

// Base queries of the source tables. Cursor conditions, ordering and
// limits are appended by the cursor package.
var (
	readingsQuery = cursor.Query{SQL: `SELECT system_id, point_id, measured_at, value FROM point_readings`}

	aggregates5mQuery = cursor.Query{SQL: `SELECT system_id, point_id, interval_end, avg, min, max, samples FROM readings_agg_5m`}

	aggregates1dQuery = cursor.Query{SQL: `SELECT system_id, point_id, day::timestamp AT TIME ZONE 'UTC', energy, min, max, samples FROM readings_agg_1d`}

	sessionsQuery = cursor.Query{SQL: `SELECT system_id, started_at, finished_at, status, records_fetched, COALESCE(error, '') FROM polling_sessions`}

	pointsQuery = cursor.Query{SQL: `SELECT system_id, point_id, origin_id, origin_sub_id, name, unit, metric_type FROM points`}
)

// cursorColumn is the cursor column of a countable source table. Date
// columns are compared by calendar day in UTC.
type cursorColumn struct {
	name string
	date bool
}

var cursorColumns = map[string]cursorColumn{
	series.PointReadings.Name:   {name: "measured_at"},
	series.Aggregates5m.Name:    {name: "interval_end"},
	series.Aggregates1d.Name:    {name: "day", date: true},
	series.PollingSessions.Name: {name: "started_at"},
}

// Source implements database.SourceStore on the read-only production pool.
type Source struct {
	pool *pgxpool.Pool
}

// NewSource wraps an already opened source pool.
func NewSource(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// Close releases the pool.
func (s *Source) Close() {
	s.pool.Close()
}

func (s *Source) ListSystems(ctx context.Context) ([]inventory.System, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, vendor_type, vendor_site_id, name, owner_identity, timezone, status, updated_at
		 FROM systems ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list source systems: %w", err)
	}
	systems, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.System, error) {
		return scanSystem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan source systems: %w", err)
	}
	return systems, nil
}

func (s *Source) FetchPoints(ctx context.Context, pos cursor.CompositePosition, limit int) ([]inventory.Point, error) {
	sql, args := cursor.CompositePage(pointsQuery, "system_id", "point_id", pos, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch source points: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Point, error) {
		return scanPoint(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan source points: %w", err)
	}
	return points, nil
}

func (s *Source) FetchReadings(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Reading, error) {
	sql, args := cursor.TimePage(readingsQuery, "measured_at", []string{"system_id", "point_id"}, pos, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (series.Reading, error) {
		var r series.Reading
		err := row.Scan(&r.SystemID, &r.PointID, &r.MeasuredAt, &r.Value)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan readings: %w", err)
	}
	return out, nil
}

func (s *Source) FetchAggregates5m(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Aggregate, error) {
	sql, args := cursor.TimePage(aggregates5mQuery, "interval_end", []string{"system_id", "point_id"}, pos, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch 5m aggregates: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (series.Aggregate, error) {
		var a series.Aggregate
		err := row.Scan(&a.SystemID, &a.PointID, &a.IntervalEnd, &a.Avg, &a.Min, &a.Max, &a.Samples)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan 5m aggregates: %w", err)
	}
	return out, nil
}

func (s *Source) FetchAggregates1d(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.DailyAggregate, error) {
	pos.Value = syncstate.DayStart(pos.Value)
	sql, args := cursor.TimePage(aggregates1dQuery, "day", []string{"system_id", "point_id"}, pos, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch daily aggregates: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (series.DailyAggregate, error) {
		var d series.DailyAggregate
		err := row.Scan(&d.SystemID, &d.PointID, &d.Day, &d.Energy, &d.Min, &d.Max, &d.Samples)
		d.Day = d.Day.UTC()
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan daily aggregates: %w", err)
	}
	return out, nil
}

func (s *Source) FetchSessions(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Session, error) {
	sql, args := cursor.TimePage(sessionsQuery, "started_at", []string{"system_id"}, pos, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch polling sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (series.Session, error) {
		var ss series.Session
		err := row.Scan(&ss.SystemID, &ss.StartedAt, &ss.FinishedAt, &ss.Status, &ss.RecordsFetched, &ss.Error)
		return ss, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan polling sessions: %w", err)
	}
	return out, nil
}

// CountSince counts rows of table whose cursor column is at or after since.
// Only the tables in cursorColumns are accepted.
func (s *Source) CountSince(ctx context.Context, table string, since time.Time) (int64, error) {
	col, ok := cursorColumns[table]
	if !ok {
		return 0, fmt.Errorf("%w: no cursor column for table %q", domain.ErrValidation, table)
	}
	if col.date {
		since = syncstate.DayStart(since)
	}
	sql := "SELECT count(*) FROM " + quoteIdent(table) + " WHERE " + quoteIdent(col.name) + " >= $1"
	var n int64
	if err := s.pool.QueryRow(ctx, sql, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Opener opens a fresh read-only source pool per run.
type Opener struct {
	cfg config.Source
}

// NewOpener returns an Opener for cfg.
func NewOpener(cfg config.Source) *Opener {
	return &Opener{cfg: cfg}
}

// OpenSource implements database.SourceOpener.
func (o *Opener) OpenSource(ctx context.Context) (database.SourceStore, error) {
	if o.cfg.DSN == "" {
		return nil, fmt.Errorf("%w: production database url is not set", domain.ErrConfig)
	}
	pool, err := NewSourcePool(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	return NewSource(pool), nil
}

func scanSystem(row scannable) (inventory.System, error) {
	var s inventory.System
	err := row.Scan(&s.ID, &s.VendorType, &s.VendorSiteID, &s.Name, &s.OwnerIdentity, &s.Timezone, &s.Status, &s.UpdatedAt)
	return s, err
}

func scanPoint(row scannable) (inventory.Point, error) {
	var p inventory.Point
	err := row.Scan(&p.SystemID, &p.PointID, &p.OriginID, &p.OriginSubID, &p.Name, &p.Unit, &p.MetricType)
	return p, err
}
