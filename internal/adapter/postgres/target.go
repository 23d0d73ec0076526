package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
)

// Store implements database.TargetStore on the local development database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Batch writes ---

// InsertRows writes rows to t in one statement and returns the number of
// rows inserted or changed.
func (s *Store) InsertRows(ctx context.Context, t batch.Table, rows []batch.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) > t.MaxRowsPerStatement() {
		return 0, fmt.Errorf("%w: %d rows exceed the parameter limit of %s", domain.ErrValidation, len(rows), t.Name)
	}
	tag, err := s.pool.Exec(ctx, buildInsert(t, len(rows)), flattenRows(rows)...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", t.Name, err)
	}
	return tag.RowsAffected(), nil
}

// --- Identity mappings ---

func (s *Store) ListIdentityMappings(ctx context.Context) ([]identity.Mapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_identity, target_identity, label, created_at
		 FROM identity_mappings ORDER BY created_at, source_identity`)
	if err != nil {
		return nil, fmt.Errorf("list identity mappings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (identity.Mapping, error) {
		var m identity.Mapping
		err := row.Scan(&m.Source, &m.Target, &m.Label, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan identity mappings: %w", err)
	}
	return nonNil(out), nil
}

func (s *Store) UpsertIdentityMapping(ctx context.Context, m identity.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_mappings (source_identity, target_identity, label)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source_identity) DO UPDATE
		 SET target_identity = EXCLUDED.target_identity, label = EXCLUDED.label`,
		m.Source, m.Target, m.Label)
	if err != nil {
		return conflictOr(err, "upsert identity mapping "+m.Label)
	}
	return nil
}

func (s *Store) DeleteIdentityMapping(ctx context.Context, source string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identity_mappings WHERE source_identity = $1`, source)
	return affectedOne(tag, err, "delete identity mapping "+identity.Truncate(source))
}

// --- Systems ---

func (s *Store) ListSystems(ctx context.Context) ([]inventory.System, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, vendor_type, vendor_site_id, name, owner_identity, timezone, status, updated_at
		 FROM systems ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.System, error) {
		return scanSystem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan systems: %w", err)
	}
	return out, nil
}

func (s *Store) CreateSystem(ctx context.Context, sys inventory.System) (int64, error) {
	if err := sys.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO systems (vendor_type, vendor_site_id, name, owner_identity, timezone, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		 RETURNING id`,
		sys.VendorType, sys.VendorSiteID, sys.Name, sys.OwnerIdentity, sys.Timezone, sys.Status, nullable(sys.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, conflictOr(err, "create system "+sys.NaturalKey().String())
	}
	return id, nil
}

func (s *Store) UpdateSystem(ctx context.Context, sys inventory.System) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE systems SET name = $2, owner_identity = $3, timezone = $4, status = $5, updated_at = now()
		 WHERE id = $1`,
		sys.ID, sys.Name, sys.OwnerIdentity, sys.Timezone, sys.Status)
	return affectedOne(tag, err, fmt.Sprintf("update system %d", sys.ID))
}

// --- Points ---

func (s *Store) ListPoints(ctx context.Context) ([]inventory.Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT system_id, point_id, origin_id, origin_sub_id, name, unit, metric_type
		 FROM points ORDER BY system_id, point_id`)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Point, error) {
		return scanPoint(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan points: %w", err)
	}
	return out, nil
}

// CreatePoint allocates the next point ID within the point's system.
func (s *Store) CreatePoint(ctx context.Context, p inventory.Point) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO points (system_id, point_id, origin_id, origin_sub_id, name, unit, metric_type)
		 SELECT $1, COALESCE(MAX(point_id), 0) + 1, $2, $3, $4, $5, $6
		 FROM points WHERE system_id = $1
		 RETURNING point_id`,
		p.SystemID, p.OriginID, p.OriginSubID, p.Name, p.Unit, p.MetricType,
	).Scan(&id)
	if err != nil {
		return 0, conflictOr(err, fmt.Sprintf("create point %s/%s in system %d", p.OriginID, p.OriginSubID, p.SystemID))
	}
	return id, nil
}

func (s *Store) UpdatePoint(ctx context.Context, p inventory.Point) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE points SET name = $3, unit = $4, metric_type = $5
		 WHERE system_id = $1 AND point_id = $2`,
		p.SystemID, p.PointID, p.Name, p.Unit, p.MetricType)
	return affectedOne(tag, err, fmt.Sprintf("update point %d/%d", p.SystemID, p.PointID))
}

// --- Latest readings ---

// RefreshLatest moves the latest reading time of a system forward. An older
// readingAt leaves the row unchanged.
func (s *Store) RefreshLatest(ctx context.Context, systemID int64, readingAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_latest (system_id, latest_reading_at, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (system_id) DO UPDATE
		 SET latest_reading_at = EXCLUDED.latest_reading_at, updated_at = now()
		 WHERE EXCLUDED.latest_reading_at > system_latest.latest_reading_at`,
		systemID, readingAt)
	if err != nil {
		return fmt.Errorf("refresh latest of system %d: %w", systemID, err)
	}
	return nil
}

func (s *Store) GetLatest(ctx context.Context, systemID int64) (*series.Latest, error) {
	var l series.Latest
	err := s.pool.QueryRow(ctx,
		`SELECT system_id, latest_reading_at, updated_at FROM system_latest WHERE system_id = $1`,
		systemID).Scan(&l.SystemID, &l.ReadingAt, &l.UpdatedAt)
	if err != nil {
		return nil, noRows(err, fmt.Sprintf("get latest of system %d", systemID))
	}
	return &l, nil
}

// --- Sync positions ---

func (s *Store) ListSyncPositions(ctx context.Context) ([]syncstate.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name, last_synced_at, COALESCE(last_synced_day, ''), updated_at
		 FROM sync_status ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list sync positions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (syncstate.Position, error) {
		var p syncstate.Position
		err := row.Scan(&p.Table, &p.LastSyncedAt, &p.LastSyncedDay, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sync positions: %w", err)
	}
	return nonNil(out), nil
}

// UpsertSyncPosition records p. An identical stored value is left untouched.
func (s *Store) UpsertSyncPosition(ctx context.Context, p syncstate.Position) error {
	if p.Table == "" || (p.LastSyncedAt == nil && p.LastSyncedDay == "") {
		return fmt.Errorf("%w: empty sync position", domain.ErrValidation)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_status (table_name, last_synced_at, last_synced_day, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (table_name) DO UPDATE
		 SET last_synced_at = EXCLUDED.last_synced_at, last_synced_day = EXCLUDED.last_synced_day, updated_at = now()
		 WHERE (sync_status.last_synced_at, sync_status.last_synced_day)
		       IS DISTINCT FROM (EXCLUDED.last_synced_at, EXCLUDED.last_synced_day)`,
		p.Table, p.LastSyncedAt, nullable(p.LastSyncedDay))
	if err != nil {
		return fmt.Errorf("upsert sync position %s: %w", p.Table, err)
	}
	return nil
}
