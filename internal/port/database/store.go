// Package database defines the store ports (interfaces) of the sync pipeline.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/cursor"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
)

// SourceStore is the read-only production store. Implementations must not
// expose any write operation.
type SourceStore interface {
	// Inventory
	ListSystems(ctx context.Context) ([]inventory.System, error)
	FetchPoints(ctx context.Context, pos cursor.CompositePosition, limit int) ([]inventory.Point, error)

	// Time series, paginated by timestamp cursor
	FetchReadings(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Reading, error)
	FetchAggregates5m(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Aggregate, error)
	FetchAggregates1d(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.DailyAggregate, error)
	FetchSessions(ctx context.Context, pos cursor.TimePosition, limit int) ([]series.Session, error)

	// CountSince returns the number of rows of table with cursor value >= since.
	CountSince(ctx context.Context, table string, since time.Time) (int64, error)

	Close()
}

// SourceOpener opens a fresh source connection for one run.
type SourceOpener interface {
	OpenSource(ctx context.Context) (SourceStore, error)
}

// TargetStore is the local development store.
type TargetStore interface {
	batch.Inserter

	// External identity map
	ListIdentityMappings(ctx context.Context) ([]identity.Mapping, error)
	UpsertIdentityMapping(ctx context.Context, m identity.Mapping) error
	DeleteIdentityMapping(ctx context.Context, source string) error

	// Inventory
	ListSystems(ctx context.Context) ([]inventory.System, error)
	CreateSystem(ctx context.Context, s inventory.System) (int64, error)
	UpdateSystem(ctx context.Context, s inventory.System) error
	ListPoints(ctx context.Context) ([]inventory.Point, error)
	CreatePoint(ctx context.Context, p inventory.Point) (int64, error)
	UpdatePoint(ctx context.Context, p inventory.Point) error

	// Derived latest reading per system
	RefreshLatest(ctx context.Context, systemID int64, readingAt time.Time) error
	GetLatest(ctx context.Context, systemID int64) (*series.Latest, error)

	// Sync positions
	ListSyncPositions(ctx context.Context) ([]syncstate.Position, error)
	UpsertSyncPosition(ctx context.Context, p syncstate.Position) error
}
