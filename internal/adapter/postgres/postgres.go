// Package postgres provides the PostgreSQL connection pools, the source
// (production, read-only) and target (local) stores, and the migration runner.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" driver for goose
	"github.com/pressly/goose/v3"

	"github.com/Strob0t/devsync/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool opens the local target pool.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck
	return openPool(ctx, poolCfg, "target")
}

// NewSourcePool opens the read-only production pool.
func NewSourcePool(ctx context.Context, cfg config.Source) (*pgxpool.Pool, error) {
	poolCfg, err := sourcePoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	return openPool(ctx, poolCfg, "source")
}

// sourcePoolConfig builds the pool config of the production connection.
// Every session starts read-only so no statement can mutate production.
func sourcePoolConfig(cfg config.Source) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse source dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = 0
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	params := poolCfg.ConnConfig.RuntimeParams
	params["default_transaction_read_only"] = "on"
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	return poolCfg, nil
}

// openPool creates the pool and fails fast when the server is unreachable.
func openPool(ctx context.Context, poolCfg *pgxpool.Config, role string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", role, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", role, err)
	}
	slog.Debug("postgres pool ready", "role", role,
		"host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database, "max_conns", poolCfg.MaxConns)
	return pool, nil
}

// withMigrations runs fn against a goose provider for the embedded
// migrations. The provider holds its own database/sql handle so it never
// shares connections with a running sync.
func withMigrations(ctx context.Context, dsn string, fn func(context.Context, *goose.Provider) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration provider: %w", err)
	}
	defer func() { _ = p.Close() }()
	return fn(ctx, p)
}

// RunMigrations applies every pending migration of the target schema.
func RunMigrations(ctx context.Context, dsn string) error {
	return withMigrations(ctx, dsn, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		for _, r := range results {
			slog.Info("migration applied", "version", r.Source.Version, "file", r.Source.Path, "duration", r.Duration)
		}
		return nil
	})
}

// RollbackMigrations reverts the last steps migrations.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	return withMigrations(ctx, dsn, func(ctx context.Context, p *goose.Provider) error {
		for i := range steps {
			r, err := p.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback step %d of %d: %w", i+1, steps, err)
			}
			slog.Info("migration reverted", "version", r.Source.Version, "file", r.Source.Path)
		}
		return nil
	})
}

// MigrationVersion returns the version of the newest applied migration.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	var v int64
	err := withMigrations(ctx, dsn, func(ctx context.Context, p *goose.Provider) error {
		var err error
		v, err = p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		return nil
	})
	return v, err
}
