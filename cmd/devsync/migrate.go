package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/devsync/internal/adapter/postgres"
	"github.com/Strob0t/devsync/internal/config"
)

// runMigrate applies or rolls back the local schema.
func runMigrate(flags config.CLIFlags, args []string) error {
	action := "up"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		action, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := setup(flags)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := newGate(cfg).Check(""); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	switch action {
	case "up":
		return postgres.RunMigrations(ctx, cfg.Postgres.DSN)
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		return postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, v)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %s (want up, down or version)", action)
	}
}
