// Command devsync copies recent production data into a local development
// database. It serves the sync API, runs syncs from the terminal, and
// maintains the local schema and identity mappings.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		printHelp()
		return err
	}

	cmd, rest := "serve", flags.Args
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "help":
		printHelp()
		return nil
	case "serve":
		return runServe(flags, rest)
	case "sync":
		return runSync(flags, rest)
	case "migrate":
		return runMigrate(flags, rest)
	case "admin":
		return runAdmin(flags, rest)
	case "watch":
		return runWatch(flags, rest)
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: devsync [global options] <command> [options]

Commands:
  serve      Serve the sync API and dashboard stream (default)
  sync       Run one sync from the terminal
  migrate    Apply or roll back the local schema (up, down, version)
  admin      Maintain identity mappings and inspect sync positions
  watch      Print run notifications from NATS
  help       Show this help message

Global options:
  -c, --config PATH     YAML config file (default devsync.yaml)
  -p, --port PORT       HTTP port
  --log-level LEVEL     debug, info, warn or error
  --dsn DSN             local PostgreSQL DSN
  --source-dsn DSN      read-only production PostgreSQL DSN
  --nats-url URL        NATS URL

Examples:
  devsync serve
  devsync --source-dsn "$PROD_RO_URL" sync --lookback 7d
  devsync sync --lookback auto
  devsync migrate up
  devsync admin list-identities
`)
}

// setup loads the configuration and installs the default logger. The
// returned function flushes buffered log records.
func setup(flags config.CLIFlags) (*config.Config, func(), error) {
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"config_file", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"source_configured", cfg.Source.DSN != "",
		"nats_configured", cfg.NATS.URL != "",
	)
	return cfg, closer.Close, nil
}
