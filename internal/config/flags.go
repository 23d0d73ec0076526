package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	SourceDSN  *string
	NatsURL    *string
	// Args are the arguments after the global flags: the subcommand and its own flags.
	Args []string
}

// ParseFlags parses the global flags accepted by every devsync subcommand.
// Parsing stops at the first non-flag argument.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("devsync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, dsn, sourceDSN, natsURL string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "local (target) PostgreSQL DSN")
	fs.StringVar(&sourceDSN, "source-dsn", "", "read-only production PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "source-dsn":
			flags.SourceDSN = &sourceDSN
		case "nats-url":
			flags.NatsURL = &natsURL
		}
	})
	flags.Args = fs.Args()
	return flags, nil
}

// applyCLI overlays set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.SourceDSN != nil {
		cfg.Source.DSN = *flags.SourceDSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// LoadWithCLI loads the config with the hierarchy defaults < YAML < ENV < CLI
// and returns the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	if err := loadEnv(&cfg); err != nil {
		return nil, "", fmt.Errorf("config env: %w", err)
	}
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}
