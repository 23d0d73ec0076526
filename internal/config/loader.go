package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "devsync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML decodes the file at path over cfg. A missing file is not an
// error; an unknown key is, so a misspelt safety list cannot be ignored.
func loadYAML(cfg *Config, path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied config path
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays the non-empty environment variables onto cfg. Values
// that do not parse are reported together.
func loadEnv(cfg *Config) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(env(&cfg.Server.Port, "DEVSYNC_PORT", str))
	add(env(&cfg.Server.CORSOrigin, "DEVSYNC_CORS_ORIGIN", str))
	add(env(&cfg.Server.ShutdownTimeout, "DEVSYNC_SHUTDOWN_TIMEOUT", time.ParseDuration))

	add(env(&cfg.Postgres.DSN, "DATABASE_URL", str))
	add(env(&cfg.Postgres.MaxConns, "DEVSYNC_PG_MAX_CONNS", integer[int32](32)))
	add(env(&cfg.Postgres.MinConns, "DEVSYNC_PG_MIN_CONNS", integer[int32](32)))
	add(env(&cfg.Postgres.MaxConnLifetime, "DEVSYNC_PG_MAX_CONN_LIFETIME", time.ParseDuration))
	add(env(&cfg.Postgres.MaxConnIdleTime, "DEVSYNC_PG_MAX_CONN_IDLE_TIME", time.ParseDuration))
	add(env(&cfg.Postgres.HealthCheck, "DEVSYNC_PG_HEALTH_CHECK", time.ParseDuration))

	// Source
	add(env(&cfg.Source.DSN, "PRODUCTION_DATABASE_URL", str))
	add(env(&cfg.Source.MaxConns, "DEVSYNC_SOURCE_MAX_CONNS", integer[int32](32)))
	add(env(&cfg.Source.ConnectTimeout, "DEVSYNC_SOURCE_CONNECT_TIMEOUT", time.ParseDuration))
	add(env(&cfg.Source.StatementTimeout, "DEVSYNC_SOURCE_STATEMENT_TIMEOUT", time.ParseDuration))

	// Sync
	add(env(&cfg.Sync.PageSize, "DEVSYNC_PAGE_SIZE", integer[int](strconv.IntSize)))
	add(env(&cfg.Sync.ChunkSize, "DEVSYNC_CHUNK_SIZE", integer[int](strconv.IntSize)))
	add(env(&cfg.Sync.ChunkDelay, "DEVSYNC_CHUNK_DELAY", time.ParseDuration))
	add(env(&cfg.Sync.DefaultLookback, "DEVSYNC_DEFAULT_LOOKBACK", str))
	add(env(&cfg.Sync.EnvironmentVar, "DEVSYNC_ENVIRONMENT_VAR", str))
	add(env(&cfg.Sync.ProductionHosts, "DEVSYNC_PRODUCTION_HOSTS", list))
	add(env(&cfg.Sync.ProductionIdentifiers, "DEVSYNC_PRODUCTION_IDENTIFIERS", list))

	// Auth
	add(env(&cfg.Auth.AdminToken, "DEVSYNC_ADMIN_TOKEN", str))
	add(env(&cfg.Auth.AdminTokenHash, "DEVSYNC_ADMIN_TOKEN_HASH", str))

	add(env(&cfg.Logging.Level, "DEVSYNC_LOG_LEVEL", str))
	add(env(&cfg.Logging.Service, "DEVSYNC_LOG_SERVICE", str))
	add(env(&cfg.Logging.Async, "DEVSYNC_LOG_ASYNC", strconv.ParseBool))

	add(env(&cfg.NATS.URL, "NATS_URL", str))

	// Cache
	add(env(&cfg.Cache.L1MaxSizeMB, "DEVSYNC_CACHE_L1_SIZE_MB", integer[int64](64)))
	add(env(&cfg.Cache.L1TTL, "DEVSYNC_CACHE_L1_TTL", time.ParseDuration))
	add(env(&cfg.Cache.L2Bucket, "DEVSYNC_CACHE_L2_BUCKET", str))
	add(env(&cfg.Cache.L2TTL, "DEVSYNC_CACHE_L2_TTL", time.ParseDuration))

	add(env(&cfg.Breaker.MaxFailures, "DEVSYNC_BREAKER_MAX_FAILURES", integer[int](strconv.IntSize)))
	add(env(&cfg.Breaker.Timeout, "DEVSYNC_BREAKER_TIMEOUT", time.ParseDuration))

	// OpenTelemetry
	add(env(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", str))
	add(env(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME", str))
	add(env(&cfg.OTEL.Insecure, "DEVSYNC_OTEL_INSECURE", strconv.ParseBool))
	add(env(&cfg.OTEL.SampleRate, "DEVSYNC_OTEL_SAMPLE_RATE", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	}))

	return errors.Join(errs...)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Source.MaxConns < 1 {
		return errors.New("source.max_conns must be >= 1")
	}
	if cfg.Sync.PageSize < 1 {
		return errors.New("sync.page_size must be >= 1")
	}
	if cfg.Sync.ChunkSize < 1 || cfg.Sync.ChunkSize > batch.MaxParams {
		return fmt.Errorf("sync.chunk_size must be between 1 and %d", batch.MaxParams)
	}
	if cfg.Sync.ChunkDelay < 0 {
		return errors.New("sync.chunk_delay must be >= 0")
	}
	if _, err := pipeline.ParseLookback(cfg.Sync.DefaultLookback); err != nil {
		return fmt.Errorf("sync.default_lookback: %w", err)
	}
	if cfg.Sync.EnvironmentVar == "" {
		return errors.New("sync.environment_var is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

// env parses the value of key into dst when the variable is set.
func env[T any](dst *T, key string, parse func(string) (T, error)) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := parse(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = parsed
	return nil
}

func str(v string) (string, error) { return v, nil }

// list splits a comma-separated value, dropping empty items.
func list(v string) ([]string, error) {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// integer returns a parser for a signed integer of the given bit size.
func integer[T int | int32 | int64](bits int) func(string) (T, error) {
	return func(v string) (T, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, bits)
		return T(n), err
	}
}
