// Package logger provides structured logging setup for devsync.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/devsync/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 1
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record and
// the request and run IDs of the context when present. With cfg.Async the
// handler buffers records; the returned Closer flushes them.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New writing to w.
func NewWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		// Single worker keeps records in order.
		async := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler, closer = async, async
	}

	return slog.New(&contextHandler{inner: handler}).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
