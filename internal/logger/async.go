package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// queue is shared by an AsyncHandler and every handler derived from it.
type queue struct {
	mu      sync.RWMutex // guards closed and sends on ch
	closed  bool
	ch      chan job
	workers sync.WaitGroup
	dropped atomic.Int64
}

type job struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to background workers so batch loops never wait
// on log output. Debug and Info records are dropped when the buffer is full;
// Warn and above wait for room because stage failures must reach the log.
type AsyncHandler struct {
	inner slog.Handler
	q     *queue
}

// NewAsyncHandler starts workers draining a buffer of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	q := &queue{ch: make(chan job, size)}
	for range workers {
		q.workers.Add(1)
		go func() {
			defer q.workers.Done()
			for j := range q.ch {
				_ = j.h.Handle(context.Background(), j.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues rec. After Close it writes synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		return h.inner.Handle(ctx, rec)
	}
	j := job{h: h.inner, rec: rec}
	if rec.Level >= slog.LevelWarn {
		h.q.ch <- j
		return nil
	}
	select {
	case h.q.ch <- j:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns how many records were discarded for lack of room.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the buffer and stops the workers. A non-zero drop count is
// written as a final warning. Calling Close again is a no-op.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()

	h.q.workers.Wait()
	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
