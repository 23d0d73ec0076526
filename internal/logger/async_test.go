package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captured struct {
	mu      sync.Mutex
	records []slog.Record
}

// captureHandler stores records, optionally pausing until release is closed.
// Handlers derived with WithAttrs write to the same store.
type captureHandler struct {
	store   *captured
	attrs   []slog.Attr
	release chan struct{}
	entered chan struct{}
}

func newCapture(release chan struct{}) *captureHandler {
	return &captureHandler{store: &captured{}, release: release}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	if h.entered != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
	}
	if h.release != nil {
		<-h.release
	}
	rec.AddAttrs(h.attrs...)
	h.store.mu.Lock()
	h.store.records = append(h.store.records, rec)
	h.store.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{store: h.store, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...), release: h.release}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) messages() []string {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	out := make([]string, len(h.store.records))
	for i, r := range h.store.records {
		out[i] = r.Message
	}
	return out
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_PreservesOrderWithOneWorker(t *testing.T) {
	inner := newCapture(nil)
	h := NewAsyncHandler(inner, 64, 1)
	for _, msg := range []string{"stage started", "batch written", "stage completed"} {
		if err := h.Handle(context.Background(), record(slog.LevelInfo, msg)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	h.Close()

	got := inner.messages()
	want := []string{"stage started", "batch written", "stage completed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAsyncHandler_ConcurrentProducers(t *testing.T) {
	inner := newCapture(nil)
	h := NewAsyncHandler(inner, 8192, 3)

	const producers, each = 20, 200
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				_ = h.Handle(context.Background(), record(slog.LevelDebug, "row"))
			}
		}()
	}
	wg.Wait()
	h.Close()

	if got := len(inner.messages()); got != producers*each {
		t.Fatalf("records = %d, want %d", got, producers*each)
	}
	if h.DroppedCount() != 0 {
		t.Fatalf("dropped = %d with room to spare", h.DroppedCount())
	}
}

func TestAsyncHandler_DropsInfoButKeepsWarnings(t *testing.T) {
	release := make(chan struct{})
	inner := newCapture(release)
	inner.entered = make(chan struct{}, 1)
	h := NewAsyncHandler(inner, 1, 1)

	// The worker holds the first record; the buffer then takes one more.
	_ = h.Handle(context.Background(), record(slog.LevelInfo, "progress"))
	<-inner.entered
	for range 10 {
		_ = h.Handle(context.Background(), record(slog.LevelInfo, "progress"))
	}
	if h.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped while the buffer is full")
	}

	done := make(chan struct{})
	go func() {
		_ = h.Handle(context.Background(), record(slog.LevelError, "stage failed"))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("error record returned before there was room for it")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("error record never enqueued")
	}
	h.Close()

	msgs := inner.messages()
	found := false
	for _, m := range msgs {
		if m == "stage failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("error record missing from %v", msgs)
	}
	if last := msgs[len(msgs)-1]; last != "async logger dropped records" {
		t.Fatalf("last record = %q, want drop report", last)
	}
}

func TestAsyncHandler_HandleAfterCloseIsSynchronous(t *testing.T) {
	inner := newCapture(nil)
	h := NewAsyncHandler(inner, 4, 1)
	h.Close()
	h.Close()

	if err := h.Handle(context.Background(), record(slog.LevelInfo, "late")); err != nil {
		t.Fatalf("Handle after Close: %v", err)
	}
	if got := inner.messages(); len(got) != 1 || got[0] != "late" {
		t.Fatalf("records = %v", got)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := newCapture(nil)
	h := NewAsyncHandler(inner, 16, 1)
	child := h.WithAttrs([]slog.Attr{slog.String("stage", "readings")})

	_ = child.Handle(context.Background(), record(slog.LevelInfo, "copied"))
	h.Close()

	inner.store.mu.Lock()
	defer inner.store.mu.Unlock()
	if len(inner.store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(inner.store.records))
	}
	var stage string
	inner.store.records[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "stage" {
			stage = a.Value.String()
		}
		return true
	})
	if stage != "readings" {
		t.Fatalf("stage attr = %q", stage)
	}
}
