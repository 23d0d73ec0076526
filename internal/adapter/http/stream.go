package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

// ndjsonStream writes status events as newline-delimited JSON, flushing
// after each one. After the first write error the client is treated as gone
// and further events are dropped; the run notices through the request context.
type ndjsonStream struct {
	mu     sync.Mutex
	enc    *json.Encoder
	rc     *http.ResponseController
	broken bool
}

// startStream writes the streaming response header and clears the server
// write deadline, which would otherwise cut off long runs.
func startStream(w http.ResponseWriter) *ndjsonStream {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("clear write deadline", "error", err)
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &ndjsonStream{enc: json.NewEncoder(w), rc: rc}
}

// Emit implements pipeline.Emitter.
func (s *ndjsonStream) Emit(ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return
	}
	if err := s.enc.Encode(ev); err != nil {
		s.broken = true
		slog.Debug("status stream write failed", "error", err)
		return
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.broken = true
		slog.Debug("status stream flush failed", "error", err)
	}
}
