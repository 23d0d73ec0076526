package http

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterPassthrough(t *testing.T) {
	t.Run("hijack for websocket upgrade", func(t *testing.T) {
		inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		if _, _, err := rw.Hijack(); err != nil || !inner.hijacked {
			t.Fatalf("Hijack err = %v, hijacked = %v", err, inner.hijacked)
		}
	})
	t.Run("hijack unsupported", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		if _, _, err := rw.Hijack(); !errors.Is(err, http.ErrNotSupported) {
			t.Fatalf("Hijack err = %v, want ErrNotSupported", err)
		}
	})
	t.Run("flush for run stream", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
		rw.Flush()
		if !inner.Flushed {
			t.Fatal("inner writer not flushed")
		}
	})
}

func TestResponseWriterUnwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
	if rw.Unwrap() != inner {
		t.Fatal("Unwrap must return the wrapped writer")
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	var seen int
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		seen = w.(*responseWriter).status
	})
	rec := httptest.NewRecorder()
	Logger(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", http.NoBody))

	if rec.Code != http.StatusConflict || seen != http.StatusConflict {
		t.Errorf("status = %d, captured = %d, want 409", rec.Code, seen)
	}
}

func TestResponseWriterCountsBytesAndKeepsFirstStatus(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rw.Write([]byte(`{"ok":true}`))
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.status != http.StatusOK {
		t.Errorf("status = %d, want the implicit 200 of the first write", rw.status)
	}
	if rw.bytes != 11 {
		t.Errorf("bytes = %d, want 11", rw.bytes)
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/health", http.StatusOK, slog.LevelDebug},
		{"/health", http.StatusServiceUnavailable, slog.LevelError},
		{"/api/v1/sync", http.StatusOK, slog.LevelInfo},
		{"/api/v1/sync", http.StatusConflict, slog.LevelWarn},
		{"/api/v1/identities", http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%s, %d) = %s, want %s", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	const dashboard = "http://localhost:3000"
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		allowed     string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantCalled  bool
		wantAllowed string
	}{
		{"preflight from dashboard", dashboard, http.MethodOptions, dashboard, true, http.StatusNoContent, false, dashboard},
		{"get from dashboard", dashboard, http.MethodGet, dashboard, false, http.StatusOK, true, dashboard},
		{"get from elsewhere", dashboard, http.MethodGet, "http://evil.test", false, http.StatusOK, true, ""},
		{"no origin header", dashboard, http.MethodGet, "", false, http.StatusOK, true, ""},
		{"wildcard echoes origin", "*", http.MethodGet, "http://a.test", false, http.StatusOK, true, "http://a.test"},
		{"disabled", "", http.MethodGet, dashboard, false, http.StatusOK, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(tt.method, "/api/v1/sync", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus || called != tt.wantCalled {
				t.Errorf("status = %d called = %v, want %d %v", rec.Code, called, tt.wantStatus, tt.wantCalled)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if tt.wantAllowed != "" && rec.Header().Get("Access-Control-Expose-Headers") != "X-Request-ID, X-Sync-Run-ID" {
				t.Errorf("Expose-Headers = %q", rec.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
