package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/logger"
)

// readJSON decodes a single JSON object of at most limit bytes. Unknown
// fields and trailing data are rejected so a typo in "lookback" or "source"
// does not silently fall back to a default.
func readJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		err = errors.New("trailing data after JSON object")
	}
	if err == nil {
		return v, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	} else {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return v, false
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}

// writeError sends message with the request ID so operators can find the
// matching log line.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: logger.RequestID(r.Context())})
}

// domainStatus maps sentinel errors onto responses, first match wins.
// Expose controls whether the wrapped detail is shown to the caller.
var domainStatus = []struct {
	target error
	status int
	expose bool
}{
	{domain.ErrUnsafeEnvironment, http.StatusNotFound, false},
	{domain.ErrNotFound, http.StatusNotFound, false},
	{domain.ErrConflict, http.StatusConflict, true},
	{domain.ErrValidation, http.StatusBadRequest, true},
	{domain.ErrConfig, http.StatusPreconditionFailed, true},
}

// writeDomainError answers with the status of err's sentinel. Production
// rejections look like any unknown route; unmapped errors are logged and
// reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	for _, m := range domainStatus {
		if !errors.Is(err, m.target) {
			continue
		}
		switch {
		case m.target == domain.ErrUnsafeEnvironment:
			slog.WarnContext(r.Context(), "request refused by safety gate", "error", err)
			writeError(w, r, m.status, "not found")
		case m.expose:
			writeError(w, r, m.status, detail(err, m.target))
		default:
			writeError(w, r, m.status, notFound)
		}
		return
	}
	writeInternalError(w, r, err)
}

// detail strips the sentinel's own text from err so "validation error: x"
// reads as "x".
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return trimmed
	}
	return msg
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal server error")
}
