// Package middleware provides HTTP middleware for the devsync API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/devsync/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 64
)

// RequestID takes X-Request-ID from the request or assigns a new one, puts
// it in the context and echoes it on the response. The context value is what
// tags the log lines and NATS headers of a sync run. Incoming IDs longer
// than 64 bytes or outside [A-Za-z0-9._-] are replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	return true
}

// newRequestID returns a UUIDv7, so IDs sort by creation time in the logs.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
