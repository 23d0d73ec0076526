package middleware

import (
	"log/slog"
	"net/http"
)

// HostChecker evaluates the production predicates for a request host.
type HostChecker interface {
	Check(host string) error
}

// ProductionGuard hides the routes it wraps when the gate detects a
// production deployment. Rejected requests get a plain 404 so the endpoint's
// existence is not revealed.
func ProductionGuard(gate HostChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.Check(r.Host); err != nil {
				slog.Warn("request blocked by production guard", "path", r.URL.Path, "error", err)
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
