package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware traces API requests. Health probes are not traced.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(spanName),
			otelhttp.WithFilter(traced),
		)
	}
}

func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func traced(r *http.Request) bool {
	return r.URL.Path != "/health"
}
