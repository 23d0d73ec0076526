package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouteMiddleware holds the middleware MountRoutes places in front of the
// API. Nil entries are skipped.
type RouteMiddleware struct {
	// Guard hides the API on production deployments.
	Guard func(http.Handler) http.Handler
	// Auth requires the admin credential.
	Auth func(http.Handler) http.Handler
	// Trigger limits POST /api/v1/sync.
	Trigger func(http.Handler) http.Handler
	// Timeout bounds every non-streaming API request.
	Timeout time.Duration
}

// MountRoutes registers all routes on the given chi router. /health is
// public; /ws and /api/v1 sit behind the guard and the admin credential.
// The sync trigger streams for the whole run and is exempt from Timeout.
func MountRoutes(r chi.Router, h *Handlers, mw RouteMiddleware) {
	r.Get("/health", h.Health)

	protected := r.With(present(mw.Guard, mw.Auth)...)
	if h.WS != nil {
		protected.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(present(mw.Guard, mw.Auth)...)

		r.With(present(mw.Trigger)...).Post("/sync", h.StartSync)

		r.Group(func(r chi.Router) {
			if mw.Timeout > 0 {
				r.Use(chimw.Timeout(mw.Timeout))
			}

			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": Version})
			})

			// Sync runs
			r.Get("/sync", h.SyncStatus)
			r.Delete("/sync", h.CancelSync)
			r.Get("/sync/stages", h.SyncStages)
			r.Get("/sync/positions", h.SyncPositions)

			// Target systems
			r.Get("/systems/{id}/latest", h.SystemLatest)

			// External identity mappings
			r.Get("/identities", h.ListIdentities)
			r.Put("/identities", h.PutIdentity)
			r.Post("/identities/delete", h.DeleteIdentity)
		})
	})
}

func present(mws ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
