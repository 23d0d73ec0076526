package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/service"
)

// Version is reported by GET /api/v1/.
const Version = "0.1.0"

const smallBodyLimit = 4 << 10

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers of the devsync API.
type Handlers struct {
	Sync       *service.SyncService
	Identities *service.IdentityService
	// Checks are run by /health; a failing check turns the response into 503.
	Checks map[string]HealthCheck
	// WS upgrades dashboard connections; nil disables /ws.
	WS http.HandlerFunc
}

type syncRequest struct {
	Lookback string `json:"lookback"`
}

// StartSync runs a sync and streams its status events as NDJSON on the
// response. The lookback comes from ?lookback= or a JSON body. Every
// rejection is a plain JSON error sent before the stream starts.
func (h *Handlers) StartSync(w http.ResponseWriter, r *http.Request) {
	lookback := r.URL.Query().Get("lookback")
	if lookback == "" && r.ContentLength > 0 {
		req, ok := readJSON[syncRequest](w, r, smallBodyLimit)
		if !ok {
			return
		}
		lookback = req.Lookback
	}

	run, err := h.Sync.Prepare(r.Context(), service.StartRequest{
		Lookback: lookback,
		Host:     r.Host,
		Trigger:  "http",
	})
	if err != nil {
		writeDomainError(w, r, err, "not found")
		return
	}

	w.Header().Set("X-Sync-Run-ID", run.ID)
	stream := startStream(w)
	_, _ = run.Execute(r.Context(), stream)
}

// CancelSync requests a cooperative stop of the active run.
func (h *Handlers) CancelSync(w http.ResponseWriter, r *http.Request) {
	runID, err := h.Sync.Cancel()
	if err != nil {
		writeDomainError(w, r, err, "no active sync")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// SyncStatus reports the active run, if any.
func (h *Handlers) SyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.Status())
}

// SyncStages lists the pipeline stages in run order.
func (h *Handlers) SyncStages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.Stages())
}

// SyncPositions lists the persisted sync positions.
func (h *Handlers) SyncPositions(w http.ResponseWriter, r *http.Request) {
	listJSON(h.Sync.Positions)(w, r)
}

// SystemLatest returns the latest reading time of a target system.
func (h *Handlers) SystemLatest(w http.ResponseWriter, r *http.Request) {
	getByID(h.Sync.Latest, "system has no readings")(w, r)
}

// ListIdentities lists the identity mappings with truncated identities.
func (h *Handlers) ListIdentities(w http.ResponseWriter, r *http.Request) {
	listJSON(h.Identities.List)(w, r)
}

// PutIdentity creates or replaces the mapping of one source identity.
func (h *Handlers) PutIdentity(w http.ResponseWriter, r *http.Request) {
	putJSON(smallBodyLimit, func(ctx context.Context, m *identity.Mapping) (*service.IdentitySummary, error) {
		m.CreatedAt = time.Time{}
		if err := h.Identities.Map(ctx, *m); err != nil {
			return nil, err
		}
		return &service.IdentitySummary{
			Source: identity.Truncate(m.Source),
			Target: identity.Truncate(m.Target),
			Label:  m.Label,
		}, nil
	})(w, r)
}

type deleteIdentityRequest struct {
	Source string `json:"source"`
}

// DeleteIdentity removes the mapping of one source identity. The identity
// travels in the body so it stays out of URLs and access logs.
func (h *Handlers) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	deleteJSON(smallBodyLimit, func(ctx context.Context, req *deleteIdentityRequest) error {
		if req.Source == "" {
			return fmt.Errorf("%w: source is required", domain.ErrValidation)
		}
		return h.Identities.Unmap(ctx, req.Source)
	}, "identity mapping not found")(w, r)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every dependency check.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	status := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
