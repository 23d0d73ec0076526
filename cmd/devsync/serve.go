package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/devsync/internal/adapter/http"
	cfotel "github.com/Strob0t/devsync/internal/adapter/otel"
	"github.com/Strob0t/devsync/internal/adapter/ws"
	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/middleware"
	"github.com/Strob0t/devsync/internal/secrets"
	"github.com/Strob0t/devsync/internal/service"
)

const (
	apiTimeout      = 30 * time.Second
	triggerRate     = 0.2 // per second and client
	triggerBurst    = 3
	limiterSweep    = time.Minute
	limiterIdleTime = 10 * time.Minute
)

func runServe(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := setup(flags)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	// --- Services ---

	var svc *service.SyncService
	hub := ws.NewHub(wsOrigins(cfg.Server.CORSOrigin), func() any { return svc.Status() })
	defer hub.Close()

	d, err := newDeps(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer d.Close()
	svc = d.sync

	if err := d.gate.Check(""); err != nil {
		slog.Warn("this deployment looks like production, sync endpoints will refuse every request", "error", err)
	}

	checks := map[string]cfhttp.HealthCheck{"postgres": d.store.Ping}
	if d.queue != nil {
		q, b := d.queue, d.breaker
		checks["nats"] = func(context.Context) error {
			if !q.IsConnected() {
				return errors.New("disconnected")
			}
			if state := b.State(); state == "open" {
				return fmt.Errorf("publish breaker %s", state)
			}
			return nil
		}
	}

	vault, err := secrets.NewVault(func() (secrets.Credential, error) {
		c, _, err := config.LoadWithCLI(flags)
		if err != nil {
			return secrets.Credential{}, err
		}
		return secrets.Credential{Token: c.Auth.AdminToken, Hash: c.Auth.AdminTokenHash}, nil
	})
	if err != nil {
		return err
	}
	if vault.Get().Empty() {
		slog.Warn("no admin credential configured, admin routes are closed until one is set and SIGHUP is sent")
	}
	vault.ReloadOnSignal(ctx, syscall.SIGHUP)

	handlers := &cfhttp.Handlers{
		Sync:       d.sync,
		Identities: d.identities,
		Checks:     checks,
		WS:         hub.HandleWS,
	}

	limiter := middleware.NewRateLimiter(triggerRate, triggerBurst)
	stopSweep := limiter.StartCleanup(limiterSweep, limiterIdleTime)
	defer stopSweep()

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	cfhttp.MountRoutes(r, handlers, cfhttp.RouteMiddleware{
		Guard:   middleware.ProductionGuard(d.gate),
		Auth:    middleware.AdminCredential(vault.Get),
		Trigger: limiter.Handler,
		Timeout: apiTimeout,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	// An active run stops at its next batch boundary; its stream then ends.
	if runID, err := d.sync.Cancel(); err == nil {
		slog.Info("cancelled active sync for shutdown", "run_id", runID)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// wsOrigins derives the accepted WebSocket origin host from the CORS origin.
func wsOrigins(corsOrigin string) []string {
	u, err := url.Parse(corsOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
