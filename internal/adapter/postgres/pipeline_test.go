package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/devsync/internal/adapter/postgres"
	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/service"
)

type eventLog struct{ events []pipeline.Event }

func (l *eventLog) Emit(ev pipeline.Event) { l.events = append(l.events, ev) }

// TestPipeline_EndToEnd runs a full sync from one migrated database into
// another. SOURCE_DATABASE_URL stands in for production.
func TestPipeline_EndToEnd(t *testing.T) {
	targetDSN := os.Getenv("DATABASE_URL")
	sourceDSN := os.Getenv("SOURCE_DATABASE_URL")
	if targetDSN == "" || sourceDSN == "" {
		t.Skip("requires DATABASE_URL and SOURCE_DATABASE_URL")
	}
	if targetDSN == sourceDSN {
		t.Skip("source and target must be different databases")
	}
	ctx := context.Background()

	for _, dsn := range []string{targetDSN, sourceDSN} {
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			t.Fatalf("run migrations: %v", err)
		}
	}
	targetPool, err := pgxpool.New(ctx, targetDSN)
	if err != nil {
		t.Fatalf("target pool: %v", err)
	}
	t.Cleanup(targetPool.Close)
	seedPool, err := pgxpool.New(ctx, sourceDSN)
	if err != nil {
		t.Fatalf("source pool: %v", err)
	}
	t.Cleanup(seedPool.Close)

	target := postgres.NewStore(targetPool)
	seed := postgres.NewStore(seedPool)

	// Seed production with one system owned by a mapped identity.
	prodOwner := "user_prod_" + uuid.New().String()[:12]
	devOwner := "user_dev_" + uuid.New().String()[:12]
	site := "site-" + uuid.New().String()[:8]
	sysID, err := seed.CreateSystem(ctx, inventory.System{
		VendorType: "SunLink", VendorSiteID: site, Name: "E2E roof",
		OwnerIdentity: prodOwner, Timezone: "Europe/Berlin", Status: "active",
	})
	if err != nil {
		t.Fatalf("seed system: %v", err)
	}
	pointID, err := seed.CreatePoint(ctx, inventory.Point{SystemID: sysID, OriginID: "inv-1", Name: "Inverter", Unit: "W", MetricType: "power"})
	if err != nil {
		t.Fatalf("seed point: %v", err)
	}
	measured := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	v := 42.0
	if _, err := seed.InsertRows(ctx, series.PointReadings, []batch.Row{
		series.Reading{SystemID: sysID, PointID: pointID, MeasuredAt: measured, Value: &v}.Row(),
	}); err != nil {
		t.Fatalf("seed reading: %v", err)
	}

	if err := target.UpsertIdentityMapping(ctx, identity.Mapping{Source: prodOwner, Target: devOwner, Label: "e2e"}); err != nil {
		t.Fatalf("map identity: %v", err)
	}
	t.Cleanup(func() { _ = target.DeleteIdentityMapping(context.Background(), prodOwner) })

	cfg := config.Defaults()
	cfg.Source.DSN = sourceDSN
	stages := service.DefaultStages(postgres.NewOpener(cfg.Source),
		service.TransferOptions{PageSize: cfg.Sync.PageSize, ChunkSize: cfg.Sync.ChunkSize},
		service.NewLatestRefresher(target, nil), nil)
	gate := &service.SafetyGate{StoreURL: targetDSN, Getenv: func(string) string { return "development" }}
	svc := service.NewSyncService(target, service.NewOrchestrator(stages, nil), gate,
		service.SyncOptions{SourceConfigured: true, DefaultLookback: "1d"}, nil, nil, nil, nil)

	run, err := svc.Prepare(ctx, service.StartRequest{Lookback: "1d", Trigger: "test"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	events := &eventLog{}
	summary, err := run.Execute(ctx, events)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.Status != service.RunCompleted {
		t.Fatalf("status = %q", summary.Status)
	}
	if last := events.events[len(events.events)-1]; last.Type != pipeline.EventComplete {
		t.Fatalf("last event = %+v", last)
	}
	if summary.Written[series.PointReadings.Name] < 1 {
		t.Errorf("written = %v, want at least one reading", summary.Written)
	}

	systems, err := target.ListSystems(ctx)
	if err != nil {
		t.Fatalf("list target systems: %v", err)
	}
	var copied *inventory.System
	for i := range systems {
		if systems[i].VendorSiteID == site {
			copied = &systems[i]
		}
	}
	if copied == nil {
		t.Fatal("system was not copied")
	}
	if copied.OwnerIdentity != devOwner {
		t.Errorf("owner = %q, want the mapped local identity", copied.OwnerIdentity)
	}

	latest, err := target.GetLatest(ctx, copied.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.ReadingAt.Equal(measured) {
		t.Errorf("latest = %v, want %v", latest.ReadingAt, measured)
	}

	// A second run writes nothing new.
	run, err = svc.Prepare(ctx, service.StartRequest{Lookback: "1d", Trigger: "test"})
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	again, err := run.Execute(ctx, &eventLog{})
	if err != nil {
		t.Fatalf("execute again: %v", err)
	}
	if n := again.Written[series.PointReadings.Name]; n != 0 {
		t.Errorf("second run wrote %d readings, want 0", n)
	}
}
