package service

import (
	"testing"
	"time"

	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

func TestSyncContext_Apply(t *testing.T) {
	sc := NewSyncContext("run", newFakeTarget(), nil, pipeline.Lookback{Window: 24 * time.Hour})
	if sc.View().Version != 0 {
		t.Fatalf("initial version = %d", sc.View().Version)
	}
	if sc.View().Signal.Cancelled() {
		t.Fatal("default signal cancelled")
	}

	src := &fakeSource{}
	systems := identity.NewMap[int64]()
	sc.Apply(Delta{Source: src, WindowStart: t0})
	sc.Apply(Delta{Systems: systems, Skipped: 2, Counts: pipeline.RecordCounts{"readings": 5}})
	sc.Apply(Delta{Synced: 5, Skipped: 1, Written: map[string]int64{"point_readings": 3}})
	sc.Apply(Delta{Written: map[string]int64{"point_readings": 2}})

	v := sc.View()
	if v.Version != 4 {
		t.Errorf("version = %d, want 4", v.Version)
	}
	if v.Source != src || v.Systems != systems || !v.WindowStart.Equal(t0) {
		t.Errorf("merged fields lost: %+v", v)
	}
	if v.Skipped != 3 || v.Synced != 5 {
		t.Errorf("skipped = %d, synced = %d", v.Skipped, v.Synced)
	}
	if sc.Written()["point_readings"] != 5 {
		t.Errorf("written = %v", sc.Written())
	}

	v.Counts["readings"] = 99
	if sc.View().Counts["readings"] != 5 {
		t.Error("view counts alias the context")
	}

	sc.Apply(Delta{SourceClosed: true})
	if sc.View().Source != nil {
		t.Error("source not cleared")
	}
	if sc.releaseSource() {
		t.Error("release after close reported a close")
	}
	if src.closeCount() != 0 {
		t.Error("closing the view must not call Close")
	}
}

func TestSyncContext_ReleaseSource(t *testing.T) {
	sc := NewSyncContext("run", newFakeTarget(), pipeline.NewCanceller(), pipeline.Lookback{Auto: true})
	src := &fakeSource{}
	sc.Apply(Delta{Source: src})

	if !sc.releaseSource() {
		t.Fatal("expected release")
	}
	if sc.releaseSource() {
		t.Fatal("second release closed again")
	}
	if src.closeCount() != 1 {
		t.Errorf("close count = %d", src.closeCount())
	}
}
