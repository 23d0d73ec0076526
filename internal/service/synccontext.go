package service

import (
	"maps"
	"time"

	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/port/database"
)

// View is the read-only snapshot of a run handed to one stage. Stages never
// hold on to a View after returning; the orchestrator builds a fresh one
// for every stage.
type View struct {
	Version int
	RunID   string

	Source database.SourceStore
	Target database.TargetStore
	Signal pipeline.Signal

	Lookback    pipeline.Lookback
	WindowStart time.Time

	Identities *identity.ExternalMap
	Systems    *identity.EntityMap
	Points     *identity.SubEntityMap

	Counts  pipeline.RecordCounts
	Synced  int64
	Skipped int64
}

// Delta is the partial update a stage returns. Nil or zero fields leave the
// accumulated value unchanged; Synced and Skipped are added.
type Delta struct {
	Source       database.SourceStore
	SourceClosed bool
	WindowStart  time.Time
	Identities   *identity.ExternalMap
	Systems      *identity.EntityMap
	Points       *identity.SubEntityMap
	Counts       pipeline.RecordCounts
	Synced       int64
	Skipped      int64
	Written      map[string]int64
}

// SyncContext is the single mutable accumulator of one run. Only the
// orchestrator applies deltas to it.
type SyncContext struct {
	view    View
	written map[string]int64
}

// NewSyncContext starts an empty context for one run.
func NewSyncContext(runID string, target database.TargetStore, sig pipeline.Signal, lookback pipeline.Lookback) *SyncContext {
	if sig == nil {
		sig = pipeline.Never{}
	}
	return &SyncContext{
		view: View{
			RunID:    runID,
			Target:   target,
			Signal:   sig,
			Lookback: lookback,
			Counts:   pipeline.RecordCounts{},
		},
		written: make(map[string]int64),
	}
}

// View returns the current snapshot.
func (c *SyncContext) View() View {
	v := c.view
	v.Counts = maps.Clone(c.view.Counts)
	return v
}

// Apply shallow-merges d and bumps the version.
func (c *SyncContext) Apply(d Delta) {
	v := &c.view
	if d.Source != nil {
		v.Source = d.Source
	}
	if d.SourceClosed {
		v.Source = nil
	}
	if !d.WindowStart.IsZero() {
		v.WindowStart = d.WindowStart
	}
	if d.Identities != nil {
		v.Identities = d.Identities
	}
	if d.Systems != nil {
		v.Systems = d.Systems
	}
	if d.Points != nil {
		v.Points = d.Points
	}
	if d.Counts != nil {
		v.Counts = maps.Clone(d.Counts)
	}
	v.Synced += d.Synced
	v.Skipped += d.Skipped
	for table, n := range d.Written {
		c.written[table] += n
	}
	v.Version++
}

// Written returns the rows written per target table so far.
func (c *SyncContext) Written() map[string]int64 {
	return maps.Clone(c.written)
}

// releaseSource closes the source store if a stage opened it and none has
// closed it yet.
func (c *SyncContext) releaseSource() bool {
	if c.view.Source == nil {
		return false
	}
	c.view.Source.Close()
	c.view.Source = nil
	return true
}
