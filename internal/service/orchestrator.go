package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	cfotel "github.com/Strob0t/devsync/internal/adapter/otel"
	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/progress"
)

// StageRunner executes one stage against a snapshot of the run.
type StageRunner interface {
	Run(ctx context.Context, v View, t *Tracker) (Outcome, error)
}

// Outcome is what a stage hands back to the orchestrator.
type Outcome struct {
	Detail string
	Delta  Delta
	// Audit, when set, is emitted as the mappings event after the stage.
	Audit *pipeline.MappingSummary
}

// Stage binds a descriptor to its runner.
type Stage struct {
	pipeline.Descriptor
	Runner StageRunner
}

// Tracker reports in-stage progress for the running stage.
type Tracker struct {
	id       string
	label    string
	start    time.Time
	reporter *progress.Reporter
	emit     pipeline.Emitter
}

// Tick emits a running stage-update with fraction (0..1) and the overall
// progress bar.
func (t *Tracker) Tick(fraction float64, detail string) {
	t.emit.Emit(pipeline.StageUpdate(t.id, pipeline.StatusRunning, detail).
		WithProgress(fraction).
		WithTiming(t.start, 0))
	t.emit.Emit(pipeline.OverallProgress(t.label, t.reporter.Advance(t.id, fraction)))
}

// RunSummary is the result of one orchestrated run.
type RunSummary struct {
	RunID    string           `json:"run_id"`
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"-"`
	Written  map[string]int64 `json:"written"`
	Skipped  int64            `json:"skipped"`
}

// Run outcome statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Orchestrator runs a static, ordered list of stages.
type Orchestrator struct {
	stages  []Stage
	metrics *cfotel.Metrics
}

// NewOrchestrator returns an orchestrator over stages. metrics may be nil.
func NewOrchestrator(stages []Stage, metrics *cfotel.Metrics) *Orchestrator {
	return &Orchestrator{stages: stages, metrics: metrics}
}

// Descriptors returns the stage descriptors in run order.
func (o *Orchestrator) Descriptors() []pipeline.Descriptor {
	out := make([]pipeline.Descriptor, len(o.stages))
	for i, s := range o.stages {
		out[i] = s.Descriptor
	}
	return out
}

// Run executes every stage in order against sc, streaming events to emit.
// A failing stage aborts the run. After a counting stage finds nothing due,
// the remaining non-metadata stages are skipped. The source store is
// closed on every exit path.
func (o *Orchestrator) Run(ctx context.Context, sc *SyncContext, emit pipeline.Emitter) (summary RunSummary, err error) {
	began := time.Now()
	runID := sc.view.RunID
	log := slog.With("run_id", runID)

	ctx, span := cfotel.StartRunSpan(ctx, runID, sc.view.Lookback.String())

	defer func() {
		if sc.releaseSource() {
			log.Info("source connection released")
		}
		summary.RunID = runID
		summary.Duration = time.Since(began)
		summary.Written = sc.Written()
		summary.Skipped = sc.view.Skipped
		o.metrics.RecordRun(ctx, summary.Status, summary.Duration, summary.Written, summary.Skipped)
		cfotel.EndSpan(span, summary.Status, err, attribute.Int64("devsync.rows_skipped", summary.Skipped))
	}()

	descs := o.Descriptors()
	reporter := progress.NewReporter(descs)
	emit.Emit(pipeline.StagesInit(descs))

	nothingDue := false
	for _, st := range o.stages {
		if nothingDue && !st.ModifiesMetadata {
			emit.Emit(pipeline.StageUpdate(st.ID, pipeline.StatusSkipped, "no new records"))
			emit.Emit(pipeline.OverallProgress(st.Name, reporter.Complete(st.ID)))
			continue
		}

		if sc.view.Signal.Cancelled() {
			return o.cancelled(emit, log, st, time.Now())
		}

		out, stageErr := o.runStage(ctx, sc, st, reporter, emit, log)
		if stageErr != nil {
			if errors.Is(stageErr, domain.ErrCancelled) {
				return o.cancelled(emit, log, st, out.started)
			}
			emit.Emit(pipeline.StageUpdate(st.ID, pipeline.StatusError, stageErr.Error()).
				WithTiming(out.started, time.Since(out.started)))
			emit.Emit(pipeline.Failure(fmt.Sprintf("%s failed: %v", st.Name, stageErr)))
			log.Error("stage failed", "stage", st.ID, "error", stageErr)
			return RunSummary{Status: RunFailed, Error: stageErr.Error()}, fmt.Errorf("stage %s: %w", st.ID, stageErr)
		}

		if out.Delta.Counts != nil {
			reporter.SetCounts(out.Delta.Counts)
			if out.Delta.Counts.Total() == 0 {
				nothingDue = true
				log.Info("no records due, skipping transfer stages")
			}
		}
		sc.Apply(out.Delta)

		elapsed := time.Since(out.started)
		emit.Emit(pipeline.StageUpdate(st.ID, pipeline.StatusCompleted, out.Detail).
			WithProgress(1).
			WithTiming(out.started, elapsed))
		emit.Emit(pipeline.OverallProgress(st.Name, reporter.Complete(st.ID)))
		if out.Audit != nil {
			emit.Emit(pipeline.Mappings(*out.Audit))
		}
		log.Info("stage completed", "stage", st.ID, "detail", out.Detail, "duration", progress.FormatDuration(elapsed))
	}

	emit.Emit(pipeline.OverallProgress("sync complete", reporter.Finish()))
	emit.Emit(pipeline.Complete())
	log.Info("sync completed", "skipped", sc.view.Skipped)
	return RunSummary{Status: RunCompleted}, nil
}

type stageResult struct {
	Outcome
	started time.Time
}

func (o *Orchestrator) runStage(ctx context.Context, sc *SyncContext, st Stage, reporter *progress.Reporter, emit pipeline.Emitter, log *slog.Logger) (stageResult, error) {
	started := time.Now()
	ctx, span := cfotel.StartStageSpan(ctx, sc.view.RunID, st.ID)

	emit.Emit(pipeline.StageUpdate(st.ID, pipeline.StatusRunning, "").WithTiming(started, 0))
	log.Debug("stage started", "stage", st.ID)

	tracker := &Tracker{id: st.ID, label: st.Name, start: started, reporter: reporter, emit: emit}
	out, err := st.Runner.Run(ctx, sc.View(), tracker)

	status := string(pipeline.StatusCompleted)
	switch {
	case errors.Is(err, domain.ErrCancelled):
		status = string(pipeline.StatusCancelled)
	case err != nil:
		status = string(pipeline.StatusError)
	}
	o.metrics.RecordStage(ctx, st.ID, status, time.Since(started))
	cfotel.EndSpan(span, status, err)

	return stageResult{Outcome: out, started: started}, err
}

func (o *Orchestrator) cancelled(emit pipeline.Emitter, log *slog.Logger, st Stage, started time.Time) (RunSummary, error) {
	emit.Emit(pipeline.StageUpdate(st.ID, pipeline.StatusCancelled, "cancelled by operator").
		WithTiming(started, time.Since(started)))
	emit.Emit(pipeline.Failure(domain.ErrCancelled.Error()))
	log.Warn("sync cancelled", "stage", st.ID)
	return RunSummary{Status: RunCancelled, Error: domain.ErrCancelled.Error()}, domain.ErrCancelled
}
