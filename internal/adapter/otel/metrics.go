package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "devsync"

// Metrics holds all devsync metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	RunsCancelled metric.Int64Counter
	RowsWritten   metric.Int64Counter
	RowsSkipped   metric.Int64Counter
	RunDuration   metric.Float64Histogram
	StageDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("devsync.runs.started",
		metric.WithDescription("Number of sync runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("devsync.runs.completed",
		metric.WithDescription("Number of sync runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("devsync.runs.failed",
		metric.WithDescription("Number of sync runs failed"))
	if err != nil {
		return nil, err
	}

	m.RunsCancelled, err = meter.Int64Counter("devsync.runs.cancelled",
		metric.WithDescription("Number of sync runs cancelled"))
	if err != nil {
		return nil, err
	}

	m.RowsWritten, err = meter.Int64Counter("devsync.rows.written",
		metric.WithDescription("Rows inserted or replaced in the target store"))
	if err != nil {
		return nil, err
	}

	m.RowsSkipped, err = meter.Int64Counter("devsync.rows.skipped",
		metric.WithDescription("Source rows dropped for lack of a mapping"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("devsync.run.duration_seconds",
		metric.WithDescription("Sync run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("devsync.stage.duration_seconds",
		metric.WithDescription("Stage duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted(ctx context.Context, lookback string) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("lookback", lookback)))
}

// RecordStage records the duration of one finished stage.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

// RecordRun records the outcome of one run.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration, written map[string]int64, skipped int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	switch status {
	case "completed":
		m.RunsCompleted.Add(ctx, 1, attrs)
	case "cancelled":
		m.RunsCancelled.Add(ctx, 1, attrs)
	default:
		m.RunsFailed.Add(ctx, 1, attrs)
	}
	m.RunDuration.Record(ctx, d.Seconds(), attrs)
	for table, n := range written {
		m.RowsWritten.Add(ctx, n, metric.WithAttributes(attribute.String("table", table)))
	}
	if skipped > 0 {
		m.RowsSkipped.Add(ctx, skipped)
	}
}
