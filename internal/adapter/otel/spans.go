package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "devsync"

// StartRunSpan starts the root span of one sync run.
func StartRunSpan(ctx context.Context, runID, lookback string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("devsync.run_id", runID),
			attribute.String("devsync.lookback", lookback),
		),
	)
}

// StartStageSpan starts the child span of one stage, named after it.
func StartStageSpan(ctx context.Context, runID, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.stage "+stage,
		trace.WithAttributes(
			attribute.String("devsync.run_id", runID),
			attribute.String("devsync.stage", stage),
		),
	)
}

// EndSpan tags span with the run or stage status and ends it. A non-nil err
// marks the span failed unless the status says the operator cancelled.
func EndSpan(span trace.Span, status string, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(append(attrs, attribute.String("devsync.status", status))...)
	if err != nil && status != "cancelled" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
