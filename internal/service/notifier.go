package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/devsync/internal/port/messagequeue"
	"github.com/Strob0t/devsync/internal/resilience"
)

// RunNotifier publishes run lifecycle messages. Publish failures are logged
// and never affect the run.
type RunNotifier struct {
	queue   messagequeue.Queue
	breaker *resilience.Breaker
}

// NewRunNotifier returns a notifier. A nil queue disables publishing.
func NewRunNotifier(q messagequeue.Queue, b *resilience.Breaker) *RunNotifier {
	return &RunNotifier{queue: q, breaker: b}
}

// Started publishes devsync.run.started.
func (n *RunNotifier) Started(ctx context.Context, runID, lookback, trigger string, at time.Time) {
	n.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		RunID:     runID,
		Lookback:  lookback,
		Trigger:   trigger,
		StartedAt: at.UTC().Format(time.RFC3339),
	})
}

// Finished publishes the terminal message matching s.Status.
func (n *RunNotifier) Finished(ctx context.Context, s RunSummary) {
	subject := messagequeue.SubjectRunFailed
	switch s.Status {
	case RunCompleted:
		subject = messagequeue.SubjectRunCompleted
	case RunCancelled:
		subject = messagequeue.SubjectRunCancelled
	}
	n.publish(ctx, subject, messagequeue.RunFinishedPayload{
		RunID:      s.RunID,
		Status:     s.Status,
		Error:      s.Error,
		DurationMS: s.Duration.Milliseconds(),
		Written:    s.Written,
		Skipped:    s.Skipped,
	})
}

func (n *RunNotifier) publish(ctx context.Context, subject string, payload any) {
	if n == nil || n.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal run notification", "subject", subject, "error", err)
		return
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		slog.Error("run notification rejected", "subject", subject, "error", err)
		return
	}

	send := func(ctx context.Context) error { return n.queue.Publish(ctx, subject, data) }
	if n.breaker != nil {
		err = n.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		slog.Warn("run notification not delivered", "subject", subject, "error", fmt.Errorf("publish: %w", err))
	}
}
