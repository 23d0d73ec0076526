// Package nats carries devsync run notifications over NATS JetStream and
// hosts the KV buckets of the shared cache.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/devsync/internal/logger"
	"github.com/Strob0t/devsync/internal/port/messagequeue"
)

const (
	streamName = "DEVSYNC"

	headerRequestID = "X-Request-ID"
	headerRunID     = "X-Sync-Run-ID"
	headerDLQReason = "X-DLQ-Reason"

	// maxRetries is the number of redeliveries a failing message gets before
	// it is parked on <subject>.dlq.
	maxRetries = 3

	// dedupWindow drops a second publish of the same run notice.
	dedupWindow = 2 * time.Minute
)

// retryBase is the delay before the first redelivery; later ones double it.
var retryBase = time.Second

// Queue publishes and consumes devsync subjects on one JetStream stream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials url and makes sure the DEVSYNC stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("devsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"devsync.>"},
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: dedupWindow,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream %s: %w", streamName, err)
	}

	slog.Info("nats connected", "url", nc.ConnectedUrlRedacted(), "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends data on subject. The request and run IDs of ctx travel as
// headers; with a run ID the message is deduplicated per run and subject.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: outboundHeader(ctx, subject)}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func outboundHeader(ctx context.Context, subject string) nats.Header {
	h := nats.Header{}
	if id := logger.RequestID(ctx); id != "" {
		h.Set(headerRequestID, id)
	}
	if id := logger.RunID(ctx); id != "" {
		h.Set(headerRunID, id)
		h.Set(jetstream.MsgIDHeader, id+"/"+subject)
	}
	return h
}

// inboundContext restores the IDs Publish put in the header.
func inboundContext(h nats.Header) context.Context {
	ctx := context.Background()
	if id := h.Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	if id := h.Get(headerRunID); id != "" {
		ctx = logger.WithRunID(ctx, id)
	}
	return ctx
}

// Subscribe consumes new messages matching subject, which may contain
// wildcards. Payloads failing validation are parked on the dead-letter
// subject at once; handler errors are redelivered with backoff first.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		// one spare delivery so the last failure can still be parked
		MaxDeliver: maxRetries + 2,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer %s: %w", subject, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) { q.handle(msg, handler) })
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", subject, err)
	}
	return cc.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	subj := msg.Subject()
	ctx := inboundContext(msg.Headers())

	if err := messagequeue.Validate(subj, msg.Data()); err != nil {
		slog.ErrorContext(ctx, "message rejected", "subject", subj, "error", err)
		q.park(ctx, msg, err)
		return
	}

	err := handler(ctx, subj, msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "subject", subj, "error", ackErr)
		}
		return
	}

	delivered := deliveries(msg)
	if delivered > maxRetries {
		slog.ErrorContext(ctx, "message handler failed, retries exhausted", "subject", subj, "deliveries", delivered, "error", err)
		q.park(ctx, msg, err)
		return
	}
	delay := retryDelay(delivered)
	slog.WarnContext(ctx, "message handler failed", "subject", subj, "deliveries", delivered, "retry_in", delay, "error", err)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		slog.ErrorContext(ctx, "nats nak failed", "subject", subj, "error", nakErr)
	}
}

// deliveries returns how often msg has been delivered, counting this one.
func deliveries(msg jetstream.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

// retryDelay doubles retryBase for every earlier delivery.
func retryDelay(delivered uint64) time.Duration {
	if delivered < 1 {
		delivered = 1
	}
	return retryBase << min(delivered-1, 10)
}

// park copies msg to <subject>.dlq with the reason and acks the original.
// If the copy cannot be stored the original is left for redelivery.
func (q *Queue) park(ctx context.Context, msg jetstream.Msg, cause error) {
	h := nats.Header{}
	for k, v := range msg.Headers() {
		if k != jetstream.MsgIDHeader {
			h[k] = append([]string(nil), v...)
		}
	}
	h.Set(headerDLQReason, cause.Error())

	out := &nats.Msg{Subject: msg.Subject() + ".dlq", Data: msg.Data(), Header: h}
	if _, err := q.js.PublishMsg(context.WithoutCancel(ctx), out); err != nil {
		slog.ErrorContext(ctx, "nats dlq publish failed", "subject", out.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.ErrorContext(ctx, "nats ack failed", "subject", msg.Subject(), "error", err)
	}
}

// KeyValue opens bucket, creating it with ttl on first use.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.KeyValue(ctx, bucket)
	switch {
	case err == nil:
		return kv, nil
	case !errors.Is(err, jetstream.ErrBucketNotFound):
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	kv, err = q.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "devsync shared cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv create %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain lets in-flight handlers finish, then closes the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}
