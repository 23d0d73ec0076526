package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfnats "github.com/Strob0t/devsync/internal/adapter/nats"
	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/port/messagequeue"
)

// runWatch prints run lifecycle notifications until interrupted.
func runWatch(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	subject := fs.String("subject", messagequeue.SubjectRunAll, "subject filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := setup(flags)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.NATS.URL == "" {
		return errNoNATS
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = q.Drain() }()

	p := &notificationPrinter{w: os.Stdout, now: time.Now}
	unsubscribe, err := q.Subscribe(ctx, *subject, p.handle)
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", *subject)
	<-ctx.Done()
	return nil
}

// notificationPrinter writes one line per message: time, subject and the
// compacted JSON payload.
type notificationPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (p *notificationPrinter) handle(_ context.Context, subject string, data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		buf.Reset()
		buf.Write(data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s  %-22s %s\n", p.now().UTC().Format(time.RFC3339), subject, buf.String())
	return err
}
