package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/Strob0t/devsync/internal/config"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/service"
)

func runSync(flags config.CLIFlags, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	lookback := fs.String("lookback", "", `window to copy: "auto", "<n>d" or "<n>h" (default from config)`)
	asJSON := fs.Bool("json", false, "print raw status events as newline-delimited JSON")
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

	d, err := newDeps(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	run, err := d.sync.Prepare(ctx, service.StartRequest{Lookback: *lookback, Trigger: "cli"})
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	var emit pipeline.Emitter
	fd := int(os.Stdout.Fd()) //nolint:gosec // fd fits in int
	if !*asJSON && term.IsTerminal(fd) {
		width, _, err := term.GetSize(fd)
		if err != nil {
			width = 80
		}
		emit = newTermEmitter(os.Stdout, width)
	} else {
		emit = newJSONEmitter(os.Stdout)
	}

	summary, err := run.Execute(ctx, emit)
	if err != nil {
		if service.IsCancelled(err) {
			return fmt.Errorf("sync %s cancelled", summary.RunID)
		}
		return fmt.Errorf("sync %s failed: %w", summary.RunID, err)
	}
	return nil
}

// jsonEmitter writes each event as one JSON line.
type jsonEmitter struct {
	enc *json.Encoder
}

func newJSONEmitter(w io.Writer) *jsonEmitter {
	return &jsonEmitter{enc: json.NewEncoder(w)}
}

func (e *jsonEmitter) Emit(ev pipeline.Event) {
	_ = e.enc.Encode(ev)
}

// termEmitter renders the status stream for an interactive terminal: one
// line per finished stage and a progress line rewritten in place.
type termEmitter struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	names    map[string]string
	progress bool
}

func newTermEmitter(w io.Writer, width int) *termEmitter {
	if width < 20 {
		width = 20
	}
	return &termEmitter{w: w, width: width, names: make(map[string]string)}
}

func (e *termEmitter) Emit(ev pipeline.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case pipeline.EventStagesInit:
		for _, s := range ev.Stages {
			e.names[s.ID] = s.Name
		}
		fmt.Fprintf(e.w, "Syncing %d stages\n", len(ev.Stages))
	case pipeline.EventProgress:
		var pct float64
		if ev.Progress != nil {
			pct = *ev.Progress
		}
		line := fmt.Sprintf("[%5.1f%%] %s", pct, ev.Message)
		fmt.Fprintf(e.w, "\r%-*s", e.width-1, clip(line, e.width-1))
		e.progress = true
	case pipeline.EventStageUpdate:
		mark := ""
		switch ev.Status {
		case pipeline.StatusCompleted:
			mark = "✓"
		case pipeline.StatusSkipped:
			mark = "-"
		case pipeline.StatusError, pipeline.StatusCancelled:
			mark = "✗"
		default:
			return
		}
		line := fmt.Sprintf("%s %s", mark, e.name(ev.ID))
		if ev.Detail != "" {
			line += ": " + ev.Detail
		}
		if ev.Duration != nil {
			line += fmt.Sprintf(" (%dms)", *ev.Duration)
		}
		e.println(line)
	case pipeline.EventMappings:
		if m := ev.Mappings; m != nil {
			e.println(fmt.Sprintf("  identities: %s", strings.Join(m.Identities, ", ")))
			e.println(fmt.Sprintf("  systems:    %s", strings.Join(m.Systems, ", ")))
			e.println(fmt.Sprintf("  points: %d, skipped: %d", m.Points, m.Skipped))
		}
	case pipeline.EventComplete:
		e.println("Sync complete")
	case pipeline.EventError:
		e.println("Sync failed: " + ev.Message)
	}
}

func (e *termEmitter) name(id string) string {
	if n, ok := e.names[id]; ok {
		return n
	}
	return id
}

// println clears a pending progress line before writing a full line.
func (e *termEmitter) println(line string) {
	if e.progress {
		fmt.Fprintf(e.w, "\r%-*s\r", e.width-1, "")
		e.progress = false
	}
	fmt.Fprintln(e.w, line)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
