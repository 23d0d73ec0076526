package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

// DefaultChunkSize is the row count of a full chunk unless the table's
// parameter limit is lower.
const DefaultChunkSize = 1000

// Inserter executes one multi-row write and returns the affected row count.
type Inserter interface {
	InsertRows(ctx context.Context, t Table, rows []Row) (int64, error)
}

// Options tune a Writer.
type Options struct {
	ChunkSize int
	// Delay is the minimum gap between two chunk writes.
	Delay time.Duration
}

// Writer writes the batches of one stage. The first row of the first batch
// is written alone as a probe so a schema mismatch fails before any bulk
// statement is sent.
type Writer struct {
	ins     Inserter
	table   Table
	chunk   int
	limiter *rate.Limiter
	sig     pipeline.Signal

	probed  bool
	written int64
	chunks  int
}

// NewWriter returns a writer for table. sig may be nil.
func NewWriter(ins Inserter, table Table, opts Options, sig pipeline.Signal) (*Writer, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if limit := table.MaxRowsPerStatement(); chunk > limit {
		chunk = limit
	}
	w := &Writer{ins: ins, table: table, chunk: chunk, sig: sig}
	if opts.Delay > 0 {
		w.limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}
	return w, nil
}

// ChunkSize returns the effective full chunk size.
func (w *Writer) ChunkSize() int { return w.chunk }

// Written returns the affected row count so far.
func (w *Writer) Written() int64 { return w.written }

// Chunks returns the number of statements issued so far.
func (w *Writer) Chunks() int { return w.chunks }

// Write checks every row against the table, then splits rows into chunks
// and writes them in order. A row that does not fit fails the whole batch
// before anything is sent. Cancellation is checked between chunks, never
// inside one; a cancelled write returns domain.ErrCancelled with the rows
// written so far.
func (w *Writer) Write(ctx context.Context, rows []Row) (int64, error) {
	for i, r := range rows {
		if err := w.table.Check(r); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
	}
	var n int64
	for start := 0; start < len(rows); {
		if start > 0 && w.sig != nil && w.sig.Cancelled() {
			return n, domain.ErrCancelled
		}

		size := w.chunk
		if !w.probed {
			size = 1
		}
		end := min(start+size, len(rows))

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return n, fmt.Errorf("throttle %s: %w", w.table.Name, err)
			}
		}

		affected, err := w.ins.InsertRows(ctx, w.table, rows[start:end])
		if err != nil {
			if !w.probed {
				return n, fmt.Errorf("probe write %s: %w", w.table.Name, err)
			}
			return n, fmt.Errorf("write %s rows %d-%d: %w", w.table.Name, start, end-1, err)
		}
		w.probed = true
		w.chunks++
		w.written += affected
		n += affected
		start = end
	}
	return n, nil
}
