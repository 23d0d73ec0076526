// Package progress turns per-stage record counts and per-batch synced counts
// into one monotonic 0..100 percentage for a run.
//
// Stages with a fixed budget consume that many percentage points. The
// remaining points form a pool shared by the transfer stages in proportion
// to their record counts, so within the pool the overall value equals
// records synced over records due.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Strob0t/devsync/internal/domain/pipeline"
)

// Reporter computes the overall percentage of one run. It is safe for
// concurrent use.
type Reporter struct {
	mu      sync.Mutex
	stages  []pipeline.Descriptor
	index   map[string]int
	budgets []float64
	pool    float64
	last    float64
}

// NewReporter prepares budgets for stages in run order. Until SetCounts is
// called the pool is split evenly across the transfer stages.
func NewReporter(stages []pipeline.Descriptor) *Reporter {
	r := &Reporter{
		stages:  append([]pipeline.Descriptor(nil), stages...),
		index:   make(map[string]int, len(stages)),
		budgets: make([]float64, len(stages)),
	}
	fixed := 0.0
	for i, s := range stages {
		r.index[s.ID] = i
		fixed += s.Budget
	}
	r.pool = math.Max(0, 100-fixed)
	r.allocate(nil)
	return r
}

// SetCounts distributes the pool by the record-count snapshot.
func (r *Reporter) SetCounts(counts pipeline.RecordCounts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocate(counts)
}

func (r *Reporter) allocate(counts pipeline.RecordCounts) {
	var total int64
	poolStages := 0
	for _, s := range r.stages {
		if s.Budget == 0 {
			poolStages++
			total += counts[s.ID]
		}
	}
	for i, s := range r.stages {
		switch {
		case s.Budget > 0:
			r.budgets[i] = s.Budget
		case total > 0:
			r.budgets[i] = r.pool * float64(counts[s.ID]) / float64(total)
		default:
			r.budgets[i] = r.pool / float64(poolStages)
		}
	}
}

// Budget returns the share of stage id in percentage points.
func (r *Reporter) Budget(id string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		return r.budgets[i]
	}
	return 0
}

// Advance records that stage id is fraction (0..1) done, with every earlier
// stage done, and returns the overall percentage. The result never
// decreases across calls.
func (r *Reporter) Advance(id string, fraction float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return r.last
	}
	fraction = math.Min(1, math.Max(0, fraction))

	overall := 0.0
	for j := 0; j < i; j++ {
		overall += r.budgets[j]
	}
	overall += r.budgets[i] * fraction
	overall = math.Min(100, overall)

	if overall > r.last {
		r.last = overall
	}
	return r.last
}

// Complete is Advance(id, 1).
func (r *Reporter) Complete(id string) float64 { return r.Advance(id, 1) }

// Finish pins the overall percentage at 100.
func (r *Reporter) Finish() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = 100
	return r.last
}

// Current returns the last reported percentage.
func (r *Reporter) Current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Fraction returns min(1, synced/due). A stage with nothing due is complete.
func Fraction(synced, due int64) float64 {
	if due <= 0 {
		return 1
	}
	return math.Min(1, float64(synced)/float64(due))
}

// Layouts for FormatWindow.
const (
	LayoutTimestamp = "2006-01-02 15:04:05"
	LayoutDay       = "2006-01-02"
)

// FormatWindow renders the detail of a timestamp-cursor stage.
func FormatWindow(n int64, w pipeline.Window, layout string, fraction float64) string {
	if w.Start.IsZero() {
		return fmt.Sprintf("downloaded %d records (%s)", n, percent(fraction))
	}
	return fmt.Sprintf("downloaded %d records spanning [%s, %s] (%s)",
		n, w.Start.UTC().Format(layout), w.End.UTC().Format(layout), percent(fraction))
}

// FormatCount renders the detail of a stage without a timestamp cursor.
func FormatCount(n, total int64, fraction float64) string {
	return fmt.Sprintf("%d of %d (%s)", n, total, percent(fraction))
}

// FormatDuration renders elapsed stage time for log lines.
func FormatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func percent(fraction float64) string {
	return fmt.Sprintf("%d%%", int(math.Floor(fraction*100)))
}
