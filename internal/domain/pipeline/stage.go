// Package pipeline defines the stage model of a sync run: stage descriptors,
// their status machine, the lookback window, and the status events streamed
// to clients while a run is in progress.
package pipeline

import "time"

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusSkipped   StageStatus = "skipped"
	StatusError     StageStatus = "error"
	StatusCancelled StageStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s StageStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a stage may move from s to next.
// Stages never re-enter running after reaching a terminal state.
func (s StageStatus) CanTransition(next StageStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusSkipped || next == StatusCancelled
	case StatusRunning:
		return next == StatusRunning || next == StatusCompleted || next == StatusError || next == StatusCancelled
	default:
		return false
	}
}

// Descriptor is the static, immutable part of a stage definition.
type Descriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ModifiesMetadata marks stages that refresh identity or entity tables.
	// They run on every invocation, even when no time-series records are due.
	ModifiesMetadata bool `json:"modifiesMetadata"`
	// Budget is the fixed share (percent) of the overall progress bar.
	// Zero means the stage shares the transfer pool by record count.
	Budget float64 `json:"-"`
}

// StageInfo is the wire form of a stage in the stages-init event.
type StageInfo struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Status           StageStatus `json:"status"`
	ModifiesMetadata bool        `json:"modifiesMetadata"`
}

// RecordCounts is the per-run snapshot of records due per transfer stage,
// keyed by stage ID.
type RecordCounts map[string]int64

// Total returns the sum of all counts.
func (c RecordCounts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// Window is the cursor span covered by a transfer stage so far.
type Window struct {
	Start time.Time
	End   time.Time
}
