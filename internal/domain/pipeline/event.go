package pipeline

import "time"

// EventType discriminates the newline-delimited JSON objects of the status stream.
type EventType string

const (
	EventStagesInit  EventType = "stages-init"
	EventStageUpdate EventType = "stage-update"
	EventProgress    EventType = "progress"
	EventMappings    EventType = "mappings"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// Event is one status stream object. Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	// stages-init
	Stages []StageInfo `json:"stages,omitempty"`

	// stage-update
	ID        string      `json:"id,omitempty"`
	Status    StageStatus `json:"status,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	StartTime *time.Time  `json:"startTime,omitempty"`
	Duration  *int64      `json:"duration,omitempty"` // milliseconds

	// stage-update (0..1) and progress (0..100)
	Progress *float64 `json:"progress,omitempty"`

	// progress and error
	Message string `json:"message,omitempty"`
	Total   int    `json:"total,omitempty"`

	// mappings
	Mappings *MappingSummary `json:"mappings,omitempty"`
}

// MappingSummary is the operator audit view of the maps built during a run.
// Identities are always truncated.
type MappingSummary struct {
	Identities []string `json:"identities"`
	Systems    []string `json:"systems"`
	Points     int      `json:"points"`
	Skipped    int      `json:"skipped"`
}

// StagesInit builds the stages-init event with every stage pending.
func StagesInit(stages []Descriptor) Event {
	infos := make([]StageInfo, len(stages))
	for i, s := range stages {
		infos[i] = StageInfo{ID: s.ID, Name: s.Name, Status: StatusPending, ModifiesMetadata: s.ModifiesMetadata}
	}
	return Event{Type: EventStagesInit, Stages: infos}
}

// StageUpdate builds a stage-update event.
func StageUpdate(id string, status StageStatus, detail string) Event {
	return Event{Type: EventStageUpdate, ID: id, Status: status, Detail: detail}
}

// WithProgress sets the stage fraction (0..1) on a stage-update event.
func (e Event) WithProgress(fraction float64) Event {
	e.Progress = &fraction
	return e
}

// WithTiming sets the start time and, when non-zero, the duration.
func (e Event) WithTiming(start time.Time, d time.Duration) Event {
	e.StartTime = &start
	if d > 0 {
		ms := d.Milliseconds()
		e.Duration = &ms
	}
	return e
}

// OverallProgress builds the weighted progress-bar event (0..100).
func OverallProgress(message string, percent float64) Event {
	return Event{Type: EventProgress, Message: message, Progress: &percent, Total: 100}
}

// Mappings builds the mappings audit event.
func Mappings(summary MappingSummary) Event {
	return Event{Type: EventMappings, Mappings: &summary}
}

// Complete builds the terminal success marker.
func Complete() Event {
	return Event{Type: EventComplete}
}

// Failure builds the terminal error marker.
func Failure(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Emitter receives status events in order. Implementations must be safe to
// call from the goroutine driving the run.
type Emitter interface {
	Emit(ev Event)
}

// Emitters fans one event out to several emitters in order.
type Emitters []Emitter

// Emit forwards ev to every non-nil emitter.
func (es Emitters) Emit(ev Event) {
	for _, e := range es {
		if e != nil {
			e.Emit(ev)
		}
	}
}
