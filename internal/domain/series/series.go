// Package series defines the time-series rows copied by the transfer stages
// and the target tables they are written to.
package series

import (
	"time"

	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/identity"
)

// Target tables.
var (
	PointReadings = batch.Table{
		Name: "point_readings",
		Columns: []batch.Column{
			{Name: "system_id", Kind: batch.KindInt64},
			{Name: "point_id", Kind: batch.KindInt64},
			{Name: "measured_at", Kind: batch.KindTime},
			{Name: "value", Kind: batch.KindFloat64, Nullable: true},
		},
		Key:    []string{"system_id", "point_id", "measured_at"},
		Policy: batch.ReplaceOnConflict,
	}

	Aggregates5m = batch.Table{
		Name: "readings_agg_5m",
		Columns: []batch.Column{
			{Name: "system_id", Kind: batch.KindInt64},
			{Name: "point_id", Kind: batch.KindInt64},
			{Name: "interval_end", Kind: batch.KindTime},
			{Name: "avg", Kind: batch.KindFloat64},
			{Name: "min", Kind: batch.KindFloat64},
			{Name: "max", Kind: batch.KindFloat64},
			{Name: "samples", Kind: batch.KindInt64},
		},
		Key:    []string{"system_id", "point_id", "interval_end"},
		Policy: batch.ReplaceOnConflict,
	}

	Aggregates1d = batch.Table{
		Name: "readings_agg_1d",
		Columns: []batch.Column{
			{Name: "system_id", Kind: batch.KindInt64},
			{Name: "point_id", Kind: batch.KindInt64},
			{Name: "day", Kind: batch.KindTime},
			{Name: "energy", Kind: batch.KindFloat64},
			{Name: "min", Kind: batch.KindFloat64},
			{Name: "max", Kind: batch.KindFloat64},
			{Name: "samples", Kind: batch.KindInt64},
		},
		Key:    []string{"system_id", "point_id", "day"},
		Policy: batch.ReplaceOnConflict,
	}

	PollingSessions = batch.Table{
		Name: "polling_sessions",
		Columns: []batch.Column{
			{Name: "system_id", Kind: batch.KindInt64},
			{Name: "started_at", Kind: batch.KindTime},
			{Name: "finished_at", Kind: batch.KindTime, Nullable: true},
			{Name: "status", Kind: batch.KindText},
			{Name: "records_fetched", Kind: batch.KindInt64},
			{Name: "error", Kind: batch.KindText, Nullable: true},
		},
		Key:    []string{"system_id", "started_at"},
		Policy: batch.IgnoreDuplicates,
	}
)

// Reading is one raw point measurement.
type Reading struct {
	SystemID   int64
	PointID    int64
	MeasuredAt time.Time
	Value      *float64
}

// Remap translates the point key. ok is false when the point is unmapped.
func (r Reading) Remap(points *identity.SubEntityMap) (Reading, bool) {
	k, ok := points.Lookup(identity.SubKey{Parent: r.SystemID, Local: r.PointID})
	if !ok {
		return r, false
	}
	r.SystemID, r.PointID = k.Parent, k.Local
	return r, true
}

// Row returns the PointReadings row.
func (r Reading) Row() batch.Row {
	return batch.Row{r.SystemID, r.PointID, r.MeasuredAt, nullFloat(r.Value)}
}

// Aggregate is one 5-minute aggregate ending at IntervalEnd.
type Aggregate struct {
	SystemID    int64
	PointID     int64
	IntervalEnd time.Time
	Avg         float64
	Min         float64
	Max         float64
	Samples     int64
}

// Remap translates the point key.
func (a Aggregate) Remap(points *identity.SubEntityMap) (Aggregate, bool) {
	k, ok := points.Lookup(identity.SubKey{Parent: a.SystemID, Local: a.PointID})
	if !ok {
		return a, false
	}
	a.SystemID, a.PointID = k.Parent, k.Local
	return a, true
}

// Row returns the Aggregates5m row.
func (a Aggregate) Row() batch.Row {
	return batch.Row{a.SystemID, a.PointID, a.IntervalEnd, a.Avg, a.Min, a.Max, a.Samples}
}

// DailyAggregate is one calendar-day aggregate. Day is midnight UTC.
type DailyAggregate struct {
	SystemID int64
	PointID  int64
	Day      time.Time
	Energy   float64
	Min      float64
	Max      float64
	Samples  int64
}

// Remap translates the point key.
func (d DailyAggregate) Remap(points *identity.SubEntityMap) (DailyAggregate, bool) {
	k, ok := points.Lookup(identity.SubKey{Parent: d.SystemID, Local: d.PointID})
	if !ok {
		return d, false
	}
	d.SystemID, d.PointID = k.Parent, k.Local
	return d, true
}

// Row returns the Aggregates1d row.
func (d DailyAggregate) Row() batch.Row {
	return batch.Row{d.SystemID, d.PointID, d.Day, d.Energy, d.Min, d.Max, d.Samples}
}

// Session is one vendor polling session of a system.
type Session struct {
	SystemID       int64
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         string
	RecordsFetched int64
	Error          string
}

// Remap translates the system ID.
func (s Session) Remap(systems *identity.EntityMap) (Session, bool) {
	id, ok := systems.Lookup(s.SystemID)
	if !ok {
		return s, false
	}
	s.SystemID = id
	return s, true
}

// Row returns the PollingSessions row.
func (s Session) Row() batch.Row {
	var finished, errText any
	if s.FinishedAt != nil {
		finished = *s.FinishedAt
	}
	if s.Error != "" {
		errText = s.Error
	}
	return batch.Row{s.SystemID, s.StartedAt, finished, s.Status, s.RecordsFetched, errText}
}

// Latest is the newest reading time known for a target system.
type Latest struct {
	SystemID  int64     `json:"system_id"`
	ReadingAt time.Time `json:"latest_reading_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestBySystem returns the newest measurement time per system in readings.
func LatestBySystem(readings []Reading) map[int64]time.Time {
	out := make(map[int64]time.Time)
	for _, r := range readings {
		if cur, ok := out[r.SystemID]; !ok || r.MeasuredAt.After(cur) {
			out[r.SystemID] = r.MeasuredAt
		}
	}
	return out
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
