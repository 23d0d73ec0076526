// Package syncstate models the persisted per-table sync positions used to
// resume automatic runs.
package syncstate

import (
	"fmt"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
)

// DayLayout is the persisted form of daily positions.
const DayLayout = "2006-01-02"

// Position is the last transferred cursor value of one table. Daily tables
// record LastSyncedDay instead of LastSyncedAt.
type Position struct {
	Table         string     `json:"table"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	LastSyncedDay string     `json:"last_synced_day,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AtTime returns a timestamp position.
func AtTime(table string, ts time.Time) Position {
	ts = ts.UTC()
	return Position{Table: table, LastSyncedAt: &ts}
}

// AtDay returns a daily position.
func AtDay(table string, day time.Time) Position {
	return Position{Table: table, LastSyncedDay: DayStart(day).Format(DayLayout)}
}

// DayStart returns midnight UTC of the day containing t. Daily tables are
// paged and counted from here, since a date column cannot hold a time of day.
func DayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Resume returns the instant a later run should resume this table from.
func (p Position) Resume() (time.Time, error) {
	switch {
	case p.LastSyncedAt != nil:
		return p.LastSyncedAt.UTC(), nil
	case p.LastSyncedDay != "":
		d, err := time.ParseInLocation(DayLayout, p.LastSyncedDay, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: bad day %q", domain.ErrValidation, p.Table, p.LastSyncedDay)
		}
		return d, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s: empty position", domain.ErrValidation, p.Table)
	}
}

// EarliestResume returns the minimum resume instant across positions, so
// one window start covers every table. With no positions it returns
// domain.ErrConfig: automatic mode needs a manual run first.
func EarliestResume(positions []Position) (time.Time, error) {
	var earliest time.Time
	found := false
	for _, p := range positions {
		ts, err := p.Resume()
		if err != nil {
			return time.Time{}, err
		}
		if !found || ts.Before(earliest) {
			earliest = ts
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: no sync positions recorded; run a manual sync with a fixed lookback first", domain.ErrConfig)
	}
	return earliest, nil
}
