// Package cursor implements resumable keyset pagination over source tables
// that offer no snapshot or change log: a timestamp cursor tolerant of
// duplicate values and a composite (major, minor) key cursor.
package cursor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrBackward is returned when a fetched batch would move a cursor backward.
// It indicates a base query whose ordering does not match the cursor column.
var ErrBackward = errors.New("cursor moved backward")

// TimePosition is where the next timestamp-cursor fetch starts: rows with
// cursor value >= Value, skipping the first Overlap of them because they
// were already delivered.
type TimePosition struct {
	Value   time.Time
	Overlap int
}

// TimeCursor tracks one timestamp-paginated transfer.
type TimeCursor struct {
	pos      TimePosition
	unit     time.Duration
	pageSize int

	first, last time.Time
	seen        bool
}

// NewTimeCursor starts a cursor at start. unit is the smallest increment of
// the cursor column (1µs for timestamptz columns, 24h for dates).
func NewTimeCursor(start time.Time, unit time.Duration, pageSize int) *TimeCursor {
	if unit <= 0 {
		unit = time.Millisecond
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return &TimeCursor{pos: TimePosition{Value: start}, unit: unit, pageSize: pageSize}
}

// Position returns the position of the next fetch.
func (c *TimeCursor) Position() TimePosition { return c.pos }

// PageSize returns the configured page size.
func (c *TimeCursor) PageSize() int { return c.pageSize }

// Span returns the first and last cursor values delivered so far.
// ok is false until a non-empty batch has been applied.
func (c *TimeCursor) Span() (first, last time.Time, ok bool) {
	return c.first, c.last, c.seen
}

// Advance applies the cursor values of a fetched batch, in fetch order.
// It reports done when the batch is empty.
func (c *TimeCursor) Advance(stamps []time.Time) (done bool, err error) {
	n := len(stamps)
	if n == 0 {
		return true, nil
	}
	for i, s := range stamps {
		if s.Before(c.pos.Value) || (i > 0 && s.Before(stamps[i-1])) {
			return false, fmt.Errorf("%w: %s before %s", ErrBackward, s.Format(time.RFC3339Nano), c.pos.Value.Format(time.RFC3339Nano))
		}
	}

	firstTS, lastTS := stamps[0], stamps[n-1]
	if !c.seen {
		c.first = firstTS
		c.seen = true
	}
	c.last = lastTS

	switch {
	case n < c.pageSize && firstTS.Equal(lastTS):
		// Every remaining row at this value has been delivered.
		c.pos = TimePosition{Value: lastTS.Add(c.unit)}
	case lastTS.Equal(c.pos.Value):
		c.pos.Overlap += n
	default:
		trailing := 0
		for i := n - 1; i >= 0 && stamps[i].Equal(lastTS); i-- {
			trailing++
		}
		c.pos = TimePosition{Value: lastTS, Overlap: trailing}
	}
	return false, nil
}

// CompositePosition is the last delivered (major, minor) key.
type CompositePosition struct {
	Major int64
	Minor int64
}

// Less orders positions lexicographically.
func (p CompositePosition) Less(o CompositePosition) bool {
	return p.Major < o.Major || (p.Major == o.Major && p.Minor < o.Minor)
}

// CompositeStart is before every key.
func CompositeStart() CompositePosition {
	return CompositePosition{Major: math.MinInt64, Minor: math.MinInt64}
}

// CompositeCursor tracks one (major, minor)-paginated transfer.
type CompositeCursor struct {
	pos      CompositePosition
	pageSize int
}

// NewCompositeCursor starts a composite cursor before every key.
func NewCompositeCursor(pageSize int) *CompositeCursor {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &CompositeCursor{pos: CompositeStart(), pageSize: pageSize}
}

// Position returns the last delivered key.
func (c *CompositeCursor) Position() CompositePosition { return c.pos }

// PageSize returns the configured page size.
func (c *CompositeCursor) PageSize() int { return c.pageSize }

// Advance applies the keys of a fetched batch, in fetch order. Keys must be
// strictly increasing and after the current position.
func (c *CompositeCursor) Advance(keys []CompositePosition) (done bool, err error) {
	if len(keys) == 0 {
		return true, nil
	}
	prev := c.pos
	for _, k := range keys {
		if !prev.Less(k) {
			return false, fmt.Errorf("%w: (%d,%d) not after (%d,%d)", ErrBackward, k.Major, k.Minor, prev.Major, prev.Minor)
		}
		prev = k
	}
	c.pos = prev
	return false, nil
}
