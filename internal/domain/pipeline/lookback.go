package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AutoLookback is the sentinel accepted by ParseLookback for "resume from
// each table's last recorded sync position".
const AutoLookback = "auto"

var (
	ErrLookbackEmpty   = errors.New("lookback is required")
	ErrLookbackInvalid = errors.New("lookback must be \"auto\", <n>d or <n>h")
)

// Lookback is either a fixed window back from now or the automatic marker.
type Lookback struct {
	Auto   bool
	Window time.Duration
}

// ParseLookback accepts "auto", "<n>d", "<n>h" or a bare number of days.
func ParseLookback(s string) (Lookback, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Lookback{}, ErrLookbackEmpty
	}
	if s == AutoLookback || s == "automatic" {
		return Lookback{Auto: true}, nil
	}

	unit := 24 * time.Hour
	num := s
	switch {
	case strings.HasSuffix(s, "d"):
		num = strings.TrimSuffix(s, "d")
	case strings.HasSuffix(s, "h"):
		num = strings.TrimSuffix(s, "h")
		unit = time.Hour
	}

	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return Lookback{}, fmt.Errorf("%w: %q", ErrLookbackInvalid, s)
	}
	return Lookback{Window: time.Duration(n) * unit}, nil
}

// String renders the lookback in the form ParseLookback accepts.
func (l Lookback) String() string {
	if l.Auto {
		return AutoLookback
	}
	if l.Window%(24*time.Hour) == 0 {
		return strconv.Itoa(int(l.Window/(24*time.Hour))) + "d"
	}
	return strconv.Itoa(int(l.Window/time.Hour)) + "h"
}
