// Package identity maps source-side identifiers onto target-side ones.
//
// Two kinds of maps exist. The ExternalMap translates external identity
// strings and is loaded verbatim from the operator-maintained mapping table;
// it is never inferred. The entity Map translates store-assigned numeric IDs
// and is built per run by matching natural keys between the two inventories.
package identity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
)

// Mapping is one row of the external identity mapping table.
type Mapping struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the row for completeness.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("%w: source identity is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Target) == "" {
		return fmt.Errorf("%w: target identity is required", domain.ErrValidation)
	}
	if m.Source == m.Target {
		return fmt.Errorf("%w: source and target identity must differ", domain.ErrValidation)
	}
	return nil
}

// ExternalMap is the read-only, one-to-one external identity map of a run.
type ExternalMap struct {
	bySource map[string]Mapping
	targets  map[string]struct{}
	order    []string
}

// NewExternalMap builds the map, rejecting invalid rows and any identity
// that appears twice on either side.
func NewExternalMap(rows []Mapping) (*ExternalMap, error) {
	m := &ExternalMap{
		bySource: make(map[string]Mapping, len(rows)),
		targets:  make(map[string]struct{}, len(rows)),
	}
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.bySource[r.Source]; dup {
			return nil, fmt.Errorf("%w: source identity %s mapped twice", domain.ErrValidation, Truncate(r.Source))
		}
		if _, dup := m.targets[r.Target]; dup {
			return nil, fmt.Errorf("%w: target identity %s mapped twice", domain.ErrValidation, Truncate(r.Target))
		}
		m.bySource[r.Source] = r
		m.targets[r.Target] = struct{}{}
		m.order = append(m.order, r.Source)
	}
	return m, nil
}

// Lookup returns the target identity for a source identity.
func (m *ExternalMap) Lookup(source string) (string, bool) {
	if m == nil {
		return "", false
	}
	r, ok := m.bySource[source]
	return r.Target, ok
}

// IsTarget reports whether s is a target-side identity of this map.
func (m *ExternalMap) IsTarget(s string) bool {
	if m == nil {
		return false
	}
	_, ok := m.targets[s]
	return ok
}

// Len returns the number of mappings.
func (m *ExternalMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.bySource)
}

// Summaries renders every mapping for operator audit with both identities
// truncated.
func (m *ExternalMap) Summaries() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.order))
	for _, src := range m.order {
		r := m.bySource[src]
		s := Truncate(r.Source) + " -> " + Truncate(r.Target)
		if r.Label != "" {
			s = r.Label + ": " + s
		}
		out = append(out, s)
	}
	return out
}

// Truncate shortens an external identity so it can be logged or shown
// without revealing it.
func Truncate(s string) string {
	const keepHead, keepTail = 4, 2
	if len(s) <= keepHead+keepTail+1 {
		return strings.Repeat("*", len(s))
	}
	return s[:keepHead] + "..." + s[len(s)-keepTail:]
}

// SubKey identifies a sub-entity whose local ID is only unique within its parent.
type SubKey struct {
	Parent int64
	Local  int64
}

func (k SubKey) String() string { return fmt.Sprintf("%d/%d", k.Parent, k.Local) }

// Map is a one-to-one translation from source IDs to target IDs. Entries can
// be added during a run so later stages resolve entities created earlier.
type Map[K comparable] struct {
	fwd map[K]K
	rev map[K]K
}

// EntityMap translates top-level entity IDs.
type EntityMap = Map[int64]

// SubEntityMap translates (parent, local) keys.
type SubEntityMap = Map[SubKey]

// NewMap returns an empty map.
func NewMap[K comparable]() *Map[K] {
	return &Map[K]{fwd: make(map[K]K), rev: make(map[K]K)}
}

// Set records source -> target. Re-recording the same pair is a no-op;
// any assignment that breaks the one-to-one property returns domain.ErrConflict.
func (m *Map[K]) Set(source, target K) error {
	if cur, ok := m.fwd[source]; ok {
		if cur == target {
			return nil
		}
		return fmt.Errorf("%w: source %v already mapped to %v", domain.ErrConflict, source, cur)
	}
	if cur, ok := m.rev[target]; ok {
		return fmt.Errorf("%w: target %v already mapped from %v", domain.ErrConflict, target, cur)
	}
	m.fwd[source] = target
	m.rev[target] = source
	return nil
}

// Lookup returns the target ID for a source ID.
func (m *Map[K]) Lookup(source K) (K, bool) {
	if m == nil {
		var zero K
		return zero, false
	}
	t, ok := m.fwd[source]
	return t, ok
}

// Len returns the number of entries.
func (m *Map[K]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fwd)
}

// Pair is one source -> target entry.
type Pair[K comparable] struct {
	Source K
	Target K
}

// Pairs returns every entry ordered by less over the source ID.
func (m *Map[K]) Pairs(less func(a, b K) bool) []Pair[K] {
	if m == nil {
		return nil
	}
	out := make([]Pair[K], 0, len(m.fwd))
	for s, t := range m.fwd {
		out = append(out, Pair[K]{Source: s, Target: t})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Source, out[j].Source) })
	return out
}
