package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/batch"
	"github.com/Strob0t/devsync/internal/domain/cursor"
	"github.com/Strob0t/devsync/internal/domain/identity"
	"github.com/Strob0t/devsync/internal/domain/inventory"
	"github.com/Strob0t/devsync/internal/domain/pipeline"
	"github.com/Strob0t/devsync/internal/domain/series"
	"github.com/Strob0t/devsync/internal/domain/syncstate"
	"github.com/Strob0t/devsync/internal/port/database"
)

// Ensure the fakes implement the ports at compile time.
var (
	_ database.SourceStore  = (*fakeSource)(nil)
	_ database.SourceOpener = (*fakeOpener)(nil)
	_ database.TargetStore  = (*fakeTarget)(nil)
)

// --- source ---

// fakeSource is an in-memory production store. Fetches follow the same
// ordering and offset semantics as the SQL builders.
type fakeSource struct {
	systems  []inventory.System
	points   []inventory.Point
	readings []series.Reading
	aggs     []series.Aggregate
	daily    []series.DailyAggregate
	sessions []series.Session

	fetchErr error

	mu     sync.Mutex
	closed int
}

func (s *fakeSource) ListSystems(context.Context) ([]inventory.System, error) {
	return slices.Clone(s.systems), nil
}

func (s *fakeSource) FetchPoints(_ context.Context, pos cursor.CompositePosition, limit int) ([]inventory.Point, error) {
	rows := slices.Clone(s.points)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SystemID != rows[j].SystemID {
			return rows[i].SystemID < rows[j].SystemID
		}
		return rows[i].PointID < rows[j].PointID
	})
	var out []inventory.Point
	for _, p := range rows {
		if pos.Less(cursor.CompositePosition{Major: p.SystemID, Minor: p.PointID}) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeSource) FetchReadings(_ context.Context, pos cursor.TimePosition, limit int) ([]series.Reading, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return page(s.readings, func(r series.Reading) (time.Time, string) {
		return r.MeasuredAt, fmt.Sprintf("%08d/%08d", r.SystemID, r.PointID)
	}, pos, limit), nil
}

func (s *fakeSource) FetchAggregates5m(_ context.Context, pos cursor.TimePosition, limit int) ([]series.Aggregate, error) {
	return page(s.aggs, func(a series.Aggregate) (time.Time, string) {
		return a.IntervalEnd, fmt.Sprintf("%08d/%08d", a.SystemID, a.PointID)
	}, pos, limit), nil
}

func (s *fakeSource) FetchAggregates1d(_ context.Context, pos cursor.TimePosition, limit int) ([]series.DailyAggregate, error) {
	// Dates compare by calendar day.
	day := cursor.TimePosition{Value: pos.Value.UTC().Truncate(24 * time.Hour), Overlap: pos.Overlap}
	return page(s.daily, func(d series.DailyAggregate) (time.Time, string) {
		return d.Day, fmt.Sprintf("%08d/%08d", d.SystemID, d.PointID)
	}, day, limit), nil
}

func (s *fakeSource) FetchSessions(_ context.Context, pos cursor.TimePosition, limit int) ([]series.Session, error) {
	return page(s.sessions, func(ss series.Session) (time.Time, string) {
		return ss.StartedAt, fmt.Sprintf("%08d", ss.SystemID)
	}, pos, limit), nil
}

func (s *fakeSource) CountSince(_ context.Context, table string, since time.Time) (int64, error) {
	var n int64
	count := func(ts time.Time) {
		if !ts.Before(since) {
			n++
		}
	}
	switch table {
	case series.PointReadings.Name:
		for _, r := range s.readings {
			count(r.MeasuredAt)
		}
	case series.Aggregates5m.Name:
		for _, a := range s.aggs {
			count(a.IntervalEnd)
		}
	case series.Aggregates1d.Name:
		since = since.UTC().Truncate(24 * time.Hour)
		for _, d := range s.daily {
			count(d.Day)
		}
	case series.PollingSessions.Name:
		for _, ss := range s.sessions {
			count(ss.StartedAt)
		}
	default:
		return 0, fmt.Errorf("%w: unknown table %s", domain.ErrValidation, table)
	}
	return n, nil
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// page returns rows with stamp >= pos.Value ordered by (stamp, tiebreak),
// skipping pos.Overlap rows and keeping at most limit.
func page[T any](rows []T, key func(T) (time.Time, string), pos cursor.TimePosition, limit int) []T {
	var due []T
	for _, r := range rows {
		if ts, _ := key(r); !ts.Before(pos.Value) {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		ti, ki := key(due[i])
		tj, kj := key(due[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ki < kj
	})
	if pos.Overlap >= len(due) {
		return nil
	}
	due = due[pos.Overlap:]
	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

type fakeOpener struct {
	src *fakeSource
	err error
}

func (o *fakeOpener) OpenSource(context.Context) (database.SourceStore, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

// --- target ---

// fakeTarget is an in-memory local store enforcing the constraints the
// real schema has: unique natural keys and foreign keys on every row.
type fakeTarget struct {
	mu sync.Mutex

	mappings  []identity.Mapping
	systems   []inventory.System
	points    []inventory.Point
	tables    map[string]map[string]batch.Row
	latest    map[int64]time.Time
	positions map[string]syncstate.Position

	nextSystemID int64
	insertErr    error
	inserts      int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		tables:       make(map[string]map[string]batch.Row),
		latest:       make(map[int64]time.Time),
		positions:    make(map[string]syncstate.Position),
		nextSystemID: 100,
	}
}

func (f *fakeTarget) InsertRows(_ context.Context, t batch.Table, rows []batch.Row) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return 0, f.insertErr
	}

	cols := t.ColumnNames()
	idx := func(name string) int { return slices.Index(cols, name) }
	tbl := f.tables[t.Name]
	if tbl == nil {
		tbl = make(map[string]batch.Row)
		f.tables[t.Name] = tbl
	}

	var affected int64
	for _, r := range rows {
		if i := idx("system_id"); i >= 0 {
			sys := r[i].(int64)
			if !f.hasSystem(sys) {
				return affected, fmt.Errorf("insert %s: system %d does not exist", t.Name, sys)
			}
			if j := idx("point_id"); j >= 0 && !f.hasPoint(sys, r[j].(int64)) {
				return affected, fmt.Errorf("insert %s: point %d/%d does not exist", t.Name, sys, r[j])
			}
		}

		var key []string
		for _, k := range t.Key {
			key = append(key, fmt.Sprint(r[idx(k)]))
		}
		k := strings.Join(key, "|")
		cur, exists := tbl[k]
		switch {
		case !exists:
			tbl[k] = slices.Clone(r)
			affected++
		case t.Policy == batch.ReplaceOnConflict && fmt.Sprint(cur) != fmt.Sprint(r):
			tbl[k] = slices.Clone(r)
			affected++
		}
	}
	return affected, nil
}

func (f *fakeTarget) hasSystem(id int64) bool {
	for _, s := range f.systems {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeTarget) hasPoint(sys, id int64) bool {
	for _, p := range f.points {
		if p.SystemID == sys && p.PointID == id {
			return true
		}
	}
	return false
}

func (f *fakeTarget) ListIdentityMappings(context.Context) ([]identity.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.mappings), nil
}

func (f *fakeTarget) UpsertIdentityMapping(_ context.Context, m identity.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.mappings {
		if f.mappings[i].Source == m.Source {
			f.mappings[i] = m
			return nil
		}
	}
	f.mappings = append(f.mappings, m)
	return nil
}

func (f *fakeTarget) DeleteIdentityMapping(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.mappings {
		if f.mappings[i].Source == source {
			f.mappings = slices.Delete(f.mappings, i, i+1)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeTarget) ListSystems(context.Context) ([]inventory.System, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.systems), nil
}

func (f *fakeTarget) CreateSystem(_ context.Context, s inventory.System) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := s.Validate(); err != nil {
		return 0, err
	}
	for _, e := range f.systems {
		if e.NaturalKey() == s.NaturalKey() {
			return 0, domain.ErrConflict
		}
	}
	s.ID = f.nextSystemID
	f.nextSystemID++
	f.systems = append(f.systems, s)
	return s.ID, nil
}

func (f *fakeTarget) UpdateSystem(_ context.Context, s inventory.System) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.systems {
		if f.systems[i].ID == s.ID {
			s.VendorType, s.VendorSiteID = f.systems[i].VendorType, f.systems[i].VendorSiteID
			f.systems[i] = s
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeTarget) ListPoints(context.Context) ([]inventory.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.points), nil
}

func (f *fakeTarget) CreatePoint(_ context.Context, p inventory.Point) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasSystem(p.SystemID) {
		return 0, fmt.Errorf("create point: system %d does not exist", p.SystemID)
	}
	var next int64 = 1
	for _, e := range f.points {
		if e.SystemID != p.SystemID {
			continue
		}
		if e.NaturalKey() == p.NaturalKey() {
			return 0, domain.ErrConflict
		}
		if e.PointID >= next {
			next = e.PointID + 1
		}
	}
	p.PointID = next
	f.points = append(f.points, p)
	return next, nil
}

func (f *fakeTarget) UpdatePoint(_ context.Context, p inventory.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.points {
		if f.points[i].SystemID == p.SystemID && f.points[i].PointID == p.PointID {
			f.points[i] = p
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeTarget) RefreshLatest(_ context.Context, systemID int64, readingAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.latest[systemID]; !ok || readingAt.After(cur) {
		f.latest[systemID] = readingAt
	}
	return nil
}

func (f *fakeTarget) GetLatest(_ context.Context, systemID int64) (*series.Latest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.latest[systemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &series.Latest{SystemID: systemID, ReadingAt: ts}, nil
}

func (f *fakeTarget) ListSyncPositions(context.Context) ([]syncstate.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]syncstate.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}

func (f *fakeTarget) UpsertSyncPosition(_ context.Context, p syncstate.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Table] = p
	return nil
}

// snapshot renders the full target state for equality checks.
func (f *fakeTarget) snapshot() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "systems=%v\npoints=%v\nlatest=%v\n", f.systems, f.points, f.latest)
	names := make([]string, 0, len(f.tables))
	for n := range f.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		keys := make([]string, 0, len(f.tables[n]))
		for k := range f.tables[n] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s[%s]=%v\n", n, k, f.tables[n][k])
		}
	}
	tables := make([]string, 0, len(f.positions))
	for t := range f.positions {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		p := f.positions[t]
		at := ""
		if p.LastSyncedAt != nil {
			at = p.LastSyncedAt.Format(time.RFC3339Nano)
		}
		fmt.Fprintf(&b, "pos %s at=%s day=%s\n", p.Table, at, p.LastSyncedDay)
	}
	return b.String()
}

func (f *fakeTarget) rows(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// --- emitter ---

type recordingEmitter struct {
	mu     sync.Mutex
	events []pipeline.Event
	onEmit func(pipeline.Event)
}

func (r *recordingEmitter) Emit(ev pipeline.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onEmit
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recordingEmitter) ofType(t pipeline.EventType) []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// finalStatus returns the last stage-update status of each stage.
func (r *recordingEmitter) finalStatus() map[string]pipeline.StageStatus {
	out := make(map[string]pipeline.StageStatus)
	for _, ev := range r.ofType(pipeline.EventStageUpdate) {
		out[ev.ID] = ev.Status
	}
	return out
}

func (r *recordingEmitter) last() pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// --- cache ---

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	delErr error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.data, key)
	return nil
}
