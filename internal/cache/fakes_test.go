package cache

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
	"github.com/geowatch/timeline-cache/internal/store"
)

// fakeStore is an in-memory KeyRangeStore with the same coverage semantics
// as the SQL implementations, plus a failure switch for degradation tests.
type fakeStore struct {
	mu       sync.Mutex
	points   map[string]models.TimelineDataPoint
	coverage map[scopeKey]*spans.Set
	fail     bool
}

type scopeKey struct {
	entityType models.EntityType
	entityID   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		points:   make(map[string]models.TimelineDataPoint),
		coverage: make(map[scopeKey]*spans.Set),
	}
}

func (f *fakeStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func (f *fakeStore) errIfFailing() error {
	if f.fail {
		return store.ErrUnavailable
	}
	return nil
}

func (f *fakeStore) Put(_ context.Context, points []models.TimelineDataPoint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return 0, err
	}
	inserted := 0
	for _, p := range points {
		if _, exists := f.points[p.Key()]; exists {
			continue
		}
		f.points[p.Key()] = p
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) RangeQuery(_ context.Context, q models.TimelineQuery) ([]models.TimelineDataPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return nil, err
	}
	var out []models.TimelineDataPoint
	for _, p := range f.points {
		if q.Matches(&p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (f *fakeStore) RangeDelete(_ context.Context, q models.TimelineQuery) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return 0, err
	}
	removed := 0
	for key, p := range f.points {
		if q.Matches(&p) {
			delete(f.points, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) PointBefore(_ context.Context, entityType models.EntityType, entityID string, ts int64) (models.TimelineDataPoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return models.TimelineDataPoint{}, false, err
	}
	var best models.TimelineDataPoint
	found := false
	for _, p := range f.points {
		if p.EntityType != entityType || p.EntityID != entityID || p.Timestamp > ts {
			continue
		}
		if !found || p.Timestamp > best.Timestamp {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) Coverage(_ context.Context, q models.TimelineQuery) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return false, err
	}
	return f.scopeCoverage(q).Covers(spans.Span{Start: q.StartTime, End: q.EndTime}), nil
}

func (f *fakeStore) CoverageOverlaps(_ context.Context, q models.TimelineQuery) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return false, err
	}
	return f.scopeCoverage(q).Overlaps(spans.Span{Start: q.StartTime, End: q.EndTime}), nil
}

// scopeCoverage merges entity and type-wide coverage. Callers hold the lock.
func (f *fakeStore) scopeCoverage(q models.TimelineQuery) *spans.Set {
	merged := &spans.Set{}
	for scope, set := range f.coverage {
		if scope.entityType != q.EntityType {
			continue
		}
		if scope.entityID != "" && (q.EntityID == "" || scope.entityID != q.EntityID) {
			continue
		}
		for _, s := range set.Spans() {
			merged.Add(s)
		}
	}
	return merged
}

func (f *fakeStore) AddCoverage(_ context.Context, entityType models.EntityType, entityID string, span spans.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return err
	}
	key := scopeKey{entityType, entityID}
	set, ok := f.coverage[key]
	if !ok {
		set = &spans.Set{}
		f.coverage[key] = set
	}
	set.Add(span)
	return nil
}

func (f *fakeStore) TruncateCoverage(_ context.Context, q models.TimelineQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return err
	}
	for scope, set := range f.coverage {
		if scope.entityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && scope.entityID != "" && scope.entityID != q.EntityID {
			continue
		}
		set.Subtract(spans.Span{Start: q.StartTime, End: q.EndTime})
	}
	return nil
}

func (f *fakeStore) SweepBefore(_ context.Context, cutoff int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return 0, err
	}
	removed := 0
	for key, p := range f.points {
		if p.Timestamp < cutoff {
			delete(f.points, key)
			removed++
		}
	}
	for _, set := range f.coverage {
		set.ClampBelow(cutoff)
	}
	return removed, nil
}

func (f *fakeStore) Estimate(_ context.Context) (store.Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return store.Estimate{}, err
	}
	return store.Estimate{Entries: len(f.points), SizeBytes: int64(len(f.points)) * 64}, nil
}

func (f *fakeStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfFailing(); err != nil {
		return err
	}
	f.points = make(map[string]models.TimelineDataPoint)
	f.coverage = make(map[scopeKey]*spans.Set)
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeFetcher records upstream calls and serves from a fixed point set.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  []models.TimelineQuery
	points []models.TimelineDataPoint
	err    error
	block  chan struct{} // when non-nil, FetchRange waits on it
}

var errUpstream = errors.New("upstream unavailable")

func (f *fakeFetcher) FetchRange(ctx context.Context, entityType models.EntityType, entityID string, start, end int64) ([]models.TimelineDataPoint, error) {
	q := models.TimelineQuery{EntityType: entityType, EntityID: entityID, StartTime: start, EndTime: end}
	f.mu.Lock()
	f.calls = append(f.calls, q)
	err := f.err
	var out []models.TimelineDataPoint
	for _, p := range f.points {
		if q.Matches(&p) {
			out = append(out, p)
		}
	}
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
