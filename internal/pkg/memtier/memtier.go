// Package memtier is the fast, size-bounded, process-local cache tier.
// It holds cached query results keyed by query signature plus live point
// buffers keyed by entity, evicting least-recently-inserted entries first
// (FIFO, not LRU: eviction stays O(1) and reads need no bookkeeping — the
// tier exists to avoid network round-trips, not persistent-tier reads).
// Contents are lost on process restart.
package memtier

import (
	"sort"
	"sync"
	"time"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
)

const liveKeyPrefix = "live|"

type entry struct {
	entityType models.EntityType
	entityID   string
	span       spans.Span
	live       bool
	points     []models.TimelineDataPoint
	insertedAt time.Time
}

// Tier is the in-memory cache tier. Thread-safe.
type Tier struct {
	mu         sync.RWMutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*entry
	order      []string // insertion order; head is evicted first
	evictions  uint64
}

// New returns a tier bounded to maxEntries entries aged out after ttl.
// ttl <= 0 disables age-based expiry; maxEntries <= 0 falls back to 1024.
func New(maxEntries int, ttl time.Duration) *Tier {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Tier{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*entry),
	}
}

func liveKey(entityType models.EntityType, entityID string) string {
	return liveKeyPrefix + string(entityType) + "|" + entityID
}

func (t *Tier) expired(e *entry, now time.Time) bool {
	return t.ttl > 0 && now.Sub(e.insertedAt) > t.ttl
}

// GetResult returns the cached result for the query signature, if present
// and not expired.
func (t *Tier) GetResult(sig string) ([]models.TimelineDataPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[sig]
	if !ok || e.live || t.expired(e, time.Now()) {
		return nil, false
	}
	return e.points, true
}

// PutResult caches a full query result under its signature.
func (t *Tier) PutResult(q models.TimelineQuery, points []models.TimelineDataPoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(q.Signature(), &entry{
		entityType: q.EntityType,
		entityID:   q.EntityID,
		span:       spans.Span{Start: q.StartTime, End: q.EndTime},
		points:     points,
		insertedAt: time.Now(),
	})
}

// AppendLive merges one live point into the entity's buffer, first-writer-wins
// on the identity triple. Returns false if the identity already existed.
func (t *Tier) AppendLive(p models.TimelineDataPoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := liveKey(p.EntityType, p.EntityID)
	e, ok := t.entries[key]
	if !ok {
		t.insert(key, &entry{
			entityType: p.EntityType,
			entityID:   p.EntityID,
			live:       true,
			points:     []models.TimelineDataPoint{p},
			insertedAt: time.Now(),
		})
		return true
	}
	i := sort.Search(len(e.points), func(i int) bool { return e.points[i].Timestamp >= p.Timestamp })
	if i < len(e.points) && e.points[i].Timestamp == p.Timestamp {
		return false
	}
	e.points = append(e.points, models.TimelineDataPoint{})
	copy(e.points[i+1:], e.points[i:])
	e.points[i] = p
	return true
}

// GetLive filters the entity's live buffer to the query range. Whether the
// buffer may answer on its own is the manager's call: it depends on what the
// persistent tier holds before the buffer's first point (see LiveSince).
func (t *Tier) GetLive(q models.TimelineQuery) ([]models.TimelineDataPoint, bool) {
	if q.EntityID == "" {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[liveKey(q.EntityType, q.EntityID)]
	if !ok || t.expired(e, time.Now()) {
		return nil, false
	}
	out := make([]models.TimelineDataPoint, 0, len(e.points))
	for _, p := range e.points {
		if p.Timestamp >= q.StartTime && p.Timestamp < q.EndTime {
			out = append(out, p)
		}
	}
	return out, true
}

// LiveSince returns the earliest timestamp buffered for the entity's live
// feed, or ok == false when no non-empty buffer exists.
func (t *Tier) LiveSince(entityType models.EntityType, entityID string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[liveKey(entityType, entityID)]
	if !ok || t.expired(e, time.Now()) || len(e.points) == 0 {
		return 0, false
	}
	return e.points[0].Timestamp, true
}

// LivePointBefore returns the live point with the greatest timestamp <= ts.
func (t *Tier) LivePointBefore(entityType models.EntityType, entityID string, ts int64) (models.TimelineDataPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[liveKey(entityType, entityID)]
	if !ok || t.expired(e, time.Now()) {
		return models.TimelineDataPoint{}, false
	}
	i := sort.Search(len(e.points), func(i int) bool { return e.points[i].Timestamp > ts })
	if i == 0 {
		return models.TimelineDataPoint{}, false
	}
	return e.points[i-1], true
}

// Invalidate drops entries matching the query's scope. Result entries are
// dropped on any range overlap; live buffers for matching entities are
// dropped whole — over-dropping is safe, the persistent tier is authoritative.
func (t *Tier) Invalidate(q models.TimelineQuery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := spans.Span{Start: q.StartTime, End: q.EndTime}
	for key, e := range t.entries {
		if e.entityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && e.entityID != q.EntityID {
			continue
		}
		if e.live || overlaps(e.span, s) {
			t.remove(key)
		}
	}
}

// Clear empties the tier.
func (t *Tier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*entry)
	t.order = t.order[:0]
}

// Sweep ages the tier out: entries older than the tier TTL are dropped
// whole, live points with timestamp < cutoffTS are dropped individually, and
// result entries whose range reaches below cutoffTS are dropped whole (their
// completeness claim no longer holds once the persistent tier swept the same
// range). Returns the number of points removed, for cleanup accounting.
func (t *Tier) Sweep(now time.Time, cutoffTS int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, e := range t.entries {
		if t.expired(e, now) {
			removed += len(e.points)
			t.remove(key)
			continue
		}
		if e.live {
			kept := e.points[:0]
			for _, p := range e.points {
				if p.Timestamp < cutoffTS {
					removed++
					continue
				}
				kept = append(kept, p)
			}
			e.points = kept
			continue
		}
		if e.span.Start < cutoffTS {
			removed += len(e.points)
			t.remove(key)
		}
	}
	return removed
}

// Len returns the current entry count.
func (t *Tier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Evictions returns the cumulative count of size-bound evictions.
func (t *Tier) Evictions() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evictions
}

// insert adds or replaces an entry and enforces the size bound.
// Callers must hold the write lock.
func (t *Tier) insert(key string, e *entry) {
	if _, exists := t.entries[key]; !exists {
		t.order = append(t.order, key)
	}
	t.entries[key] = e
	for len(t.entries) > t.maxEntries {
		oldest := t.order[0]
		t.remove(oldest)
		t.evictions++
		metrics.MemoryEvictionsTotal.Inc()
	}
}

// remove deletes an entry and its order slot. Callers must hold the write lock.
func (t *Tier) remove(key string) {
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func overlaps(a, b spans.Span) bool {
	return a.Start < b.End && b.Start < a.End
}
