// Package cache implements the multi-tier timeline cache manager: tier
// selection and fallback (memory, persistent, network), write-through,
// in-flight request de-duplication, background prefetch, live-update
// ingestion, invalidation, and TTL sweeps.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/memtier"
	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
	"github.com/geowatch/timeline-cache/internal/store"
)

// Fetcher is the upstream collaborator: a network fetch over an entity/time
// range. It may fail or time out; reconnect and backoff are its own concern.
type Fetcher interface {
	FetchRange(ctx context.Context, entityType models.EntityType, entityID string, start, end int64) ([]models.TimelineDataPoint, error)
}

// Options tunes the manager. Zero values get safe defaults in New.
type Options struct {
	MemoryMaxEntries      int
	MemoryTTL             time.Duration
	PersistentTTL         time.Duration
	PrefetchWindow        time.Duration // chunk width for background range prefetch
	PrefetchMaxChunks     int
	PrefetchOnPointLookup bool // whether GetEntityAt schedules a forward prefetch
	CleanupInterval       time.Duration // 0 disables the background sweep timer
	WriteQueueSize        int
}

func (o *Options) withDefaults() {
	if o.MemoryMaxEntries <= 0 {
		o.MemoryMaxEntries = 1024
	}
	if o.PersistentTTL <= 0 {
		o.PersistentTTL = 24 * time.Hour
	}
	if o.PrefetchWindow <= 0 {
		o.PrefetchWindow = 5 * time.Minute
	}
	if o.PrefetchMaxChunks <= 0 {
		o.PrefetchMaxChunks = 8
	}
}

// Manager is the query router over the cache tiers. One instance is shared
// by all query call-sites; construct with New and release with Close.
type Manager struct {
	opts    Options
	mem     *memtier.Tier
	store   store.KeyRangeStore
	fetcher Fetcher
	queue   *store.WriteQueue
	flight  singleflight.Group
	stats   *statsCollector
	log     *slog.Logger

	wg        sync.WaitGroup
	stopSweep chan struct{}
	closeMu   sync.Mutex
	closed    bool
}

// New builds a manager over the given persistent store and upstream fetcher.
// If opts.CleanupInterval > 0 a background sweep timer runs until Close.
func New(kv store.KeyRangeStore, fetcher Fetcher, opts Options, log *slog.Logger) *Manager {
	opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		opts:      opts,
		mem:       memtier.New(opts.MemoryMaxEntries, opts.MemoryTTL),
		store:     kv,
		fetcher:   fetcher,
		queue:     store.NewWriteQueue(opts.WriteQueueSize, log),
		stats:     &statsCollector{},
		log:       log,
		stopSweep: make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop(opts.CleanupInterval)
	}
	return m
}

// Close stops the sweep timer, waits for in-flight prefetches, and drains
// the write queue. The persistent store itself stays open; its owner closes it.
func (m *Manager) Close() {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return
	}
	m.closed = true
	m.closeMu.Unlock()
	close(m.stopSweep)
	m.wg.Wait()
	m.queue.Close()
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			if n, err := m.Cleanup(context.Background()); err == nil && n > 0 {
				m.log.Debug("cleanup sweep", "removed", n)
			}
		}
	}
}

// Get answers a range query from the fastest tier that holds complete data
// for it, populating faster tiers on the way back. Concurrent Gets with an
// identical signature share one upstream fetch.
func (m *Manager) Get(ctx context.Context, q models.TimelineQuery) (models.CacheResult[[]models.TimelineDataPoint], error) {
	return m.get(ctx, q, true)
}

func (m *Manager) get(ctx context.Context, q models.TimelineQuery, record bool) (models.CacheResult[[]models.TimelineDataPoint], error) {
	var zero models.CacheResult[[]models.TimelineDataPoint]
	if err := q.Validate(); err != nil {
		return zero, err
	}
	sig := q.Signature()

	// Memory tier: cached results by signature, then the entity's live buffer.
	if pts, ok := m.mem.GetResult(sig); ok {
		if record {
			m.stats.hit(models.SourceMemory)
		}
		return rangeResult(pts, models.SourceMemory), nil
	}
	livePts, liveOK := m.mem.GetLive(q)
	if liveOK && m.liveBufferAuthoritative(ctx, q) {
		if record {
			m.stats.hit(models.SourceMemory)
		}
		return rangeResult(livePts, models.SourceMemory), nil
	}

	// Persistent tier: only a hit when recorded coverage spans the whole
	// range; anything less, including a store failure, falls through. Live
	// points still riding the write queue are merged into the answer.
	covered, err := m.store.Coverage(ctx, q)
	if err != nil {
		m.persistFailure("coverage check", err)
	}
	if covered {
		pts, err := m.store.RangeQuery(ctx, q)
		if err == nil {
			pts = mergePoints(pts, livePts)
			m.mem.PutResult(q, pts)
			if record {
				m.stats.hit(models.SourcePersistent)
			}
			return rangeResult(pts, models.SourcePersistent), nil
		}
		m.persistFailure("range query", err)
	}

	// Network tier, shared across identical concurrent queries. The shared
	// fetch must not inherit the first caller's cancellation; the upstream
	// client carries its own timeout.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(sig, func() (any, error) {
		return m.fetchAndFill(fetchCtx, q)
	})
	if err != nil {
		// Best available answer beats a rejected query: serve whatever the
		// persistent tier holds for the range, stale or partial.
		if pts, serr := m.store.RangeQuery(ctx, q); serr == nil && len(pts) > 0 {
			if record {
				m.stats.miss()
			}
			return rangeResult(mergePoints(pts, livePts), models.SourcePersistent), nil
		}
		if record {
			m.stats.miss()
		}
		return zero, fmt.Errorf("query %s: %w", sig, err)
	}
	if record {
		m.stats.miss()
	}
	return rangeResult(v.([]models.TimelineDataPoint), models.SourceNetwork), nil
}

// liveBufferAuthoritative reports whether the entity's live buffer may answer
// the query on its own. The stream is authoritative from its first delivered
// point onward; for the part of the range before that point it only speaks
// when the persistent tier claims no history there.
func (m *Manager) liveBufferAuthoritative(ctx context.Context, q models.TimelineQuery) bool {
	since, ok := m.mem.LiveSince(q.EntityType, q.EntityID)
	if !ok {
		return false
	}
	if q.StartTime >= since {
		return true
	}
	head := q
	if head.EndTime > since {
		head.EndTime = since
	}
	held, err := m.store.CoverageOverlaps(ctx, head)
	if err != nil {
		// Reads never fail because durable storage is down: with the
		// persistent tier unreachable, memory is the best tier left.
		m.persistFailure("coverage overlap check", err)
		return true
	}
	return !held
}

// fetchAndFill performs the upstream fetch and writes the result through the
// persistent tier, then the memory tier. Persistent failures degrade to
// memory-only; the fetch result is still served. The answer is the union of
// the fetch and what the tiers already hold in the range — older persisted
// history and not-yet-flushed live points must not vanish behind a fetch.
func (m *Manager) fetchAndFill(ctx context.Context, q models.TimelineQuery) ([]models.TimelineDataPoint, error) {
	start := time.Now()
	fetched, err := m.fetcher.FetchRange(ctx, q.EntityType, q.EntityID, q.StartTime, q.EndTime)
	metrics.UpstreamFetchDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Put(ctx, fetched); err != nil {
		m.persistFailure("write-through put", err)
	} else if err := m.store.AddCoverage(ctx, q.EntityType, q.EntityID, spans.Span{Start: q.StartTime, End: q.EndTime}); err != nil {
		m.persistFailure("write-through coverage", err)
	}
	pts := fetched
	if stored, err := m.store.RangeQuery(ctx, q); err == nil {
		pts = mergePoints(stored, fetched)
	}
	if lp, ok := m.mem.GetLive(q); ok {
		pts = mergePoints(pts, lp)
	}
	m.mem.PutResult(q, pts)
	return pts, nil
}

// GetEntityAt returns the point with the greatest timestamp <= ts for the
// entity — "state as of time T" for playback and scrubbing. Only cache tiers
// are consulted; the upstream has no point-lookup shape. Data may be nil.
func (m *Manager) GetEntityAt(ctx context.Context, entityType models.EntityType, entityID string, ts int64) (models.CacheResult[*models.TimelineDataPoint], error) {
	var zero models.CacheResult[*models.TimelineDataPoint]
	if entityType == "" || entityID == "" {
		return zero, fmt.Errorf("entity lookup: missing entityType or entityId")
	}
	defer m.maybePointPrefetch(entityType, ts)

	if p, ok := m.mem.LivePointBefore(entityType, entityID, ts); ok {
		m.stats.hit(models.SourceMemory)
		p.SourceTier = models.SourceMemory
		return models.CacheResult[*models.TimelineDataPoint]{Data: &p, Source: models.SourceMemory}, nil
	}
	p, ok, err := m.store.PointBefore(ctx, entityType, entityID, ts)
	if err != nil {
		m.persistFailure("point lookup", err)
		m.stats.miss()
		return models.CacheResult[*models.TimelineDataPoint]{Source: models.SourcePersistent}, nil
	}
	if !ok {
		m.stats.miss()
		return models.CacheResult[*models.TimelineDataPoint]{Source: models.SourcePersistent}, nil
	}
	m.stats.hit(models.SourcePersistent)
	p.SourceTier = models.SourcePersistent
	return models.CacheResult[*models.TimelineDataPoint]{Data: &p, Source: models.SourcePersistent}, nil
}

func (m *Manager) maybePointPrefetch(entityType models.EntityType, ts int64) {
	if !m.opts.PrefetchOnPointLookup {
		return
	}
	window := m.opts.PrefetchWindow.Milliseconds()
	m.PrefetchRange(entityType, ts, ts+window*int64(m.opts.PrefetchMaxChunks))
}

// PrefetchRange schedules forward-looking fetches for [start, end), chunked
// by the prefetch window. Fire-and-forget: the caller never blocks and
// failures never surface — prefetch is best-effort by contract.
func (m *Manager) PrefetchRange(entityType models.EntityType, start, end int64) {
	if entityType == "" || start >= end {
		return
	}
	window := m.opts.PrefetchWindow.Milliseconds()
	if window <= 0 {
		return
	}
	var chunks []models.TimelineQuery
	for cur := start; cur < end && len(chunks) < m.opts.PrefetchMaxChunks; cur += window {
		chunkEnd := cur + window
		if chunkEnd > end {
			chunkEnd = end
		}
		chunks = append(chunks, models.TimelineQuery{EntityType: entityType, StartTime: cur, EndTime: chunkEnd})
	}
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return
	}
	m.wg.Add(1)
	m.closeMu.Unlock()
	go func() {
		defer m.wg.Done()
		for _, q := range chunks {
			// Prefetch reuses the query path but skips hit/miss accounting
			// so background fills cannot distort the advisory hit rate.
			if _, err := m.get(context.Background(), q, false); err != nil {
				metrics.PrefetchChunksTotal.WithLabelValues("error").Inc()
				continue
			}
			metrics.PrefetchChunksTotal.WithLabelValues("ok").Inc()
		}
	}()
}

// StoreLiveUpdate ingests streamed points into both tiers, bypassing the
// query path. Idempotent on the identity triple (first-writer-wins), applied
// in call order, and non-blocking: persistent writes are queued, not awaited.
// A malformed point is dropped alone; the rest of the batch goes through.
// Live ingestion never triggers prefetch.
func (m *Manager) StoreLiveUpdate(ctx context.Context, points []models.TimelineDataPoint) error {
	valid := make([]models.TimelineDataPoint, 0, len(points))
	for _, p := range points {
		if err := p.Validate(); err != nil {
			metrics.LivePointsDroppedTotal.Inc()
			m.log.Debug("dropping malformed live point", "error", err)
			continue
		}
		if m.mem.AppendLive(p) {
			metrics.LivePointsIngestedTotal.Inc()
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return nil
	}

	// A streamed batch proves coverage only where it delivered points:
	// record each scope's own span, never beyond, so windows the feed has
	// not touched still fall through to the network.
	type liveScope struct {
		entityType models.EntityType
		entityID   string
		span       spans.Span
	}
	scopes := make(map[string]*liveScope)
	for _, p := range valid {
		key := string(p.EntityType) + "|" + p.EntityID
		sc, ok := scopes[key]
		if !ok {
			scopes[key] = &liveScope{
				entityType: p.EntityType,
				entityID:   p.EntityID,
				span:       spans.Span{Start: p.Timestamp, End: p.Timestamp + 1},
			}
			continue
		}
		if p.Timestamp < sc.span.Start {
			sc.span.Start = p.Timestamp
		}
		if p.Timestamp+1 > sc.span.End {
			sc.span.End = p.Timestamp + 1
		}
	}
	batch := valid
	m.queue.Enqueue(func(ctx context.Context) {
		if _, err := m.store.Put(ctx, batch); err != nil {
			m.persistFailure("live update put", err)
			return
		}
		for _, sc := range scopes {
			if err := m.store.AddCoverage(ctx, sc.entityType, sc.entityID, sc.span); err != nil {
				m.persistFailure("live update coverage", err)
			}
		}
	})
	return nil
}

// Invalidate with a nil query clears both tiers entirely (logout / hard
// refresh). With a query it removes matching points and truncates coverage;
// a point is never partially invalidated. Failures are absorbed.
func (m *Manager) Invalidate(ctx context.Context, q *models.TimelineQuery) {
	if q == nil {
		m.mem.Clear()
		if err := m.store.Clear(ctx); err != nil {
			m.persistFailure("clear", err)
		}
		return
	}
	m.mem.Invalidate(*q)
	if _, err := m.store.RangeDelete(ctx, *q); err != nil {
		m.persistFailure("range delete", err)
		return
	}
	if err := m.store.TruncateCoverage(ctx, *q); err != nil {
		m.persistFailure("truncate coverage", err)
	}
}

// Cleanup sweeps both tiers for points older than the persistent TTL and
// memory entries past the memory TTL. Returns the number of removed points.
// Safe to call concurrently with Get and StoreLiveUpdate.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	now := time.Now()
	cutoff := now.Add(-m.opts.PersistentTTL).UnixMilli()
	removed := m.mem.Sweep(now, cutoff)
	n, err := m.store.SweepBefore(ctx, cutoff)
	if err != nil {
		m.persistFailure("sweep", err)
		return removed, nil
	}
	return removed + n, nil
}

// Stats returns a point-in-time snapshot. Advisory only.
func (m *Manager) Stats(ctx context.Context) models.CacheStats {
	est, err := m.store.Estimate(ctx)
	if err != nil {
		m.persistFailure("estimate", err)
	}
	return m.stats.snapshot(m.mem.Len(), est)
}

func (m *Manager) persistFailure(op string, err error) {
	m.stats.persistFailure()
	m.log.Warn("persistent tier degraded", "op", op, "error", err)
}

// mergePoints unions extra into pts on the identity triple, pts winning
// conflicts. The result is ascending by timestamp.
func mergePoints(pts, extra []models.TimelineDataPoint) []models.TimelineDataPoint {
	if len(extra) == 0 {
		return pts
	}
	seen := make(map[string]struct{}, len(pts))
	for _, p := range pts {
		seen[p.Key()] = struct{}{}
	}
	out := append([]models.TimelineDataPoint(nil), pts...)
	for _, p := range extra {
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// rangeResult tags each returned point with the tier that produced it.
// Points are copied so cached slices are never aliased by consumers.
func rangeResult(pts []models.TimelineDataPoint, source models.Source) models.CacheResult[[]models.TimelineDataPoint] {
	out := make([]models.TimelineDataPoint, len(pts))
	copy(out, pts)
	for i := range out {
		out[i].SourceTier = source
	}
	return models.CacheResult[[]models.TimelineDataPoint]{Data: out, Source: source}
}
