package cache

import (
	"sync/atomic"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
	"github.com/geowatch/timeline-cache/internal/store"
)

// statsCollector keeps monotonically increasing hit/miss counters across the
// process lifetime. A hit is a query answered by memory or persistent; a
// network fallback is a miss. Mirrored to Prometheus; never read back by the
// manager's own routing, so stats cannot create feedback loops.
type statsCollector struct {
	hits            atomic.Uint64
	misses          atomic.Uint64
	persistFailures atomic.Uint64
}

func (s *statsCollector) hit(tier models.Source) {
	s.hits.Add(1)
	metrics.CacheHitsTotal.WithLabelValues(string(tier)).Inc()
}

func (s *statsCollector) miss() {
	s.misses.Add(1)
	metrics.CacheMissesTotal.Inc()
}

func (s *statsCollector) persistFailure() {
	s.persistFailures.Add(1)
	metrics.PersistentFailuresTotal.Inc()
}

func (s *statsCollector) snapshot(memoryEntries int, est store.Estimate) models.CacheStats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return models.CacheStats{
		MemoryEntries:       memoryEntries,
		PersistentEntries:   est.Entries,
		PersistentSizeBytes: est.SizeBytes,
		HitRate:             rate,
		Hits:                hits,
		Misses:              misses,
		PersistentFailures:  s.persistFailures.Load(),
	}
}
