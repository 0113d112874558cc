// Package metrics provides Prometheus metrics for the timeline cache
// (hit/miss rates, tier sizes, queue depth, upstream latency). Scrapeable at
// /metrics; advisory only — never consulted by the cache's own routing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timelinecache"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// CacheHitsTotal counts query hits by answering tier (memory, persistent).
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits by answering tier.",
		},
		[]string{"tier"},
	)

	// CacheMissesTotal counts queries that fell through to the network.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses (network fallback).",
		},
	)

	// MemoryEvictionsTotal counts FIFO evictions from the memory tier.
	MemoryEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Total number of memory tier entries evicted under the size bound.",
		},
	)

	// PersistentFailuresTotal counts absorbed persistent-tier failures.
	PersistentFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistent_failures_total",
			Help:      "Total number of persistent tier failures absorbed by the manager.",
		},
	)

	// StoreOpDurationSeconds times persistent store operations.
	StoreOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_duration_seconds",
			Help:      "Persistent store operation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
		[]string{"operation"},
	)

	// WriteQueueDepth is the number of live-update batches awaiting persistence.
	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_queue_depth",
			Help:      "Number of live-update batches queued for the persistent tier.",
		},
	)

	// WriteQueueDroppedTotal counts batches dropped because the queue was full.
	WriteQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_queue_dropped_total",
			Help:      "Total number of live-update batches dropped under write queue backpressure.",
		},
	)

	// PrefetchChunksTotal counts background prefetch chunk fetches by outcome.
	PrefetchChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_chunks_total",
			Help:      "Total number of prefetch chunk fetches by outcome.",
		},
		[]string{"outcome"},
	)

	// UpstreamFetchDurationSeconds times upstream range fetches.
	UpstreamFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_duration_seconds",
			Help:      "Upstream fetchRange duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10),
		},
	)

	// LivePointsIngestedTotal counts live points accepted by ingestion.
	LivePointsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_points_ingested_total",
			Help:      "Total number of live-update points ingested.",
		},
	)

	// LivePointsDroppedTotal counts malformed live points dropped at ingestion.
	LivePointsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_points_dropped_total",
			Help:      "Total number of malformed live-update points dropped.",
		},
	)

	// WebSocketConnectionsActive is current number of live-ingest WebSocket clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket ingest connections.",
		},
	)
)
