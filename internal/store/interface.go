// Package store is the persistent cache tier: a durable local range store
// keyed by (entityType, entityId, timestamp). It survives restarts and is
// authoritative over the memory tier; it ages out only by TTL sweep, never
// by size (durability over capacity).
package store

import (
	"context"
	"errors"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
)

// ErrUnavailable marks persistent-tier failures. The cache manager absorbs
// it: reads fall through to the network, writes no-op, a failure counter
// ticks. A read must never fail because durable storage is down.
var ErrUnavailable = errors.New("persistent store unavailable")

// Estimate is the persistent tier's size report for stats.
type Estimate struct {
	Entries   int
	SizeBytes int64
}

// KeyRangeStore is the durable backend contract for the persistent tier.
// Implementations must make Put idempotent on the identity triple
// (first-writer-wins) and keep every operation safe to call while prior
// operations on the same range are still pending.
type KeyRangeStore interface {
	// Put inserts points, silently skipping identities that already exist.
	// Returns the number of points actually inserted.
	Put(ctx context.Context, points []models.TimelineDataPoint) (int, error)

	// RangeQuery returns points for entityType (+ entityID if non-empty)
	// with timestamp in [start, end), ascending by timestamp.
	RangeQuery(ctx context.Context, q models.TimelineQuery) ([]models.TimelineDataPoint, error)

	// RangeDelete removes points matching the query scope and range.
	// Returns the number removed.
	RangeDelete(ctx context.Context, q models.TimelineQuery) (int, error)

	// PointBefore returns the point with the greatest timestamp <= ts for
	// the entity, or ok == false if none exists.
	PointBefore(ctx context.Context, entityType models.EntityType, entityID string, ts int64) (models.TimelineDataPoint, bool, error)

	// Coverage reports whether the store holds complete data for the query
	// range, per recorded coverage spans. Entity-scoped queries are also
	// satisfied by type-wide coverage.
	Coverage(ctx context.Context, q models.TimelineQuery) (bool, error)

	// CoverageOverlaps reports whether any recorded coverage in the query
	// scope intersects the range at all. Same scope rules as Coverage.
	CoverageOverlaps(ctx context.Context, q models.TimelineQuery) (bool, error)

	// AddCoverage records that [span.Start, span.End) is fully populated
	// for the scope (entityID == "" means type-wide).
	AddCoverage(ctx context.Context, entityType models.EntityType, entityID string, span spans.Span) error

	// TruncateCoverage subtracts the span from all coverage records in the
	// query scope (used by invalidation and TTL sweeps).
	TruncateCoverage(ctx context.Context, q models.TimelineQuery) error

	// SweepBefore removes all points with timestamp < cutoff and clamps
	// coverage accordingly. Returns the number of points removed.
	SweepBefore(ctx context.Context, cutoff int64) (int, error)

	// Estimate returns entry count and byte size for stats.
	Estimate(ctx context.Context) (Estimate, error)

	// Clear removes all points and coverage.
	Clear(ctx context.Context) error

	Close() error
}
