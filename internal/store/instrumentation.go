package store

import (
	"context"
	"time"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
)

// Instrumented wraps a KeyRangeStore with per-operation timing metrics.
type Instrumented struct {
	inner KeyRangeStore
}

// Instrument wraps the store. Idempotent to layer; cheap when unscraped.
func Instrument(inner KeyRangeStore) *Instrumented {
	return &Instrumented{inner: inner}
}

func observe(operation string, start time.Time) {
	metrics.StoreOpDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *Instrumented) Put(ctx context.Context, points []models.TimelineDataPoint) (int, error) {
	defer observe("put", time.Now())
	return s.inner.Put(ctx, points)
}

func (s *Instrumented) RangeQuery(ctx context.Context, q models.TimelineQuery) ([]models.TimelineDataPoint, error) {
	defer observe("range_query", time.Now())
	return s.inner.RangeQuery(ctx, q)
}

func (s *Instrumented) RangeDelete(ctx context.Context, q models.TimelineQuery) (int, error) {
	defer observe("range_delete", time.Now())
	return s.inner.RangeDelete(ctx, q)
}

func (s *Instrumented) PointBefore(ctx context.Context, entityType models.EntityType, entityID string, ts int64) (models.TimelineDataPoint, bool, error) {
	defer observe("point_before", time.Now())
	return s.inner.PointBefore(ctx, entityType, entityID, ts)
}

func (s *Instrumented) Coverage(ctx context.Context, q models.TimelineQuery) (bool, error) {
	defer observe("coverage", time.Now())
	return s.inner.Coverage(ctx, q)
}

func (s *Instrumented) CoverageOverlaps(ctx context.Context, q models.TimelineQuery) (bool, error) {
	defer observe("coverage_overlaps", time.Now())
	return s.inner.CoverageOverlaps(ctx, q)
}

func (s *Instrumented) AddCoverage(ctx context.Context, entityType models.EntityType, entityID string, span spans.Span) error {
	defer observe("add_coverage", time.Now())
	return s.inner.AddCoverage(ctx, entityType, entityID, span)
}

func (s *Instrumented) TruncateCoverage(ctx context.Context, q models.TimelineQuery) error {
	defer observe("truncate_coverage", time.Now())
	return s.inner.TruncateCoverage(ctx, q)
}

func (s *Instrumented) SweepBefore(ctx context.Context, cutoff int64) (int, error) {
	defer observe("sweep", time.Now())
	return s.inner.SweepBefore(ctx, cutoff)
}

func (s *Instrumented) Estimate(ctx context.Context) (Estimate, error) {
	defer observe("estimate", time.Now())
	return s.inner.Estimate(ctx)
}

func (s *Instrumented) Clear(ctx context.Context) error {
	defer observe("clear", time.Now())
	return s.inner.Clear(ctx)
}

func (s *Instrumented) Close() error {
	return s.inner.Close()
}
