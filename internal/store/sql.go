package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/spans"
)

// sqlStore implements KeyRangeStore over a sqlx database. The SQLite and
// Postgres constructors differ only in driver setup, schema dialect, and
// the idempotent-insert clause.
type sqlStore struct {
	db        *sqlx.DB
	insertSQL string
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

type pointRow struct {
	EntityType string `db:"entity_type"`
	EntityID   string `db:"entity_id"`
	TS         int64  `db:"ts"`
	SourceTier string `db:"source_tier"`
	Payload    string `db:"payload"`
}

func (r pointRow) toPoint() (models.TimelineDataPoint, error) {
	payload, err := models.DecodePayload(models.EntityType(r.EntityType), json.RawMessage(r.Payload))
	if err != nil {
		return models.TimelineDataPoint{}, err
	}
	return models.TimelineDataPoint{
		EntityType: models.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Timestamp:  r.TS,
		Payload:    payload,
		SourceTier: models.Source(r.SourceTier),
	}, nil
}

func (s *sqlStore) Put(ctx context.Context, points []models.TimelineDataPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, unavailable("put", err)
	}
	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(s.insertSQL))
	if err != nil {
		_ = tx.Rollback()
		return 0, unavailable("put", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range points {
		payload, err := models.EncodePayload(p.Payload)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("put %s: %w", p.Key(), err)
		}
		res, err := stmt.ExecContext(ctx, string(p.EntityType), p.EntityID, p.Timestamp, string(p.SourceTier), string(payload))
		if err != nil {
			_ = tx.Rollback()
			return 0, unavailable("put", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("put", err)
	}
	return inserted, nil
}

func (s *sqlStore) RangeQuery(ctx context.Context, q models.TimelineQuery) ([]models.TimelineDataPoint, error) {
	query := `SELECT entity_type, entity_id, ts, source_tier, payload
		FROM timeline_points
		WHERE entity_type = ? AND ts >= ? AND ts < ?`
	args := []any{string(q.EntityType), q.StartTime, q.EndTime}
	if q.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, q.EntityID)
	}
	query += ` ORDER BY ts ASC, entity_id ASC`

	var rows []pointRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("range query", err)
	}
	out := make([]models.TimelineDataPoint, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPoint()
		if err != nil {
			// Corrupt record: skip it rather than failing the read.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *sqlStore) RangeDelete(ctx context.Context, q models.TimelineQuery) (int, error) {
	query := `DELETE FROM timeline_points WHERE entity_type = ? AND ts >= ? AND ts < ?`
	args := []any{string(q.EntityType), q.StartTime, q.EndTime}
	if q.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, q.EntityID)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, unavailable("range delete", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) PointBefore(ctx context.Context, entityType models.EntityType, entityID string, ts int64) (models.TimelineDataPoint, bool, error) {
	query := s.db.Rebind(`SELECT entity_type, entity_id, ts, source_tier, payload
		FROM timeline_points
		WHERE entity_type = ? AND entity_id = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`)
	var row pointRow
	err := s.db.GetContext(ctx, &row, query, string(entityType), entityID, ts)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TimelineDataPoint{}, false, nil
	}
	if err != nil {
		return models.TimelineDataPoint{}, false, unavailable("point before", err)
	}
	p, err := row.toPoint()
	if err != nil {
		return models.TimelineDataPoint{}, false, nil
	}
	return p, true, nil
}

type coverageRow struct {
	EntityID string `db:"entity_id"`
	StartTS  int64  `db:"start_ts"`
	EndTS    int64  `db:"end_ts"`
}

func (s *sqlStore) Coverage(ctx context.Context, q models.TimelineQuery) (bool, error) {
	set, err := s.scopeCoverage(ctx, q)
	if err != nil {
		return false, err
	}
	return set.Covers(spans.Span{Start: q.StartTime, End: q.EndTime}), nil
}

func (s *sqlStore) CoverageOverlaps(ctx context.Context, q models.TimelineQuery) (bool, error) {
	set, err := s.scopeCoverage(ctx, q)
	if err != nil {
		return false, err
	}
	return set.Overlaps(spans.Span{Start: q.StartTime, End: q.EndTime}), nil
}

func (s *sqlStore) scopeCoverage(ctx context.Context, q models.TimelineQuery) (*spans.Set, error) {
	query := `SELECT entity_id, start_ts, end_ts FROM timeline_coverage WHERE entity_type = ?`
	args := []any{string(q.EntityType)}
	if q.EntityID != "" {
		// Entity-scoped queries are also satisfied by type-wide coverage.
		query += ` AND entity_id IN (?, '')`
		args = append(args, q.EntityID)
	} else {
		query += ` AND entity_id = ''`
	}
	var rows []coverageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("coverage", err)
	}
	set := &spans.Set{}
	for _, r := range rows {
		set.Add(spans.Span{Start: r.StartTS, End: r.EndTS})
	}
	return set, nil
}

func (s *sqlStore) AddCoverage(ctx context.Context, entityType models.EntityType, entityID string, span spans.Span) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("add coverage", err)
	}
	if err := s.rewriteCoverage(ctx, tx, entityType, entityID, func(set *spans.Set) {
		set.Add(span)
	}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("add coverage", err)
	}
	return nil
}

func (s *sqlStore) TruncateCoverage(ctx context.Context, q models.TimelineQuery) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("truncate coverage", err)
	}
	// Removing an entity's range also breaks type-wide coverage for that
	// range; removing a type-wide range breaks every entity of the type.
	query := `SELECT DISTINCT entity_id FROM timeline_coverage WHERE entity_type = ?`
	args := []any{string(q.EntityType)}
	if q.EntityID != "" {
		query += ` AND entity_id IN (?, '')`
		args = append(args, q.EntityID)
	}
	var ids []string
	if err := tx.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		_ = tx.Rollback()
		return unavailable("truncate coverage", err)
	}
	for _, id := range ids {
		if err := s.rewriteCoverage(ctx, tx, q.EntityType, id, func(set *spans.Set) {
			set.Subtract(spans.Span{Start: q.StartTime, End: q.EndTime})
		}); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("truncate coverage", err)
	}
	return nil
}

// rewriteCoverage loads a scope's spans, applies mutate, and writes the
// normalized result back, keeping the row count bounded.
func (s *sqlStore) rewriteCoverage(ctx context.Context, tx *sqlx.Tx, entityType models.EntityType, entityID string, mutate func(*spans.Set)) error {
	var rows []coverageRow
	query := s.db.Rebind(`SELECT entity_id, start_ts, end_ts FROM timeline_coverage WHERE entity_type = ? AND entity_id = ?`)
	if err := tx.SelectContext(ctx, &rows, query, string(entityType), entityID); err != nil {
		return unavailable("coverage rewrite", err)
	}
	set := &spans.Set{}
	for _, r := range rows {
		set.Add(spans.Span{Start: r.StartTS, End: r.EndTS})
	}
	mutate(set)
	del := s.db.Rebind(`DELETE FROM timeline_coverage WHERE entity_type = ? AND entity_id = ?`)
	if _, err := tx.ExecContext(ctx, del, string(entityType), entityID); err != nil {
		return unavailable("coverage rewrite", err)
	}
	ins := s.db.Rebind(`INSERT INTO timeline_coverage (entity_type, entity_id, start_ts, end_ts) VALUES (?, ?, ?, ?)`)
	for _, sp := range set.Spans() {
		if _, err := tx.ExecContext(ctx, ins, string(entityType), entityID, sp.Start, sp.End); err != nil {
			return unavailable("coverage rewrite", err)
		}
	}
	return nil
}

func (s *sqlStore) SweepBefore(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM timeline_points WHERE ts < ?`), cutoff)
	if err != nil {
		return 0, unavailable("sweep", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM timeline_coverage WHERE end_ts <= ?`), cutoff); err != nil {
		return int(n), unavailable("sweep", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE timeline_coverage SET start_ts = ? WHERE start_ts < ?`), cutoff, cutoff); err != nil {
		return int(n), unavailable("sweep", err)
	}
	return int(n), nil
}

func (s *sqlStore) Estimate(ctx context.Context) (Estimate, error) {
	var est struct {
		Entries   int   `db:"entries"`
		SizeBytes int64 `db:"size_bytes"`
	}
	query := `SELECT COUNT(*) AS entries,
		COALESCE(SUM(LENGTH(payload) + LENGTH(entity_id) + LENGTH(entity_type) + 8), 0) AS size_bytes
		FROM timeline_points`
	if err := s.db.GetContext(ctx, &est, query); err != nil {
		return Estimate{}, unavailable("estimate", err)
	}
	return Estimate{Entries: est.Entries, SizeBytes: est.SizeBytes}, nil
}

func (s *sqlStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timeline_points`); err != nil {
		return unavailable("clear", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timeline_coverage`); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
