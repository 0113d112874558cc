package store

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore is the persistent tier backed by a PostgreSQL server, for
// deployments where the dashboard backend runs multi-instance and a local
// file store would fragment the cache.
type PostgresStore struct {
	sqlStore
}

// NewPostgres connects with the given DSN and applies the schema.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{sqlStore: sqlStore{
		db: db,
		insertSQL: `INSERT INTO timeline_points
			(entity_type, entity_id, ts, source_tier, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (entity_type, entity_id, ts) DO NOTHING`,
	}}, nil
}
