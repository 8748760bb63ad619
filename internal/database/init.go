package database

import (
	"context"
	"fmt"

	"github.com/yourusername/edge-scanner/internal/config"
)

// schema creates the scan history tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_results (
		id                 UUID PRIMARY KEY,
		started_at         TIMESTAMPTZ NOT NULL,
		duration_ms        BIGINT NOT NULL,
		strategies         TEXT[] NOT NULL,
		opportunity_count  INTEGER NOT NULL,
		portfolio_count    INTEGER NOT NULL,
		total_ev           DOUBLE PRECISION NOT NULL,
		total_kelly        DOUBLE PRECISION NOT NULL,
		extractor_failures INTEGER NOT NULL,
		payload            JSONB NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_started_at ON scan_results (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS scan_opportunities (
		scan_id        UUID NOT NULL REFERENCES scan_results (id) ON DELETE CASCADE,
		opportunity_id TEXT NOT NULL,
		type           TEXT NOT NULL,
		category       TEXT NOT NULL,
		expected_value DOUBLE PRECISION NOT NULL,
		kelly_fraction DOUBLE PRECISION NOT NULL,
		confidence     DOUBLE PRECISION NOT NULL,
		risk_level     TEXT NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		in_portfolio   BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (scan_id, opportunity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_opportunities_id ON scan_opportunities (opportunity_id)`,
}

// Initialize opens the pool and ensures the schema exists
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates missing tables and indexes
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
