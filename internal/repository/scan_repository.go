package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/database"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var _ ScanRepository = (*PostgresScanRepository)(nil)

// PostgresScanRepository implements ScanRepository for PostgreSQL. It also
// serves as a scan result sink so every completed scan is recorded.
type PostgresScanRepository struct {
	db        *database.DB
	retention time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

// NewPostgresScanRepository creates a new scan repository. A positive retention
// prunes scans older than that window whenever a new scan is saved.
func NewPostgresScanRepository(db *database.DB, retention time.Duration, logger *logrus.Logger) *PostgresScanRepository {
	if logger == nil {
		logger = applog.Discard()
	}
	return &PostgresScanRepository{db: db, retention: retention, now: time.Now, logger: logger}
}

// Name identifies the repository as a scan result sink
func (r *PostgresScanRepository) Name() string {
	return "postgres"
}

// Publish records the scan result
func (r *PostgresScanRepository) Publish(ctx context.Context, result *models.ScanResult) error {
	if err := r.Save(ctx, result); err != nil {
		return err
	}

	if r.retention > 0 {
		pruned, err := r.Prune(ctx, r.now().Add(-r.retention))
		if err != nil {
			return err
		}
		if pruned > 0 {
			r.logger.WithField("pruned", pruned).Debug("Pruned expired scan history")
		}
	}
	return nil
}

// Save inserts a scan and its opportunities in one transaction. Saving the
// same scan twice is a no-op.
func (r *PostgresScanRepository) Save(ctx context.Context, result *models.ScanResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}

	strategies := make([]string, len(result.Strategies))
	for i, s := range result.Strategies {
		strategies[i] = string(s)
	}

	selected := make(map[string]bool, len(result.Portfolio.Opportunities))
	for _, o := range result.Portfolio.Opportunities {
		selected[o.ID] = true
	}

	scanQuery := `
		INSERT INTO scan_results (id, started_at, duration_ms, strategies, opportunity_count, portfolio_count,
		                          total_ev, total_kelly, extractor_failures, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	oppQuery := `
		INSERT INTO scan_opportunities (scan_id, opportunity_id, type, category, expected_value, kelly_fraction,
		                                confidence, risk_level, expires_at, in_portfolio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (scan_id, opportunity_id) DO NOTHING
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, scanQuery,
			result.ID, result.StartedAt, result.ScanDurationMs, strategies,
			len(result.Opportunities), len(result.Portfolio.Opportunities),
			result.Portfolio.TotalExpectedValue, result.Portfolio.TotalKellyFraction,
			result.Health.ExtractorFailures, payload,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scan %s: %w", result.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		for _, o := range result.Opportunities {
			_, err := tx.Exec(ctx, oppQuery,
				result.ID, o.ID, string(o.Type), o.Subject.Category, o.ExpectedValue, o.KellyFraction,
				o.Confidence, string(o.RiskLevel), o.Metadata.ExpiresAt, selected[o.ID],
			)
			if err != nil {
				return fmt.Errorf("failed to insert opportunity %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// GetByID retrieves a full scan result
func (r *PostgresScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanResult, error) {
	query := `SELECT payload FROM scan_results WHERE id = $1`
	return r.scanPayload(r.db.Pool().QueryRow(ctx, query, id))
}

// Latest retrieves the most recent scan result
func (r *PostgresScanRepository) Latest(ctx context.Context) (*models.ScanResult, error) {
	query := `SELECT payload FROM scan_results ORDER BY started_at DESC LIMIT 1`
	return r.scanPayload(r.db.Pool().QueryRow(ctx, query))
}

func (r *PostgresScanRepository) scanPayload(row pgx.Row) (*models.ScanResult, error) {
	var payload []byte
	err := row.Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	result := &models.ScanResult{}
	if err := json.Unmarshal(payload, result); err != nil {
		return nil, fmt.Errorf("failed to decode scan payload: %w", err)
	}
	return result, nil
}

// List returns scan summaries, newest first
func (r *PostgresScanRepository) List(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	query := `
		SELECT id::text, started_at, duration_ms, strategies, opportunity_count, portfolio_count,
		       total_ev, total_kelly, extractor_failures
		FROM scan_results
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	summaries := []models.ScanSummary{}
	for rows.Next() {
		var (
			s  models.ScanSummary
			id string
		)
		if err := rows.Scan(
			&id, &s.StartedAt, &s.ScanDurationMs, &s.Strategies, &s.OpportunityCount, &s.PortfolioCount,
			&s.TotalExpectedValue, &s.TotalKellyFraction, &s.ExtractorFailures,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid scan id %q: %w", id, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scans: %w", err)
	}
	return summaries, nil
}

// Sightings returns the scans in which an opportunity was live, newest first
func (r *PostgresScanRepository) Sightings(ctx context.Context, opportunityID string, limit int) ([]models.OpportunitySighting, error) {
	query := `
		SELECT o.scan_id::text, s.started_at, o.expected_value, o.kelly_fraction, o.in_portfolio
		FROM scan_opportunities o
		JOIN scan_results s ON s.id = o.scan_id
		WHERE o.opportunity_id = $1
		ORDER BY s.started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, opportunityID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	sightings := []models.OpportunitySighting{}
	for rows.Next() {
		var (
			s  models.OpportunitySighting
			id string
		)
		if err := rows.Scan(&id, &s.StartedAt, &s.ExpectedValue, &s.KellyFraction, &s.InPortfolio); err != nil {
			return nil, fmt.Errorf("failed to scan sighting row: %w", err)
		}
		if s.ScanID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid scan id %q: %w", id, err)
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sightings: %w", err)
	}
	return sightings, nil
}

// Prune deletes scans started before the cutoff; their opportunities cascade
func (r *PostgresScanRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM scan_results WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
