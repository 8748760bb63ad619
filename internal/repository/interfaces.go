package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/edge-scanner/internal/models"
)

// ScanRepository defines the interface for scan history access
type ScanRepository interface {
	Save(ctx context.Context, result *models.ScanResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScanResult, error)
	Latest(ctx context.Context) (*models.ScanResult, error)
	List(ctx context.Context, limit int) ([]models.ScanSummary, error)
	Sightings(ctx context.Context, opportunityID string, limit int) ([]models.OpportunitySighting, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}
