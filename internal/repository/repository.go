package repository

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Scan *PostgresScanRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB, retention time.Duration, logger *logrus.Logger) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Scan: NewPostgresScanRepository(db, retention, logger),
	}, nil
}
