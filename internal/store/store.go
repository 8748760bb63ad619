// Package store keeps the live set of opportunities keyed by id with expiry-based eviction.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/metrics"
	"github.com/yourusername/edge-scanner/internal/models"
)

// MergeStats summarises a single merge pass
type MergeStats struct {
	Inserted int `json:"inserted"`
	Replaced int `json:"replaced"`
	Expired  int `json:"expired"`
	Rejected int `json:"rejected"`
	Live     int `json:"live"`
}

// Store is the time-bounded registry of live opportunities.
// Entries are replaced wholesale by id and never mutated in place.
type Store struct {
	mu     sync.RWMutex
	items  map[string]models.Opportunity
	now    func() time.Time
	logger *logrus.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty opportunity store
func New(logger *logrus.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = applog.Discard()
	}
	s := &Store{
		items:  make(map[string]models.Opportunity),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge inserts or overwrites each opportunity by id, then purges every expired
// entry. Both steps happen under one lock so readers never see a half-applied merge.
func (s *Store) Merge(opps []models.Opportunity) MergeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats MergeStats
	for _, o := range opps {
		if o.ID == "" {
			stats.Rejected++
			continue
		}
		if _, exists := s.items[o.ID]; exists {
			stats.Replaced++
		} else {
			stats.Inserted++
		}
		s.items[o.ID] = o.Clone()
	}

	stats.Expired = s.purgeLocked(s.now())
	stats.Live = len(s.items)

	metrics.UpdateLiveOpportunities(float64(stats.Live))
	s.logger.WithFields(logrus.Fields{
		"incoming": len(opps),
		"inserted": stats.Inserted,
		"replaced": stats.Replaced,
		"expired":  stats.Expired,
		"rejected": stats.Rejected,
		"live":     stats.Live,
	}).Debug("Opportunities merged")

	return stats
}

// All returns a snapshot of the live set, sorted by id. Expired entries are purged first.
func (s *Store) All() []models.Opportunity {
	s.mu.Lock()
	s.purgeLocked(s.now())
	out := make([]models.Opportunity, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, o.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of a live opportunity by id
func (s *Store) Get(id string) (models.Opportunity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.items[id]
	if !ok || !o.IsLive(s.now()) {
		return models.Opportunity{}, false
	}
	return o.Clone(), true
}

// Len returns the number of stored entries, including any not yet purged
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) purgeLocked(now time.Time) int {
	expired := 0
	for id, o := range s.items {
		if !o.IsLive(now) {
			delete(s.items, id)
			expired++
		}
	}
	return expired
}
