package datasource

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/yourusername/edge-scanner/internal/models"
)

// Registry owns every provider adapter and answers lookups by resource kind
type Registry struct {
	sources []DataSource
}

// NewRegistry creates a registry; sources are ordered by name
func NewRegistry(sources ...DataSource) *Registry {
	sorted := make([]DataSource, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	return &Registry{sources: sorted}
}

// ByKind returns the enabled providers serving a kind, ordered by name
func (r *Registry) ByKind(kind ResourceKind) []DataSource {
	var out []DataSource
	for _, s := range r.sources {
		if s.IsEnabled() && s.Supports(kind) {
			out = append(out, s)
		}
	}
	return out
}

// EnabledCount returns the number of enabled providers
func (r *Registry) EnabledCount() int {
	n := 0
	for _, s := range r.sources {
		if s.IsEnabled() {
			n++
		}
	}
	return n
}

// Usage reports quota consumption for every enabled provider.
// Providers without a known remaining count are omitted from QuotaRemaining.
func (r *Registry) Usage() models.APIUsage {
	usage := models.APIUsage{
		QuotaUsage:     make(map[string]int),
		QuotaRemaining: make(map[string]int),
	}
	for _, s := range r.sources {
		if !s.IsEnabled() {
			continue
		}
		snap := s.Quota()
		usage.QuotaUsage[s.Name()] = snap.Used
		if snap.Remaining >= 0 {
			usage.QuotaRemaining[s.Name()] = snap.Remaining
		}
	}
	return usage
}

// Health returns the health of every provider, ordered by name
func (r *Registry) Health() []ProviderHealth {
	out := make([]ProviderHealth, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Health())
	}
	return out
}

// Partition splits enabled providers into healthy and unhealthy names
func (r *Registry) Partition() (up, down []string) {
	up, down = []string{}, []string{}
	for _, h := range r.Health() {
		if !h.Enabled {
			continue
		}
		if h.Healthy {
			up = append(up, h.Name)
		} else {
			down = append(down, h.Name)
		}
	}
	return up, down
}

// Close releases the transports of every provider that holds one
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.sources {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
