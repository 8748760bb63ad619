package datasource

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
)

// Factory creates provider adapters based on configuration
type Factory struct {
	config *config.Config
	cache  *ResponseCache
	logger *logrus.Logger
}

// NewFactory creates a new data source factory with a shared response cache
func NewFactory(cfg *config.Config, logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Factory{
		config: cfg,
		cache:  NewResponseCache(cfg.DataSource.CacheCleanup),
		logger: logger,
	}
}

// Cache returns the response cache shared by every adapter the factory builds
func (f *Factory) Cache() *ResponseCache {
	return f.cache
}

// NewDataSource creates an adapter for one provider with its own rate-limited client and quota
func (f *Factory) NewDataSource(pc config.ProviderConfig) (*Adapter, error) {
	if pc.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	for _, k := range pc.Kinds {
		if _, err := ParseResourceKind(k); err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
	}

	httpCfg := DefaultHTTPClientConfig()
	if pc.RequestsPerSecond > 0 {
		httpCfg.RateLimit = pc.RequestsPerSecond
	}
	if pc.Burst > 0 {
		httpCfg.Burst = pc.Burst
	}
	httpCfg.MaxRetries = pc.MaxRetries
	if f.config.DataSource.CircuitBreakerMax > 0 {
		httpCfg.CircuitBreakerMax = f.config.DataSource.CircuitBreakerMax
	}
	if f.config.DataSource.CircuitCooldown > 0 {
		httpCfg.CircuitCooldown = f.config.DataSource.CircuitCooldown
	}

	return NewAdapter(pc, AdapterOptions{
		Client:   NewRateLimitedHTTPClient(httpCfg, f.logger),
		Cache:    f.cache,
		TTLs:     f.config.DataSource.CacheTTL,
		Timeouts: f.config.DataSource.Timeouts,
		Logger:   applog.NewProviderLogger(f.logger, pc.Name),
	}), nil
}

// NewRegistry creates adapters for every configured provider. Disabled providers
// are registered so health reporting can list them, but they never serve fetches.
func (f *Factory) NewRegistry() (*Registry, error) {
	sources := make([]DataSource, 0, len(f.config.Providers))
	enabled := 0

	for _, pc := range f.config.Providers {
		adapter, err := f.NewDataSource(pc)
		if err != nil {
			return nil, fmt.Errorf("failed to create data source %s: %w", pc.Name, err)
		}
		sources = append(sources, adapter)

		if pc.Enabled {
			enabled++
			f.logger.WithFields(logrus.Fields{
				"provider": pc.Name,
				"kinds":    pc.Kinds,
			}).Info("Created data source")
		} else {
			f.logger.WithField("provider", pc.Name).Info("Skipping disabled data source")
		}
	}

	if enabled == 0 {
		return nil, ErrNoProviders
	}

	return NewRegistry(sources...), nil
}
