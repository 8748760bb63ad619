package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/api"
	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/database"
	"github.com/yourusername/edge-scanner/internal/datasource"
	"github.com/yourusername/edge-scanner/internal/extractor"
	"github.com/yourusername/edge-scanner/internal/health"
	"github.com/yourusername/edge-scanner/internal/metrics"
	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/portfolio"
	"github.com/yourusername/edge-scanner/internal/publisher"
	"github.com/yourusername/edge-scanner/internal/repository"
	"github.com/yourusername/edge-scanner/internal/risk"
	"github.com/yourusername/edge-scanner/internal/scanner"
	"github.com/yourusername/edge-scanner/internal/store"
	"github.com/yourusername/edge-scanner/internal/stream"
)

// app holds the wired components of one process
type app struct {
	registry *datasource.Registry
	store    *store.Store
	scanner  *scanner.Scanner
	hub      *stream.Hub
	api      *api.Server
	health   *health.Server

	db     *database.DB
	redis  *redis.Client
	model  *health.GRPCChecker
	logger *logrus.Logger
}

// newApp builds every component from configuration. Servers and the stream
// hub are only built for the long-running mode.
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, serve bool) (*app, error) {
	a := &app{logger: logger}
	metrics.InitRegistry()

	factory := datasource.NewFactory(cfg, logger)
	registry, err := factory.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create data sources: %w", err)
	}
	a.registry = registry

	extractors, err := extractor.New(registry, cfg, extractor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create extractors: %w", err)
	}

	a.store = store.New(logger)
	optimizer := portfolio.NewOptimizer(cfg.Portfolio, len(cfg.Scanner.Sports), registry.EnabledCount(), logger)

	var sinks []scanner.Sink
	var history api.ScanHistory

	if cfg.Database.Enabled {
		db, err := database.Initialize(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db

		repos, err := repository.NewRepositories(db, cfg.Database.Retention, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, repos.Scan)
		history = repos.Scan
		logger.Info("Scan history enabled")
	}

	if cfg.Redis.Enabled {
		client, err := publisher.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		sinks = append(sinks, publisher.NewStreamPublisher(client, cfg.Redis, logger))
		logger.WithField("address", cfg.Redis.Address).Info("Redis stream publishing enabled")
	}

	if serve {
		a.hub = stream.NewHub(cfg.Server.AllowedOrigins, func() (*models.ScanResult, bool) {
			return a.scanner.Latest()
		}, logger)
		sinks = append(sinks, a.hub)
	}

	sc, err := scanner.New(scanner.Options{
		Extractors:    extractors,
		Calculator:    risk.NewCalculator(logger),
		Store:         a.store,
		Optimizer:     optimizer,
		Providers:     registry,
		Sinks:         sinks,
		Sports:        cfg.Scanner.Sports,
		OverlapPolicy: cfg.Scanner.OverlapPolicy,
		SinkTimeout:   cfg.Scanner.SinkTimeout,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	a.scanner = sc

	if !serve {
		return a, nil
	}

	if cfg.ModelService.GRPCAddress != "" {
		checker, err := health.NewGRPCChecker(cfg.ModelService)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.model = checker
	}

	healthCfg := health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Commit:      GitCommit,
		Port:        strconv.Itoa(cfg.Server.HealthPort),
		Logger:      logger,
		Providers:   registry,
		State:       func() string { return string(sc.State()) },
	}
	if a.db != nil {
		healthCfg.DB = a.db
	}
	if a.model != nil {
		healthCfg.Model = a.model
	}
	a.health = health.NewServer(healthCfg)

	apiCfg := api.Config{
		Port:           cfg.Server.APIPort,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsPath:    cfg.Metrics.Path,
		Scanner:        sc,
		Store:          a.store,
		Optimizer:      optimizer,
		Providers:      registry,
		History:        history,
		Stream:         a.hub,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		apiCfg.Metrics = metrics.Handler()
	}
	a.api, err = api.NewServer(apiCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases connections held by the app
func (a *app) Close() {
	if a.model != nil {
		if err := a.model.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close model service connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close provider clients")
		}
	}
}
