// Package api serves the read-only HTTP surface over the scanner: live
// opportunities, the current portfolio, scan history and manual triggers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/datasource"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/scanner"
)

// ScanRunner is the scan orchestrator as seen by the API
type ScanRunner interface {
	Scan(ctx context.Context, trigger string) (*models.ScanResult, error)
	Latest() (*models.ScanResult, bool)
	State() scanner.State
	Strategies() []models.OpportunityType
}

// OpportunityStore exposes the live opportunity set
type OpportunityStore interface {
	All() []models.Opportunity
	Get(id string) (models.Opportunity, bool)
}

// PortfolioOptimizer builds a portfolio from live opportunities
type PortfolioOptimizer interface {
	Optimize(opps []models.Opportunity) models.PortfolioOptimization
}

// ProviderReporter exposes provider health and quota
type ProviderReporter interface {
	Health() []datasource.ProviderHealth
	Usage() models.APIUsage
}

// ScanHistory is the persisted scan log
type ScanHistory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScanResult, error)
	List(ctx context.Context, limit int) ([]models.ScanSummary, error)
	Sightings(ctx context.Context, opportunityID string, limit int) ([]models.OpportunitySighting, error)
}

// Config wires the API server. History, Stream and Metrics are optional.
type Config struct {
	Port           int
	AllowedOrigins []string
	MetricsPath    string
	RequestTimeout time.Duration

	Scanner   ScanRunner
	Store     OpportunityStore
	Optimizer PortfolioOptimizer
	Providers ProviderReporter
	History   ScanHistory
	Stream    http.Handler
	Metrics   http.Handler
	Logger    *logrus.Logger
}

// Server is the API HTTP server
type Server struct {
	cfg    Config
	router chi.Router
	server *http.Server
	logger *logrus.Entry
}

// NewServer creates an API server and builds its routes
func NewServer(cfg Config) (*Server, error) {
	if cfg.Scanner == nil || cfg.Store == nil || cfg.Optimizer == nil {
		return nil, fmt.Errorf("api server requires scanner, store and optimizer")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.Discard()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.WithField("component", "api"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.cfg.Metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.cfg.Metrics)
	}
	if s.cfg.Stream != nil {
		r.Handle("/ws", s.cfg.Stream)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/status", s.handleStatus)

		r.Get("/opportunities", s.handleListOpportunities)
		r.Get("/opportunities/{id}", s.handleGetOpportunity)
		r.Get("/opportunities/{id}/history", s.handleOpportunityHistory)

		r.Get("/portfolio", s.handlePortfolio)

		r.Get("/scans", s.handleListScans)
		r.Post("/scans", s.handleTriggerScan)
		r.Get("/scans/latest", s.handleLatestScan)
		r.Get("/scans/{id}", s.handleGetScan)

		r.Get("/providers", s.handleProviders)
	})

	return r
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.server.Shutdown(ctx)
}

// requestLogger logs each request through logrus with the chi request id
func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(logrus.Fields{
				"request_id":  chimiddleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}
