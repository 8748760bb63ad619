// Package health serves liveness and readiness probes for the scanner process.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	applog "github.com/yourusername/edge-scanner/internal/logger"
)

const (
	defaultPort  = "8081"
	checkTimeout = 3 * time.Second

	statusOK       = "ok"
	statusNotReady = "not_ready"
)

// DatabasePinger checks scan history storage
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// ProviderHealth reports which enabled data providers are currently healthy
type ProviderHealth interface {
	Partition() (up, down []string)
}

// ServiceChecker checks a downstream service such as the projection model service
type ServiceChecker interface {
	Check(ctx context.Context) error
}

// HealthResponse is returned by /health and /live
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

// ReadyResponse is returned by /ready. Degraded lists dependencies that are
// failing without blocking readiness.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
	Degraded []string          `json:"degraded,omitempty"`
}

// Config wires the probe server to the components it reports on. Every
// dependency is optional; a nil dependency is simply not checked.
type Config struct {
	ServiceName string
	Version     string
	Commit      string
	Port        string
	Logger      *logrus.Logger
	DB          DatabasePinger
	Providers   ProviderHealth
	Model       ServiceChecker
	State       func() string
}

// Server exposes /health, /live and /ready
type Server struct {
	cfg    Config
	ready  atomic.Bool
	server *http.Server
	logger *logrus.Entry
}

// readiness accumulates the outcome of the individual checks
type readiness struct {
	checks   map[string]string
	degraded []string
	blocked  bool
}

func (r *readiness) pass(name, status string) {
	r.checks[name] = status
}

func (r *readiness) fail(name, status string) {
	r.checks[name] = status
	r.blocked = true
}

func (r *readiness) degrade(name, status string, what ...string) {
	r.checks[name] = status
	r.degraded = append(r.degraded, what...)
}

// NewServer creates a probe server. The port falls back to HEALTH_PORT, then 8081.
func NewServer(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = os.Getenv("HEALTH_PORT")
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.WithField("component", "health"),
	}
}

// SetReady flips the readiness gate; /ready fails until it is set
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports the readiness gate
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// Handler returns the probe routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/ready", s.handleReady)
	return mux
}

// Start serves the probes in the background and shuts down when ctx ends
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Health server starting")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("Health server shutdown failed")
		}
	}()

	return nil
}

// Shutdown stops the server, waiting up to five seconds for in-flight probes
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    statusOK,
		Service:   s.cfg.ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: statusOK, Service: s.cfg.ServiceName})
}

// handleReady fails on the readiness gate, a broken database or every provider
// being down. Scanner state, partial provider outages and the model service
// are reported without failing.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res := &readiness{checks: make(map[string]string)}

	if s.IsReady() {
		res.pass("service", statusOK)
	} else {
		res.fail("service", statusNotReady)
	}

	if s.cfg.DB != nil {
		if err := s.probe(r.Context(), s.cfg.DB.Ping); err != nil {
			res.fail("database", fmt.Sprintf("error: %v", err))
		} else {
			res.pass("database", statusOK)
		}
	}

	if s.cfg.State != nil {
		res.pass("scanner", s.cfg.State())
	}

	if s.cfg.Providers != nil {
		up, down := s.cfg.Providers.Partition()
		switch {
		case len(up) == 0 && len(down) > 0:
			res.fail("providers", "all_down")
		case len(down) > 0:
			res.degrade("providers", "degraded", down...)
		default:
			res.pass("providers", statusOK)
		}
	}

	if s.cfg.Model != nil {
		if err := s.probe(r.Context(), s.cfg.Model.Check); err != nil {
			res.degrade("model_service", fmt.Sprintf("error: %v", err), "model_service")
		} else {
			res.pass("model_service", statusOK)
		}
	}

	resp := ReadyResponse{
		Status:   statusOK,
		Service:  s.cfg.ServiceName,
		Checks:   res.checks,
		Duration: time.Since(start).String(),
		Degraded: res.degraded,
	}
	code := http.StatusOK
	if res.blocked {
		resp.Status = statusNotReady
		code = http.StatusServiceUnavailable
		s.logger.WithField("checks", res.checks).Debug("Readiness check failed")
	}
	writeJSON(w, code, resp)
}

func (s *Server) probe(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return check(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
