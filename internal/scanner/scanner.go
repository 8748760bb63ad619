// Package scanner runs scan cycles: concurrent extraction, sizing, store merge,
// portfolio optimization and result delivery.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/extractor"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/metrics"
	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/portfolio"
	"github.com/yourusername/edge-scanner/internal/risk"
	"github.com/yourusername/edge-scanner/internal/store"
)

// State is the orchestrator lifecycle state
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateError    State = "error"
)

func (s State) gauge() float64 {
	switch s {
	case StateScanning:
		return 1
	case StateError:
		return 2
	default:
		return 0
	}
}

// Scan outcomes recorded in metrics
const (
	outcomeSuccess = "success"
	outcomePartial = "partial"
	outcomeFailed  = "failed"
)

var (
	// ErrScanInProgress is returned by Scan under the skip policy while another scan runs
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrExtractorPanic wraps a recovered extractor panic
	ErrExtractorPanic = errors.New("extractor panicked")
)

// ErrorReporter receives extractor failures caught at the orchestration boundary
type ErrorReporter interface {
	ReportExtractorFailure(strategy models.OpportunityType, err error)
}

// Sink receives every completed scan result
type Sink interface {
	Name() string
	Publish(ctx context.Context, result *models.ScanResult) error
}

// ProviderStatus reports provider quota and health; *datasource.Registry satisfies it
type ProviderStatus interface {
	Usage() models.APIUsage
	Partition() (up, down []string)
}

// Options wires the scanner's collaborators
type Options struct {
	Extractors    []extractor.Extractor
	Calculator    *risk.Calculator
	Store         *store.Store
	Optimizer     *portfolio.Optimizer
	Providers     ProviderStatus
	Reporter      ErrorReporter
	Sinks         []Sink
	Sports        []string
	OverlapPolicy string
	SinkTimeout   time.Duration
	Now           func() time.Time
	Logger        *logrus.Logger
}

// Scanner is the scan orchestrator. At most one scan runs at a time; the overlap
// policy decides whether a concurrent trigger is rejected or waits its turn.
type Scanner struct {
	extractors  []extractor.Extractor
	calculator  *risk.Calculator
	store       *store.Store
	optimizer   *portfolio.Optimizer
	providers   ProviderStatus
	reporter    ErrorReporter
	sinks       []Sink
	sports      []string
	queue       bool
	sinkTimeout time.Duration
	now         func() time.Time
	logger      *logrus.Logger
	scanLogger  *applog.ScanLogger

	scanMu sync.Mutex

	mu        sync.RWMutex
	state     State
	latest    *models.ScanResult
	listeners []func(from, to State)
}

// New creates a scanner
func New(opts Options) (*Scanner, error) {
	if len(opts.Extractors) == 0 {
		return nil, errors.New("scanner requires at least one extractor")
	}
	if opts.Store == nil || opts.Optimizer == nil {
		return nil, errors.New("scanner requires a store and an optimizer")
	}
	if opts.OverlapPolicy != "" && opts.OverlapPolicy != config.OverlapSkip && opts.OverlapPolicy != config.OverlapQueue {
		return nil, fmt.Errorf("unknown overlap policy %q", opts.OverlapPolicy)
	}

	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	calculator := opts.Calculator
	if calculator == nil {
		calculator = risk.NewCalculator(logger)
	}
	scanLogger := applog.NewScanLogger(logger)
	reporter := opts.Reporter
	if reporter == nil {
		reporter = scanLogger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sinkTimeout := opts.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}

	metrics.UpdateScannerState(StateIdle.gauge())

	return &Scanner{
		extractors:  opts.Extractors,
		calculator:  calculator,
		store:       opts.Store,
		optimizer:   opts.Optimizer,
		providers:   opts.Providers,
		reporter:    reporter,
		sinks:       opts.Sinks,
		sports:      opts.Sports,
		queue:       opts.OverlapPolicy == config.OverlapQueue,
		sinkTimeout: sinkTimeout,
		now:         now,
		logger:      logger,
		scanLogger:  scanLogger,
		state:       StateIdle,
	}, nil
}

// OnStateChange registers a hook called after every state transition
func (s *Scanner) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current state
func (s *Scanner) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Latest returns the most recent scan result, if any
func (s *Scanner) Latest() (*models.ScanResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, false
	}
	copied := *s.latest
	return &copied, true
}

// Strategies returns the strategies this scanner runs, in configuration order
func (s *Scanner) Strategies() []models.OpportunityType {
	out := make([]models.OpportunityType, len(s.extractors))
	for i, e := range s.extractors {
		out[i] = e.Strategy()
	}
	return out
}

// Scan runs one scan cycle. trigger labels the caller in logs ("schedule", "manual", "startup").
func (s *Scanner) Scan(ctx context.Context, trigger string) (*models.ScanResult, error) {
	if s.queue {
		s.scanMu.Lock()
	} else if !s.scanMu.TryLock() {
		metrics.RecordScanSkipped()
		s.scanLogger.LogOverlapSkipped(trigger)
		return nil, ErrScanInProgress
	}
	defer s.scanMu.Unlock()

	// A queued caller may have given up while waiting for the running scan
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := s.now()
	s.setState(StateScanning)

	extractions := s.extractAll(ctx)

	var candidates []models.Opportunity
	health := models.ScanHealth{ProvidersUp: []string{}, ProvidersDown: []string{}}
	for _, ex := range extractions {
		if ex.err != nil {
			health.ExtractorFailures++
			health.FailedStrategies = append(health.FailedStrategies, string(ex.strategy))
			metrics.RecordExtractorFailure(string(ex.strategy))
			s.reporter.ReportExtractorFailure(ex.strategy, ex.err)
			continue
		}
		candidates = append(candidates, s.size(ex.opps)...)
	}

	mergeStats := s.store.Merge(candidates)
	live := s.store.All()
	optimized := s.optimizer.Optimize(live)

	result := &models.ScanResult{
		ID:            uuid.New(),
		StartedAt:     started,
		Strategies:    s.Strategies(),
		Opportunities: live,
		Portfolio:     optimized,
		Health:        health,
		APIUsage:      models.APIUsage{QuotaUsage: map[string]int{}, QuotaRemaining: map[string]int{}},
	}
	if s.providers != nil {
		result.APIUsage = s.providers.Usage()
		result.Health.ProvidersUp, result.Health.ProvidersDown = s.providers.Partition()
	}

	duration := s.now().Sub(started)
	result.ScanDurationMs = duration.Milliseconds()

	outcome := outcomeSuccess
	switch {
	case health.ExtractorFailures == len(s.extractors):
		outcome = outcomeFailed
	case health.ExtractorFailures > 0:
		outcome = outcomePartial
	}
	metrics.RecordScan(outcome, duration.Seconds())
	metrics.UpdatePortfolio(len(optimized.Opportunities), optimized.TotalKellyFraction, optimized.RiskScore)

	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"trigger":    trigger,
		"candidates": len(candidates),
		"inserted":   mergeStats.Inserted,
		"replaced":   mergeStats.Replaced,
		"expired":    mergeStats.Expired,
	}).Debug("Scan merge applied")
	s.scanLogger.LogPortfolioSelected(&result.Portfolio)
	s.scanLogger.LogScanCompleted(result)

	s.publish(ctx, result)

	if outcome == outcomeFailed {
		s.setState(StateError)
	}
	s.setState(StateIdle)

	return result, nil
}

// extraction is the outcome of one extractor in one cycle
type extraction struct {
	strategy models.OpportunityType
	opps     []models.Opportunity
	err      error
}

// extractAll runs every extractor concurrently and returns only after all have finished
func (s *Scanner) extractAll(ctx context.Context) []extraction {
	req := extractor.Request{Sports: s.sports}
	results := make([]extraction, len(s.extractors))

	var g errgroup.Group
	for i, ex := range s.extractors {
		g.Go(func() error {
			results[i] = s.runExtractor(ctx, ex, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scanner) runExtractor(ctx context.Context, ex extractor.Extractor, req extractor.Request) (res extraction) {
	res.strategy = ex.Strategy()
	defer func() {
		if r := recover(); r != nil {
			res.opps = nil
			res.err = fmt.Errorf("%w: %v", ErrExtractorPanic, r)
		}
	}()
	res.opps, res.err = ex.Extract(ctx, req)
	if res.err != nil {
		res.opps = nil
	}
	return res
}

// size applies the risk calculator and drops candidates that break opportunity invariants
func (s *Scanner) size(opps []models.Opportunity) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(opps))
	for _, o := range s.calculator.ApplyAll(opps) {
		if err := o.Validate(risk.KellyCap); err != nil {
			s.logger.WithError(err).WithField("opportunity_id", o.ID).Warn("Dropping invalid opportunity")
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *Scanner) publish(ctx context.Context, result *models.ScanResult) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
		err := sink.Publish(sinkCtx, result)
		cancel()
		if err != nil {
			metrics.RecordSinkFailure(sink.Name())
			s.logger.WithFields(logrus.Fields{
				"sink":    sink.Name(),
				"scan_id": result.ID.String(),
			}).WithError(err).Warn("Failed to publish scan result")
		}
	}
}

func (s *Scanner) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	listeners := make([]func(from, to State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	metrics.UpdateScannerState(to.gauge())
	s.scanLogger.LogStateChange(string(from), string(to))
	for _, fn := range listeners {
		fn(from, to)
	}
}
