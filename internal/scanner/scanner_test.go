package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/extractor"
	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/portfolio"
	"github.com/yourusername/edge-scanner/internal/store"
)

var scanNow = time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)

// stubExtractor returns canned opportunities, optionally failing, panicking or blocking
type stubExtractor struct {
	strategy models.OpportunityType
	opps     []models.Opportunity
	err      error
	panics   bool
	started  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
}

func (e *stubExtractor) Strategy() models.OpportunityType { return e.strategy }

func (e *stubExtractor) Extract(ctx context.Context, req extractor.Request) ([]models.Opportunity, error) {
	e.calls.Add(1)
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	if e.panics {
		panic("provider payload exploded")
	}
	return e.opps, e.err
}

// recordingReporter captures extractor failures
type recordingReporter struct {
	mu       sync.Mutex
	failures map[models.OpportunityType]error
}

func (r *recordingReporter) ReportExtractorFailure(strategy models.OpportunityType, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[models.OpportunityType]error)
	}
	r.failures[strategy] = err
}

// stubSink records published results or fails
type stubSink struct {
	name    string
	err     error
	mu      sync.Mutex
	results []*models.ScanResult
}

func (s *stubSink) Name() string { return s.name }
func (s *stubSink) Publish(ctx context.Context, result *models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

type stubProviders struct{}

func (stubProviders) Usage() models.APIUsage {
	return models.APIUsage{QuotaUsage: map[string]int{"odds_api": 3}, QuotaRemaining: map[string]int{"odds_api": 497}}
}
func (stubProviders) Partition() ([]string, []string) {
	return []string{"odds_api"}, []string{"props_feed"}
}

func candidate(id string, typ models.OpportunityType, confidence, odds float64) models.Opportunity {
	return models.Opportunity{
		ID:         id,
		Type:       typ,
		Sources:    []string{"odds_api"},
		Subject:    models.Subject{Name: id, Category: "basketball_nba"},
		Odds:       odds,
		Confidence: confidence,
		Metadata:   models.Metadata{CreatedAt: scanNow, ExpiresAt: scanNow.Add(30 * time.Minute)},
	}
}

func newTestScanner(t *testing.T, policy string, reporter ErrorReporter, sinks []Sink, extractors ...extractor.Extractor) (*Scanner, *store.Store) {
	t.Helper()
	clock := func() time.Time { return scanNow }
	st := store.New(nil, store.WithClock(clock))
	opt := portfolio.NewOptimizer(config.PortfolioConfig{
		MaxPositions:      10,
		MaxExposure:       0.25,
		MinConfidence:     0.6,
		ReferenceBankroll: 1000,
	}, 1, 1, nil)

	s, err := New(Options{
		Extractors:    extractors,
		Store:         st,
		Optimizer:     opt,
		Providers:     stubProviders{},
		Reporter:      reporter,
		Sinks:         sinks,
		Sports:        []string{"basketball_nba"},
		OverlapPolicy: policy,
		Now:           clock,
	})
	require.NoError(t, err)
	return s, st
}

func TestScanMergesAndOptimizes(t *testing.T) {
	arb := &stubExtractor{strategy: models.OpportunityTypeArbitrage, opps: []models.Opportunity{candidate("arb:1", models.OpportunityTypeArbitrage, 0.99, 1.03)}}
	value := &stubExtractor{strategy: models.OpportunityTypeValueBet, opps: []models.Opportunity{candidate("value:1", models.OpportunityTypeValueBet, 0.9, 2.0)}}
	sink := &stubSink{name: "memory"}

	s, st := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, []Sink{sink}, arb, value)
	result, err := s.Scan(context.Background(), "manual")
	require.NoError(t, err)

	assert.Len(t, result.Opportunities, 2)
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, []models.OpportunityType{models.OpportunityTypeArbitrage, models.OpportunityTypeValueBet}, result.Strategies)
	assert.Equal(t, 0, result.Health.ExtractorFailures)
	assert.Equal(t, []string{"props_feed"}, result.Health.ProvidersDown)
	assert.Equal(t, 497, result.APIUsage.QuotaRemaining["odds_api"])
	assert.NotEmpty(t, result.Portfolio.Opportunities)

	for _, o := range result.Opportunities {
		assert.LessOrEqual(t, o.KellyFraction, 0.10)
		if o.Type == models.OpportunityTypeArbitrage {
			assert.Equal(t, models.RiskLow, o.RiskLevel)
		}
	}

	require.Len(t, sink.results, 1)
	assert.Equal(t, result.ID, sink.results[0].ID)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, result.ID, latest.ID)
	assert.Equal(t, StateIdle, s.State())
}

func TestScanExtractorPanicIsContained(t *testing.T) {
	reporter := &recordingReporter{}
	panicking := &stubExtractor{strategy: models.OpportunityTypeArbitrage, panics: true}
	value := &stubExtractor{strategy: models.OpportunityTypeValueBet, opps: []models.Opportunity{candidate("value:1", models.OpportunityTypeValueBet, 0.9, 2.0)}}
	props := &stubExtractor{strategy: models.OpportunityTypePropScan, opps: []models.Opportunity{candidate("prop:1", models.OpportunityTypePropScan, 0.85, 1.9)}}

	s, _ := newTestScanner(t, config.OverlapSkip, reporter, nil, panicking, value, props)
	result, err := s.Scan(context.Background(), "manual")
	require.NoError(t, err)

	assert.Len(t, result.Opportunities, 2)
	assert.Equal(t, 1, result.Health.ExtractorFailures)
	assert.Equal(t, []string{"arbitrage"}, result.Health.FailedStrategies)
	require.Contains(t, reporter.failures, models.OpportunityTypeArbitrage)
	assert.ErrorIs(t, reporter.failures[models.OpportunityTypeArbitrage], ErrExtractorPanic)
	assert.Equal(t, StateIdle, s.State())
}

func TestScanAllExtractorsFailTransitionsThroughError(t *testing.T) {
	failing := &stubExtractor{strategy: models.OpportunityTypeArbitrage, err: errors.New("odds feed down")}
	panicking := &stubExtractor{strategy: models.OpportunityTypePropScan, panics: true}

	s, _ := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, nil, failing, panicking)

	var transitions []string
	s.OnStateChange(func(from, to State) {
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	result, err := s.Scan(context.Background(), "manual")
	require.NoError(t, err)
	assert.Empty(t, result.Opportunities)
	assert.Empty(t, result.Portfolio.Opportunities)
	assert.Equal(t, []string{"idle->scanning", "scanning->error", "error->idle"}, transitions)
}

func TestScanDropsInvalidCandidates(t *testing.T) {
	bad := candidate("", models.OpportunityTypeValueBet, 0.9, 2.0)
	expired := candidate("value:old", models.OpportunityTypeValueBet, 0.9, 2.0)
	expired.Metadata.ExpiresAt = scanNow.Add(-time.Minute)
	good := candidate("value:ok", models.OpportunityTypeValueBet, 0.9, 2.0)

	value := &stubExtractor{strategy: models.OpportunityTypeValueBet, opps: []models.Opportunity{bad, expired, good}}
	s, _ := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, nil, value)

	result, err := s.Scan(context.Background(), "manual")
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "value:ok", result.Opportunities[0].ID)
}

func TestScanMergesOnlyAfterAllExtractorsFinish(t *testing.T) {
	fast := &stubExtractor{strategy: models.OpportunityTypeValueBet, opps: []models.Opportunity{candidate("value:1", models.OpportunityTypeValueBet, 0.9, 2.0)}}
	slow := &stubExtractor{
		strategy: models.OpportunityTypePropScan,
		opps:     []models.Opportunity{candidate("prop:1", models.OpportunityTypePropScan, 0.85, 1.9)},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	s, st := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, nil, fast, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Scan(context.Background(), "manual")
	}()

	<-slow.started
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, StateScanning, s.State())

	close(slow.release)
	<-done
	assert.Equal(t, 2, st.Len())
}

func TestScanSkipPolicyRejectsOverlap(t *testing.T) {
	blocking := &stubExtractor{
		strategy: models.OpportunityTypeValueBet,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	s, _ := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, nil, blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Scan(context.Background(), "schedule")
	}()
	<-blocking.started

	result, err := s.Scan(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Nil(t, result)

	close(blocking.release)
	<-done
	assert.Equal(t, int32(1), blocking.calls.Load())
}

func TestScanQueuePolicyRunsAfterCurrent(t *testing.T) {
	blocking := &stubExtractor{
		strategy: models.OpportunityTypeValueBet,
		started:  make(chan struct{}, 2),
		release:  make(chan struct{}),
	}
	s, _ := newTestScanner(t, config.OverlapQueue, &recordingReporter{}, nil, blocking)

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = s.Scan(context.Background(), "schedule")
	}()
	<-blocking.started

	second := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background(), "manual")
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("queued scan must wait for the running scan")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), blocking.calls.Load())

	close(blocking.release)
	<-first
	require.NoError(t, <-second)
	assert.Equal(t, int32(2), blocking.calls.Load())
}

func TestScanQueuePolicyDropsCancelledWaiter(t *testing.T) {
	blocking := &stubExtractor{
		strategy: models.OpportunityTypeValueBet,
		started:  make(chan struct{}, 2),
		release:  make(chan struct{}),
	}
	s, _ := newTestScanner(t, config.OverlapQueue, &recordingReporter{}, nil, blocking)

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = s.Scan(context.Background(), "schedule")
	}()
	<-blocking.started

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		result *models.ScanResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := s.Scan(ctx, "manual")
		second <- outcome{result, err}
	}()

	cancel()
	close(blocking.release)
	<-first

	got := <-second
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.Nil(t, got.result)
	assert.Equal(t, int32(1), blocking.calls.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestScanSinkFailureIsNotFatal(t *testing.T) {
	value := &stubExtractor{strategy: models.OpportunityTypeValueBet, opps: []models.Opportunity{candidate("value:1", models.OpportunityTypeValueBet, 0.9, 2.0)}}
	broken := &stubSink{name: "redis", err: errors.New("connection refused")}
	healthy := &stubSink{name: "memory"}

	s, _ := newTestScanner(t, config.OverlapSkip, &recordingReporter{}, []Sink{broken, healthy}, value)
	_, err := s.Scan(context.Background(), "manual")
	require.NoError(t, err)
	assert.Len(t, broken.results, 1)
	assert.Len(t, healthy.results, 1)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	st := store.New(nil)
	opt := portfolio.NewOptimizer(config.PortfolioConfig{MaxPositions: 1, MaxExposure: 0.1}, 0, 0, nil)
	_, err = New(Options{
		Extractors:    []extractor.Extractor{&stubExtractor{strategy: models.OpportunityTypeValueBet}},
		Store:         st,
		Optimizer:     opt,
		OverlapPolicy: "drop",
	})
	assert.Error(t, err)

	s, err := New(Options{
		Extractors: []extractor.Extractor{&stubExtractor{strategy: models.OpportunityTypeValueBet}},
		Store:      st,
		Optimizer:  opt,
	})
	require.NoError(t, err)
	_, ok := s.Latest()
	assert.False(t, ok)
}
