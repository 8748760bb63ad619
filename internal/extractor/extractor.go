// Package extractor turns raw provider payloads into candidate opportunities.
// The Find/Scan functions are pure; the Extractor implementations fetch the
// payloads they need through the provider registry and then call them.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/datasource"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/metrics"
	"github.com/yourusername/edge-scanner/internal/models"
)

// maxConcurrentFetches bounds in-flight provider calls per extractor
const maxConcurrentFetches = 4

var (
	// ErrNoSource is returned when no enabled provider serves a required resource kind
	ErrNoSource = errors.New("no enabled provider for resource kind")
	// ErrNoData is returned when every fetch for a required resource kind failed
	ErrNoData = errors.New("no provider data available")
)

// Request describes one extraction pass
type Request struct {
	Sports []string
}

// Extractor produces candidate opportunities for one strategy
type Extractor interface {
	// Strategy returns the opportunity type this extractor emits
	Strategy() models.OpportunityType

	// Extract fetches provider data and returns unsized candidates
	Extract(ctx context.Context, req Request) ([]models.Opportunity, error)
}

// Sources looks up providers by resource kind; *datasource.Registry satisfies it
type Sources interface {
	ByKind(kind datasource.ResourceKind) []datasource.DataSource
}

// Option configures an extractor
type Option func(*base)

// WithClock overrides the time source stamped on opportunities
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		b.now = now
	}
}

// WithLogger sets the extractor logger
func WithLogger(logger *logrus.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// base holds what every extractor shares
type base struct {
	sources Sources
	now     func() time.Time
	logger  *logrus.Logger
}

func newBase(sources Sources, opts []Option) base {
	b := base{sources: sources, now: time.Now, logger: applog.Discard()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// fetched is one provider response for one sport
type fetched struct {
	source string
	sport  string
	result datasource.FetchResult
}

// fetchAll fetches kind for every (provider, sport) pair with bounded concurrency.
// Results keep request order; failures are dropped. Returns ErrNoData when nothing succeeded.
func (b *base) fetchAll(ctx context.Context, kind datasource.ResourceKind, providers []datasource.DataSource, sports []string, extra datasource.Params) ([]fetched, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, kind)
	}

	type job struct {
		provider datasource.DataSource
		sport    string
	}
	var jobs []job
	for _, p := range providers {
		for _, s := range sports {
			jobs = append(jobs, job{provider: p, sport: s})
		}
	}

	results := make([]fetched, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, j := range jobs {
		g.Go(func() error {
			params := datasource.Params{"sport": j.sport}
			for k, v := range extra {
				params[k] = v
			}
			results[i] = fetched{
				source: j.provider.Name(),
				sport:  j.sport,
				result: j.provider.Fetch(gctx, kind, params),
			}
			return nil
		})
	}
	_ = g.Wait()

	ok := results[:0]
	for _, r := range results {
		if r.result.Success {
			ok = append(ok, r)
			continue
		}
		b.logger.WithFields(logrus.Fields{
			"provider":   r.source,
			"kind":       kind,
			"sport":      r.sport,
			"error_code": r.result.ErrorCode,
		}).Debug("Provider fetch yielded no data")
	}
	if len(jobs) > 0 && len(ok) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, kind)
	}
	return ok, nil
}

func (b *base) record(strategy models.OpportunityType, opps []models.Opportunity, started time.Time) {
	metrics.RecordOpportunitiesExtracted(string(strategy), len(opps))
	b.logger.WithFields(logrus.Fields{
		"strategy":    strategy,
		"candidates":  len(opps),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("Extraction completed")
}

// ArbitrageExtractor scans odds from every odds provider for cross-book arbitrage
type ArbitrageExtractor struct {
	base
	cfg config.ArbitrageConfig
}

// NewArbitrageExtractor creates an arbitrage extractor
func NewArbitrageExtractor(sources Sources, cfg config.ArbitrageConfig, opts ...Option) *ArbitrageExtractor {
	return &ArbitrageExtractor{base: newBase(sources, opts), cfg: cfg}
}

// Strategy returns OpportunityTypeArbitrage
func (e *ArbitrageExtractor) Strategy() models.OpportunityType {
	return models.OpportunityTypeArbitrage
}

// Extract fetches odds per sport and runs FindArbitrage for each sport
func (e *ArbitrageExtractor) Extract(ctx context.Context, req Request) ([]models.Opportunity, error) {
	started := time.Now()
	results, err := e.fetchAll(ctx, datasource.KindOdds, e.sources.ByKind(datasource.KindOdds), req.Sports, nil)
	if err != nil {
		return nil, err
	}

	bySport := make(map[string][]SourcedOdds)
	for _, r := range results {
		bySport[r.sport] = append(bySport[r.sport], SourcedOdds{
			Source: r.source,
			Sport:  r.sport,
			Events: DecodeOdds(r.result.Data),
		})
	}

	now := e.now()
	var out []models.Opportunity
	for _, sport := range req.Sports {
		out = append(out, FindArbitrage(bySport[sport], e.cfg, now)...)
	}
	e.record(e.Strategy(), out, started)
	return out, nil
}

// ValueBetExtractor compares stats-feed projections against each odds provider's prices
type ValueBetExtractor struct {
	base
	cfg config.ValueBetConfig
}

// NewValueBetExtractor creates a value-bet extractor
func NewValueBetExtractor(sources Sources, cfg config.ValueBetConfig, opts ...Option) *ValueBetExtractor {
	return &ValueBetExtractor{base: newBase(sources, opts), cfg: cfg}
}

// Strategy returns OpportunityTypeValueBet
func (e *ValueBetExtractor) Strategy() models.OpportunityType {
	return models.OpportunityTypeValueBet
}

// Extract fetches projections and odds per sport and runs FindValueBets per odds provider
func (e *ValueBetExtractor) Extract(ctx context.Context, req Request) ([]models.Opportunity, error) {
	started := time.Now()
	stats, err := e.fetchAll(ctx, datasource.KindStats, e.sources.ByKind(datasource.KindStats), req.Sports, datasource.Params{"type": "projections"})
	if err != nil {
		return nil, err
	}
	odds, err := e.fetchAll(ctx, datasource.KindOdds, e.sources.ByKind(datasource.KindOdds), req.Sports, nil)
	if err != nil {
		return nil, err
	}

	rows := make(map[string][]Projection)
	statSource := make(map[string]string)
	for _, r := range stats {
		rows[r.sport] = append(rows[r.sport], DecodeProjections(r.result.Data)...)
		if _, ok := statSource[r.sport]; !ok {
			statSource[r.sport] = r.source
		}
	}
	projections := make(map[string]ProjectionSet, len(rows))
	for sport, rs := range rows {
		projections[sport] = NewProjectionSet(statSource[sport], rs)
	}

	now := e.now()
	var out []models.Opportunity
	for _, r := range odds {
		book := SourcedOdds{Source: r.source, Sport: r.sport, Events: DecodeOdds(r.result.Data)}
		out = append(out, FindValueBets(book, projections[r.sport], e.cfg, now)...)
	}
	e.record(e.Strategy(), out, started)
	return out, nil
}

// PropScanExtractor scans a batch of player props from a single props provider
type PropScanExtractor struct {
	base
	cfg config.PropScanConfig
}

// NewPropScanExtractor creates a prop-scan extractor
func NewPropScanExtractor(sources Sources, cfg config.PropScanConfig, opts ...Option) *PropScanExtractor {
	return &PropScanExtractor{base: newBase(sources, opts), cfg: cfg}
}

// Strategy returns OpportunityTypePropScan
func (e *PropScanExtractor) Strategy() models.OpportunityType {
	return models.OpportunityTypePropScan
}

// Extract fetches props from the first props provider and scans one batch across all sports
func (e *PropScanExtractor) Extract(ctx context.Context, req Request) ([]models.Opportunity, error) {
	started := time.Now()
	providers := e.sources.ByKind(datasource.KindProps)
	if len(providers) > 1 {
		providers = providers[:1]
	}
	results, err := e.fetchAll(ctx, datasource.KindProps, providers, req.Sports, nil)
	if err != nil {
		return nil, err
	}

	props := SourcedProps{Source: providers[0].Name()}
	for _, r := range results {
		for _, l := range DecodeProps(r.result.Data) {
			if l.SportKey == "" {
				l.SportKey = r.sport
			}
			props.Listings = append(props.Listings, l)
		}
	}

	out := ScanProps(props, e.cfg, e.now())
	e.record(e.Strategy(), out, started)
	return out, nil
}

// New builds the extractors for the configured strategies, in configuration order
func New(sources Sources, cfg *config.Config, opts ...Option) ([]Extractor, error) {
	out := make([]Extractor, 0, len(cfg.Scanner.Strategies))
	for _, name := range cfg.Scanner.Strategies {
		strategy, err := models.ParseOpportunityType(name)
		if err != nil {
			return nil, err
		}
		switch strategy {
		case models.OpportunityTypeArbitrage:
			out = append(out, NewArbitrageExtractor(sources, cfg.Extractors.Arbitrage, opts...))
		case models.OpportunityTypeValueBet:
			out = append(out, NewValueBetExtractor(sources, cfg.Extractors.ValueBet, opts...))
		case models.OpportunityTypePropScan:
			out = append(out, NewPropScanExtractor(sources, cfg.Extractors.PropScan, opts...))
		}
	}
	return out, nil
}
