// Package metrics provides centralized Prometheus metrics registry for the scanner.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "scans_total",
		Help:      "Total number of scan cycles by outcome",
	}, []string{"outcome"})
	ScanTriggersSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "scan_triggers_skipped_total",
		Help:      "Total number of scan triggers ignored because a scan was in flight",
	})
	ExtractorFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "extractor_failures_total",
		Help:      "Total number of extractor failures by strategy",
	}, []string{"strategy"})
	OpportunitiesExtractedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "opportunities_extracted_total",
		Help:      "Total number of candidate opportunities produced by strategy",
	}, []string{"strategy"})
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "provider_requests_total",
		Help:      "Total number of provider fetches by provider, resource kind and outcome",
	}, []string{"provider", "kind", "outcome"})
	SinkFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edge_scanner",
		Name:      "sink_failures_total",
		Help:      "Total number of failed scan result deliveries by sink",
	}, []string{"sink"})
)

// Gauge metrics
var (
	LiveOpportunities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "live_opportunities",
		Help:      "Number of live opportunities held in the store",
	})
	PortfolioPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "portfolio_positions",
		Help:      "Number of opportunities selected in the latest portfolio",
	})
	PortfolioExposure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "portfolio_exposure",
		Help:      "Summed kelly fraction of the latest portfolio",
	})
	PortfolioRiskScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "portfolio_risk_score",
		Help:      "Aggregate risk score of the latest portfolio (lower is safer)",
	})
	ProviderQuotaRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "provider_quota_remaining",
		Help:      "Remaining request quota per provider",
	}, []string{"provider"})
	ResponseCacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "response_cache_hit_ratio",
		Help:      "Hit ratio of the provider response cache",
	})
	ScannerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "scanner_state",
		Help:      "Current scanner state (0=idle, 1=scanning, 2=error)",
	})
	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edge_scanner",
		Name:      "stream_clients",
		Help:      "Number of connected websocket clients",
	})
)

// Histogram metrics
var (
	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edge_scanner",
		Name:      "scan_duration_seconds",
		Help:      "Duration of full scan cycles in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edge_scanner",
		Name:      "provider_latency_seconds",
		Help:      "Latency of provider network requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "kind"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(ScansTotal)
		registry.MustRegister(ScanTriggersSkippedTotal)
		registry.MustRegister(ExtractorFailuresTotal)
		registry.MustRegister(OpportunitiesExtractedTotal)
		registry.MustRegister(ProviderRequestsTotal)
		registry.MustRegister(SinkFailuresTotal)

		registry.MustRegister(LiveOpportunities)
		registry.MustRegister(PortfolioPositions)
		registry.MustRegister(PortfolioExposure)
		registry.MustRegister(PortfolioRiskScore)
		registry.MustRegister(ProviderQuotaRemaining)
		registry.MustRegister(ResponseCacheHitRatio)
		registry.MustRegister(ScannerState)
		registry.MustRegister(StreamClients)

		registry.MustRegister(ScanDuration)
		registry.MustRegister(ProviderLatency)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordScan records a completed scan cycle.
func RecordScan(outcome string, durationSeconds float64) {
	ScansTotal.WithLabelValues(outcome).Inc()
	ScanDuration.Observe(durationSeconds)
}

// RecordScanSkipped records a trigger dropped by the overlap policy.
func RecordScanSkipped() {
	ScanTriggersSkippedTotal.Inc()
}

// RecordExtractorFailure records a failed extractor run.
func RecordExtractorFailure(strategy string) {
	ExtractorFailuresTotal.WithLabelValues(strategy).Inc()
}

// RecordOpportunitiesExtracted records the candidate count produced by an extractor.
func RecordOpportunitiesExtracted(strategy string, count int) {
	OpportunitiesExtractedTotal.WithLabelValues(strategy).Add(float64(count))
}

// RecordProviderRequest records a provider fetch outcome (hit, success, failure, quota, timeout).
func RecordProviderRequest(provider, kind, outcome string) {
	ProviderRequestsTotal.WithLabelValues(provider, kind, outcome).Inc()
}

// RecordProviderLatency records a provider network round trip.
func RecordProviderLatency(provider, kind string, durationSeconds float64) {
	ProviderLatency.WithLabelValues(provider, kind).Observe(durationSeconds)
}

// RecordSinkFailure records a failed scan result delivery.
func RecordSinkFailure(sink string) {
	SinkFailuresTotal.WithLabelValues(sink).Inc()
}

// UpdateLiveOpportunities updates the live opportunity gauge.
func UpdateLiveOpportunities(count float64) {
	LiveOpportunities.Set(count)
}

// UpdatePortfolio updates the portfolio gauges.
func UpdatePortfolio(positions int, exposure, riskScore float64) {
	PortfolioPositions.Set(float64(positions))
	PortfolioExposure.Set(exposure)
	PortfolioRiskScore.Set(riskScore)
}

// UpdateQuotaRemaining updates the remaining quota gauge for a provider.
func UpdateQuotaRemaining(provider string, remaining int) {
	ProviderQuotaRemaining.WithLabelValues(provider).Set(float64(remaining))
}

// UpdateCacheHitRatio updates the response cache hit ratio gauge.
func UpdateCacheHitRatio(ratio float64) {
	ResponseCacheHitRatio.Set(ratio)
}

// UpdateScannerState updates the scanner state gauge.
func UpdateScannerState(state float64) {
	ScannerState.Set(state)
}

// UpdateStreamClients updates the websocket client gauge.
func UpdateStreamClients(count int) {
	StreamClients.Set(float64(count))
}
