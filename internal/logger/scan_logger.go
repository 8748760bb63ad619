package logger

import (
	"github.com/sirupsen/logrus"
	"github.com/yourusername/edge-scanner/internal/models"
)

// ScanLogger provides dedicated logging for scan cycles and extractor failures.
type ScanLogger struct {
	*logrus.Entry
}

// NewScanLogger creates a new scan logger.
func NewScanLogger(baseLogger *logrus.Logger) *ScanLogger {
	return &ScanLogger{
		Entry: baseLogger.WithField("component", "scanner"),
	}
}

// ReportExtractorFailure records an extractor that failed or panicked during a scan.
func (sl *ScanLogger) ReportExtractorFailure(strategy models.OpportunityType, err error) {
	sl.WithFields(logrus.Fields{
		"strategy":   strategy,
		"event_type": "extractor_failure",
	}).WithError(err).Error("Extractor failed, treating as zero opportunities")
}

// LogScanCompleted logs the summary of a finished scan cycle.
func (sl *ScanLogger) LogScanCompleted(result *models.ScanResult) {
	sl.WithFields(logrus.Fields{
		"scan_id":            result.ID.String(),
		"strategies":         result.Strategies,
		"opportunities":      len(result.Opportunities),
		"portfolio_size":     len(result.Portfolio.Opportunities),
		"scan_duration_ms":   result.ScanDurationMs,
		"extractor_failures": result.Health.ExtractorFailures,
		"providers_down":     result.Health.ProvidersDown,
	}).Info("Scan cycle completed")
}

// LogPortfolioSelected logs the aggregate properties of a selected portfolio.
func (sl *ScanLogger) LogPortfolioSelected(p *models.PortfolioOptimization) {
	sl.WithFields(logrus.Fields{
		"positions":             len(p.Opportunities),
		"total_expected_value":  p.TotalExpectedValue,
		"total_kelly_fraction":  p.TotalKellyFraction,
		"risk_score":            p.RiskScore,
		"diversification_score": p.DiversificationScore,
		"max_single_bet":        p.Constraints.MaxSingleBet,
	}).Debug("Portfolio selected")
}

// LogOverlapSkipped logs a trigger dropped because a scan was already running.
func (sl *ScanLogger) LogOverlapSkipped(trigger string) {
	sl.WithFields(logrus.Fields{
		"trigger":    trigger,
		"event_type": "overlap_skipped",
	}).Warn("Scan already in progress, trigger ignored")
}

// LogStateChange logs a scanner state transition.
func (sl *ScanLogger) LogStateChange(from, to string) {
	sl.WithFields(logrus.Fields{
		"old_state": from,
		"new_state": to,
	}).Debug("Scanner state changed")
}
