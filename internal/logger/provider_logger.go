package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ProviderLogger provides dedicated logging for external data provider calls.
type ProviderLogger struct {
	*logrus.Entry
}

// NewProviderLogger creates a new provider logger.
func NewProviderLogger(baseLogger *logrus.Logger, provider string) *ProviderLogger {
	return &ProviderLogger{
		Entry: baseLogger.WithFields(logrus.Fields{
			"component": "datasource",
			"provider":  provider,
		}),
	}
}

// LogFetchFailure logs a provider call that resolved to the failure shape.
func (pl *ProviderLogger) LogFetchFailure(kind, code string, err error) {
	pl.WithFields(logrus.Fields{
		"kind":       kind,
		"error_code": code,
	}).WithError(err).Warn("Provider fetch failed")
}

// LogQuotaExhausted logs a call short-circuited by an exhausted quota.
func (pl *ProviderLogger) LogQuotaExhausted(kind string, resetAt time.Time) {
	pl.WithFields(logrus.Fields{
		"kind":     kind,
		"reset_at": resetAt.UTC().Format(time.RFC3339),
	}).Warn("Provider quota exhausted, skipping request")
}

// LogFetchCompleted logs a successful network round trip.
func (pl *ProviderLogger) LogFetchCompleted(kind string, status int, remaining int, duration time.Duration) {
	pl.WithFields(logrus.Fields{
		"kind":            kind,
		"status":          status,
		"quota_remaining": remaining,
		"duration_ms":     duration.Milliseconds(),
	}).Debug("Provider fetch completed")
}
