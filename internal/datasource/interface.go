// Package datasource wraps external odds, stats, props and scores providers behind a
// uniform, cached, quota-aware fetch contract that never returns an error to its caller.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ResourceKind identifies the category of data requested from a provider
type ResourceKind string

const (
	KindOdds   ResourceKind = "odds"
	KindStats  ResourceKind = "stats"
	KindProps  ResourceKind = "props"
	KindScores ResourceKind = "scores"
)

// AllResourceKinds lists every kind a provider may serve
var AllResourceKinds = []ResourceKind{KindOdds, KindStats, KindProps, KindScores}

// ParseResourceKind converts a configured kind name into a ResourceKind
func ParseResourceKind(s string) (ResourceKind, error) {
	for _, k := range AllResourceKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Params are the request parameters for a fetch. Order never matters.
type Params map[string]string

// Normalize returns a canonical encoding of the params with keys sorted
func (p Params) Normalize() string {
	values := make(url.Values, len(p))
	for k, v := range p {
		values.Set(k, v)
	}
	return values.Encode()
}

// RateLimitInfo reports the provider quota state observed with a result
type RateLimitInfo struct {
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// FetchResult is the uniform outcome of a provider call. Failures carry
// Success=false and nil Data; they are never surfaced as Go errors.
type FetchResult struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Cached        bool            `json:"cached"`
	RateLimitInfo *RateLimitInfo  `json:"rateLimitInfo,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
}

// DataSource defines the contract every provider adapter satisfies
type DataSource interface {
	// Name returns the provider name used in ids, cache keys and usage reports
	Name() string

	// IsEnabled returns whether this provider is currently enabled
	IsEnabled() bool

	// Supports reports whether the provider serves a resource kind
	Supports(kind ResourceKind) bool

	// Fetch retrieves a resource; it never returns an error and never panics on provider failure
	Fetch(ctx context.Context, kind ResourceKind, params Params) FetchResult

	// Quota returns the current quota counters
	Quota() QuotaSnapshot

	// Health returns the provider's recent call health
	Health() ProviderHealth
}

// ProviderHealth summarises recent call outcomes for one provider
type ProviderHealth struct {
	Name                string    `json:"name"`
	Enabled             bool      `json:"enabled"`
	Healthy             bool      `json:"healthy"`
	CircuitOpen         bool      `json:"circuitOpen"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
	LastErrorCode       string    `json:"lastErrorCode,omitempty"`
}

// DataSourceError represents errors from data source operations
type DataSourceError struct {
	Source  string // Data source name
	Code    string // Error code (e.g., "rate_limit_exceeded")
	Message string // Error message
	Err     error  // Underlying error
}

func (e DataSourceError) Error() string {
	if e.Err != nil {
		return e.Source + ": " + e.Code + ": " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Source + ": " + e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e DataSourceError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrCodeQuotaExhausted       = "quota_exhausted"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeNotFound             = "not_found"
	ErrCodeInvalidData          = "invalid_data"
	ErrCodeNetworkError         = "network_error"
	ErrCodeTimeout              = "timeout"
	ErrCodeServerError          = "server_error"
	ErrCodeCircuitOpen          = "circuit_open"
	ErrCodeUnsupportedKind      = "unsupported_kind"
	ErrCodeDisabled             = "disabled"
	ErrCodeUnknown              = "unknown"
)

var (
	ErrQuotaExhausted = errors.New("quota exhausted")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrNoProviders    = errors.New("no enabled data providers configured")
)

// NewDataSourceError creates a new data source error
func NewDataSourceError(source, code, message string, err error) DataSourceError {
	return DataSourceError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
