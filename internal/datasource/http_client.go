package datasource

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"golang.org/x/time/rate"
)

// HTTPClientConfig holds configuration for HTTP clients
type HTTPClientConfig struct {
	MaxRetries        int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RateLimit         float64 // requests per second, 0 means unlimited
	Burst             int
	CircuitBreakerMax int           // consecutive failures before the circuit opens
	CircuitCooldown   time.Duration // how long the circuit stays open before a trial request
}

// DefaultHTTPClientConfig returns recommended defaults
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxRetries:        2,
		RetryWaitMin:      100 * time.Millisecond,
		RetryWaitMax:      2 * time.Second,
		RateLimit:         5.0,
		Burst:             1,
		CircuitBreakerMax: 5,
		CircuitCooldown:   30 * time.Second,
	}
}

// RateLimitedHTTPClient wraps retryablehttp.Client with rate limiting and a circuit breaker.
// Per-request deadlines come from the request context.
type RateLimitedHTTPClient struct {
	client            *retryablehttp.Client
	limiter           *rate.Limiter
	circuitBreakerMax int
	cooldown          time.Duration
	now               func() time.Time

	mu                sync.Mutex
	consecutiveErrors int
	openedAt          time.Time
	isOpen            bool
	lastError         error

	logger *logrus.Entry
}

// NewRateLimitedHTTPClient creates a new rate-limited HTTP client
func NewRateLimitedHTTPClient(cfg HTTPClientConfig, logger *logrus.Logger) *RateLimitedHTTPClient {
	if logger == nil {
		logger = applog.Discard()
	}
	entry := logger.WithField("component", "http_client")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = customRetryPolicy()
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = retryLogger{entry}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &RateLimitedHTTPClient{
		client:            retryClient,
		limiter:           rate.NewLimiter(limit, burst),
		circuitBreakerMax: cfg.CircuitBreakerMax,
		cooldown:          cfg.CircuitCooldown,
		now:               time.Now,
		logger:            entry,
	}
}

// Do executes an HTTP request with rate limiting and circuit breaker.
// Responses with status >= 500 count as failures for the breaker but are still returned.
func (c *RateLimitedHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap request: %w", err)
	}

	resp, err := c.client.Do(rreq.WithContext(ctx))
	switch {
	case err != nil:
		c.recordFailure(err)
		return nil, err
	case resp.StatusCode >= 500:
		c.recordFailure(fmt.Errorf("server returned status %d", resp.StatusCode))
	default:
		c.recordSuccess()
	}

	return resp, nil
}

// IsOpen reports whether the circuit breaker is currently rejecting requests
func (c *RateLimitedHTTPClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen && c.now().Sub(c.openedAt) < c.cooldown
}

// Close closes any resources held by the client
func (c *RateLimitedHTTPClient) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

// allow rejects while the circuit is open; after the cooldown one trial request goes through
func (c *RateLimitedHTTPClient) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return nil
	}
	if c.now().Sub(c.openedAt) >= c.cooldown {
		// half-open: the next failure re-opens immediately
		c.openedAt = c.now()
		c.consecutiveErrors = c.circuitBreakerMax - 1
		c.isOpen = false
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCircuitOpen, c.lastError)
}

func (c *RateLimitedHTTPClient) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveErrors++
	c.lastError = err
	if c.circuitBreakerMax > 0 && c.consecutiveErrors >= c.circuitBreakerMax && !c.isOpen {
		c.isOpen = true
		c.openedAt = c.now()
		c.logger.WithFields(logrus.Fields{
			"consecutive_errors": c.consecutiveErrors,
			"cooldown":           c.cooldown.String(),
		}).WithError(err).Warn("Circuit breaker opened")
	}
}

func (c *RateLimitedHTTPClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors = 0
	c.isOpen = false
}

// customRetryPolicy defines which HTTP responses should trigger a retry
func customRetryPolicy() retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true, nil
		default:
			return false, nil
		}
	}
}

// retryLogger adapts logrus to retryablehttp.LeveledLogger
type retryLogger struct {
	entry *logrus.Entry
}

func (l retryLogger) fields(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Error(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}
