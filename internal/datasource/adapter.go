package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/metrics"
)

// maxBodyBytes bounds how much of a provider response is read
const maxBodyBytes = 16 << 20

// Adapter is the HTTP implementation of DataSource for one provider
type Adapter struct {
	name        string
	baseURL     string
	apiKey      string
	apiKeyParam string
	enabled     bool
	kinds       map[ResourceKind]bool
	paths       map[string]string
	ttls        config.KindDurations
	timeouts    config.KindDurations

	client *RateLimitedHTTPClient
	cache  *ResponseCache
	quota  *Quota
	now    func() time.Time
	log    *applog.ProviderLogger

	mu                  sync.Mutex
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	lastErrorCode       string
}

// AdapterOptions carries the shared collaborators of an Adapter
type AdapterOptions struct {
	Client   *RateLimitedHTTPClient
	Cache    *ResponseCache
	Quota    *Quota
	TTLs     config.KindDurations
	Timeouts config.KindDurations
	Now      func() time.Time
	Logger   *applog.ProviderLogger
}

// NewAdapter creates a provider adapter from its configuration
func NewAdapter(cfg config.ProviderConfig, opts AdapterOptions) *Adapter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = applog.NewProviderLogger(applog.Discard(), cfg.Name)
	}
	if opts.Quota == nil {
		opts.Quota = NewQuota(cfg.QuotaLimit, cfg.QuotaWindow, now)
	}
	if opts.Cache == nil {
		opts.Cache = NewResponseCache(0)
	}
	if opts.Client == nil {
		opts.Client = NewRateLimitedHTTPClient(DefaultHTTPClientConfig(), nil)
	}

	kinds := make(map[ResourceKind]bool, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds[ResourceKind(k)] = true
	}

	return &Adapter{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		apiKeyParam: cfg.APIKeyParam,
		enabled:     cfg.Enabled,
		kinds:       kinds,
		paths:       cfg.Paths,
		ttls:        opts.TTLs,
		timeouts:    opts.Timeouts,
		client:      opts.Client,
		cache:       opts.Cache,
		quota:       opts.Quota,
		now:         now,
		log:         opts.Logger,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string { return a.name }

// IsEnabled returns whether this provider is currently enabled
func (a *Adapter) IsEnabled() bool { return a.enabled }

// Supports reports whether the provider serves a resource kind
func (a *Adapter) Supports(kind ResourceKind) bool { return a.kinds[kind] }

// Close releases idle connections held by the provider's HTTP client
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Quota returns the provider quota counters
func (a *Adapter) Quota() QuotaSnapshot { return a.quota.Snapshot() }

// Fetch retrieves a resource from the cache or the provider. Every failure,
// including quota exhaustion and timeouts, resolves to Success=false.
func (a *Adapter) Fetch(ctx context.Context, kind ResourceKind, params Params) FetchResult {
	if !a.enabled {
		return a.fail(kind, NewDataSourceError(a.name, ErrCodeDisabled, "data source is disabled", nil))
	}
	if !a.Supports(kind) {
		return a.fail(kind, NewDataSourceError(a.name, ErrCodeUnsupportedKind, fmt.Sprintf("kind %q not served", kind), nil))
	}

	key := CacheKey(a.name, kind, params)
	if data, fetchedAt, ok := a.cache.Get(key); ok {
		metrics.RecordProviderRequest(a.name, string(kind), "hit")
		return FetchResult{
			Success:       true,
			Data:          data,
			Timestamp:     fetchedAt,
			Source:        a.name,
			Cached:        true,
			RateLimitInfo: a.rateLimitInfo(),
		}
	}

	ok, resetAt := a.quota.Acquire()
	if !ok {
		a.log.LogQuotaExhausted(string(kind), resetAt)
		metrics.RecordProviderRequest(a.name, string(kind), "quota")
		return a.failWith(kind, NewDataSourceError(a.name, ErrCodeQuotaExhausted, "quota exhausted", ErrQuotaExhausted), false)
	}

	if timeout := a.timeouts.For(string(kind)); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	data, status, err := a.do(ctx, kind, params)
	elapsed := time.Since(start)
	if err != nil {
		return a.fail(kind, err)
	}

	fetchedAt := a.now()
	a.cache.Set(key, data, fetchedAt, a.ttls.For(string(kind)))
	a.recordOutcome("")
	metrics.RecordProviderRequest(a.name, string(kind), "success")

	info := a.rateLimitInfo()
	remaining := -1
	if info != nil {
		remaining = info.Remaining
	}
	a.log.LogFetchCompleted(string(kind), status, remaining, elapsed)

	return FetchResult{
		Success:       true,
		Data:          data,
		Timestamp:     fetchedAt,
		Source:        a.name,
		RateLimitInfo: info,
	}
}

// Health returns recent call health for the provider
func (a *Adapter) Health() ProviderHealth {
	a.mu.Lock()
	defer a.mu.Unlock()

	circuitOpen := a.client.IsOpen()
	return ProviderHealth{
		Name:                a.name,
		Enabled:             a.enabled,
		Healthy:             a.enabled && !circuitOpen && a.consecutiveFailures == 0,
		CircuitOpen:         circuitOpen,
		ConsecutiveFailures: a.consecutiveFailures,
		LastSuccess:         a.lastSuccess,
		LastFailure:         a.lastFailure,
		LastErrorCode:       a.lastErrorCode,
	}
}

func (a *Adapter) do(ctx context.Context, kind ResourceKind, params Params) (json.RawMessage, int, error) {
	endpoint, err := a.buildURL(kind, params)
	if err != nil {
		return nil, 0, NewDataSourceError(a.name, ErrCodeInvalidData, "failed to build request url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, NewDataSourceError(a.name, ErrCodeNetworkError, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" && a.apiKeyParam == "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	start := time.Now()
	resp, err := a.client.Do(ctx, req)
	metrics.RecordProviderLatency(a.name, string(kind), time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, ErrCircuitOpen):
			return nil, 0, NewDataSourceError(a.name, ErrCodeCircuitOpen, "circuit breaker open", err)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, 0, NewDataSourceError(a.name, ErrCodeTimeout, "request timed out", err)
		default:
			return nil, 0, NewDataSourceError(a.name, ErrCodeNetworkError, "request failed", err)
		}
	}
	defer resp.Body.Close()

	a.quota.Observe(resp.Header)
	if snap := a.quota.Snapshot(); snap.Remaining >= 0 {
		metrics.UpdateQuotaRemaining(a.name, snap.Remaining)
	}

	if code := statusCode(resp.StatusCode); code != "" {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, NewDataSourceError(a.name, code, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, resp.StatusCode, NewDataSourceError(a.name, ErrCodeTimeout, "timed out reading body", err)
		}
		return nil, resp.StatusCode, NewDataSourceError(a.name, ErrCodeNetworkError, "failed to read body", err)
	}
	if !json.Valid(body) {
		return nil, resp.StatusCode, NewDataSourceError(a.name, ErrCodeInvalidData, "response is not valid JSON", nil)
	}

	return json.RawMessage(body), resp.StatusCode, nil
}

// buildURL expands {param} placeholders in the kind's path; remaining params become the query
func (a *Adapter) buildURL(kind ResourceKind, params Params) (string, error) {
	path, ok := a.paths[string(kind)]
	if !ok {
		path = "/" + string(kind)
	}

	query := url.Values{}
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
			continue
		}
		query.Set(k, v)
	}
	if strings.Contains(path, "{") {
		return "", fmt.Errorf("unresolved placeholder in path %q", path)
	}
	if a.apiKey != "" && a.apiKeyParam != "" {
		query.Set(a.apiKeyParam, a.apiKey)
	}

	u, err := url.Parse(a.baseURL + path)
	if err != nil {
		return "", err
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (a *Adapter) rateLimitInfo() *RateLimitInfo {
	snap := a.quota.Snapshot()
	if snap.Remaining < 0 {
		return nil
	}
	return &RateLimitInfo{Remaining: snap.Remaining, ResetTime: snap.ResetAt}
}

func (a *Adapter) fail(kind ResourceKind, err error) FetchResult {
	return a.failWith(kind, err, true)
}

func (a *Adapter) failWith(kind ResourceKind, err error, count bool) FetchResult {
	code := ErrCodeUnknown
	var dsErr DataSourceError
	if errors.As(err, &dsErr) {
		code = dsErr.Code
	}

	if count {
		a.log.LogFetchFailure(string(kind), code, err)
		metrics.RecordProviderRequest(a.name, string(kind), "failure")
	}
	a.recordOutcome(code)

	return FetchResult{
		Success:       false,
		Data:          nil,
		Timestamp:     a.now(),
		Source:        a.name,
		RateLimitInfo: a.rateLimitInfo(),
		ErrorCode:     code,
	}
}

func (a *Adapter) recordOutcome(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if code == "" {
		a.consecutiveFailures = 0
		a.lastSuccess = a.now()
		return
	}
	if code == ErrCodeDisabled || code == ErrCodeUnsupportedKind {
		return
	}
	a.consecutiveFailures++
	a.lastFailure = a.now()
	a.lastErrorCode = code
}

// statusCode maps a non-2xx HTTP status to an error code; 2xx maps to ""
func statusCode(status int) string {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeAuthenticationFailed
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimitExceeded
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeUnknown
	}
}
