package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/edge-scanner/internal/config"
)

func testHTTPConfig() HTTPClientConfig {
	cfg := DefaultHTTPClientConfig()
	cfg.MaxRetries = 0
	cfg.RateLimit = 0
	cfg.CircuitBreakerMax = 100
	return cfg
}

func testTTLs() config.KindDurations {
	return config.KindDurations{Odds: 5 * time.Minute, Stats: 15 * time.Minute, Props: 10 * time.Minute, Scores: 2 * time.Minute}
}

func newTestAdapter(baseURL string, mutate func(*config.ProviderConfig)) *Adapter {
	pc := config.ProviderConfig{
		Name:    "odds_api",
		Enabled: true,
		BaseURL: baseURL,
		Kinds:   []string{"odds", "scores"},
	}
	if mutate != nil {
		mutate(&pc)
	}
	return NewAdapter(pc, AdapterOptions{
		Client:   NewRateLimitedHTTPClient(testHTTPConfig(), nil),
		Cache:    NewResponseCache(time.Minute),
		TTLs:     testTTLs(),
		Timeouts: config.KindDurations{Odds: time.Second, Scores: time.Second},
	})
}

func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchCachesWithinTTL(t *testing.T) {
	srv, hits := countingServer(t, okJSON(`[{"id":"evt1"}]`))
	adapter := newTestAdapter(srv.URL, nil)
	ctx := context.Background()

	first := adapter.Fetch(ctx, KindOdds, Params{"sport": "basketball_nba", "regions": "us"})
	require.True(t, first.Success)
	assert.False(t, first.Cached)
	assert.Equal(t, "odds_api", first.Source)
	assert.JSONEq(t, `[{"id":"evt1"}]`, string(first.Data))

	second := adapter.Fetch(ctx, KindOdds, Params{"regions": "us", "sport": "basketball_nba"})
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, int32(1), hits.Load())

	third := adapter.Fetch(ctx, KindScores, Params{"sport": "basketball_nba", "regions": "us"})
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchFailureShapes(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode string
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, ErrCodeServerError},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }, ErrCodeAuthenticationFailed},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, ErrCodeRateLimitExceeded},
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, ErrCodeNotFound},
		{"bad request", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) }, ErrCodeUnknown},
		{"invalid json", okJSON(`{"odds": [`), ErrCodeInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := countingServer(t, tt.handler)
			adapter := newTestAdapter(srv.URL, nil)

			result := adapter.Fetch(context.Background(), KindOdds, Params{"sport": "nba"})

			assert.False(t, result.Success)
			assert.Nil(t, result.Data)
			assert.False(t, result.Cached)
			assert.Equal(t, tt.wantCode, result.ErrorCode)
			assert.False(t, adapter.Health().Healthy)
		})
	}
}

func TestFetchFailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		okJSON(`[]`)(w, r)
	})
	adapter := newTestAdapter(srv.URL, nil)

	assert.False(t, adapter.Fetch(context.Background(), KindOdds, nil).Success)
	fail.Store(false)
	result := adapter.Fetch(context.Background(), KindOdds, nil)

	assert.True(t, result.Success)
	assert.False(t, result.Cached)
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, adapter.Health().Healthy)
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := newTestAdapter(url, nil).Fetch(context.Background(), KindOdds, nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeNetworkError, result.ErrorCode)
}

func TestFetchTimeout(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	adapter := newTestAdapter(srv.URL, nil)
	adapter.timeouts = config.KindDurations{Odds: 50 * time.Millisecond}

	start := time.Now()
	result := adapter.Fetch(context.Background(), KindOdds, nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeTimeout, result.ErrorCode)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchQuotaExhaustedSkipsNetwork(t *testing.T) {
	srv, hits := countingServer(t, okJSON(`[]`))
	adapter := newTestAdapter(srv.URL, func(pc *config.ProviderConfig) {
		pc.QuotaLimit = 1
		pc.QuotaWindow = time.Hour
	})
	ctx := context.Background()

	require.True(t, adapter.Fetch(ctx, KindOdds, Params{"sport": "nba"}).Success)
	result := adapter.Fetch(ctx, KindOdds, Params{"sport": "nfl"})

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeQuotaExhausted, result.ErrorCode)
	require.NotNil(t, result.RateLimitInfo)
	assert.Equal(t, 0, result.RateLimitInfo.Remaining)
	assert.Equal(t, int32(1), hits.Load())

	cached := adapter.Fetch(ctx, KindOdds, Params{"sport": "nba"})
	assert.True(t, cached.Success)
	assert.True(t, cached.Cached)
}

func TestFetchHonorsProviderQuotaHeaders(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-requests-remaining", "0")
		w.Header().Set("x-requests-reset", "3600")
		okJSON(`[]`)(w, r)
	})
	adapter := newTestAdapter(srv.URL, nil)

	first := adapter.Fetch(context.Background(), KindOdds, Params{"sport": "nba"})
	require.True(t, first.Success)
	require.NotNil(t, first.RateLimitInfo)
	assert.Equal(t, 0, first.RateLimitInfo.Remaining)

	second := adapter.Fetch(context.Background(), KindOdds, Params{"sport": "nhl"})
	assert.Equal(t, ErrCodeQuotaExhausted, second.ErrorCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchBuildsURL(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotQuery, gotAuth string
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		okJSON(`[]`)(w, r)
	})

	adapter := newTestAdapter(srv.URL, func(pc *config.ProviderConfig) {
		pc.APIKey = "secret"
		pc.APIKeyParam = "apiKey"
		pc.Paths = map[string]string{"odds": "/v4/sports/{sport}/odds"}
	})
	require.True(t, adapter.Fetch(context.Background(), KindOdds, Params{"sport": "basketball_nba", "markets": "h2h"}).Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/v4/sports/basketball_nba/odds", gotPath)
	assert.Equal(t, "apiKey=secret&markets=h2h", gotQuery)
	assert.Empty(t, gotAuth)

	bearer := newTestAdapter(srv.URL, func(pc *config.ProviderConfig) { pc.APIKey = "token" })
	mu.Unlock()
	require.True(t, bearer.Fetch(context.Background(), KindScores, nil).Success)
	mu.Lock()
	assert.Equal(t, "/scores", gotPath)
	assert.Equal(t, "Bearer token", gotAuth)
}

func TestFetchUnresolvedPlaceholder(t *testing.T) {
	srv, hits := countingServer(t, okJSON(`[]`))
	adapter := newTestAdapter(srv.URL, func(pc *config.ProviderConfig) {
		pc.Paths = map[string]string{"odds": "/sports/{sport}/odds"}
	})

	result := adapter.Fetch(context.Background(), KindOdds, nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeInvalidData, result.ErrorCode)
	assert.Zero(t, hits.Load())
}

func TestFetchDisabledAndUnsupported(t *testing.T) {
	srv, hits := countingServer(t, okJSON(`[]`))

	disabled := newTestAdapter(srv.URL, func(pc *config.ProviderConfig) { pc.Enabled = false })
	assert.Equal(t, ErrCodeDisabled, disabled.Fetch(context.Background(), KindOdds, nil).ErrorCode)

	adapter := newTestAdapter(srv.URL, nil)
	assert.Equal(t, ErrCodeUnsupportedKind, adapter.Fetch(context.Background(), KindProps, nil).ErrorCode)
	assert.True(t, adapter.Health().Healthy)
	assert.Zero(t, hits.Load())
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		okJSON(`[]`)(w, r)
	})

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	httpCfg := testHTTPConfig()
	httpCfg.CircuitBreakerMax = 2
	httpCfg.CircuitCooldown = time.Minute
	client := NewRateLimitedHTTPClient(httpCfg, nil)
	client.now = func() time.Time { return now }

	adapter := NewAdapter(config.ProviderConfig{Name: "flaky", Enabled: true, BaseURL: srv.URL, Kinds: []string{"odds"}},
		AdapterOptions{Client: client, Cache: NewResponseCache(time.Minute)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Equal(t, ErrCodeServerError, adapter.Fetch(ctx, KindOdds, Params{"i": fmt.Sprint(i)}).ErrorCode)
	}
	assert.True(t, client.IsOpen())
	assert.True(t, adapter.Health().CircuitOpen)

	assert.Equal(t, ErrCodeCircuitOpen, adapter.Fetch(ctx, KindOdds, Params{"i": "2"}).ErrorCode)
	assert.Equal(t, int32(2), hits.Load())

	now = now.Add(2 * time.Minute)
	healthy.Store(true)
	result := adapter.Fetch(ctx, KindOdds, Params{"i": "3"})
	assert.True(t, result.Success)
	assert.False(t, client.IsOpen())
	assert.Equal(t, int32(3), hits.Load())
}

func TestParamsNormalize(t *testing.T) {
	a := Params{"sport": "nba", "regions": "us,uk", "markets": "h2h"}
	b := Params{"markets": "h2h", "sport": "nba", "regions": "us,uk"}

	assert.Equal(t, a.Normalize(), b.Normalize())
	assert.Equal(t, "markets=h2h&regions=us%2Cuk&sport=nba", a.Normalize())
	assert.Equal(t, "odds_api|odds|markets=h2h&regions=us%2Cuk&sport=nba", CacheKey("odds_api", KindOdds, a))
	assert.Equal(t, "", Params(nil).Normalize())
}

func TestParseResourceKind(t *testing.T) {
	kind, err := ParseResourceKind("props")
	require.NoError(t, err)
	assert.Equal(t, KindProps, kind)

	_, err = ParseResourceKind("weather")
	assert.Error(t, err)
}
