package datasource

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Provider quota headers, as sent by the-odds-api style providers
const (
	headerRequestsRemaining = "x-requests-remaining"
	headerRequestsReset     = "x-requests-reset"
)

// QuotaSnapshot is a point-in-time view of a provider quota
type QuotaSnapshot struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"` // -1 when unknown and unlimited
	ResetAt   time.Time `json:"resetAt"`
}

// Quota counts requests against a per-provider allowance that resets every window.
// Provider-reported remaining counts tighten the local estimate when present.
type Quota struct {
	mu       sync.Mutex
	limit    int // 0 means no local limit
	window   time.Duration
	used     int
	reported int // provider-reported remaining, -1 when unknown
	resetAt  time.Time
	now      func() time.Time
}

// NewQuota creates a quota of limit requests per window
func NewQuota(limit int, window time.Duration, now func() time.Time) *Quota {
	if now == nil {
		now = time.Now
	}
	q := &Quota{limit: limit, window: window, reported: -1, now: now}
	if window > 0 {
		q.resetAt = now().Add(window)
	}
	return q
}

// Acquire reserves one request. It returns false without reserving when the quota is exhausted.
func (q *Quota) Acquire() (bool, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked()
	if q.remainingLocked() == 0 {
		return false, q.resetAt
	}
	q.used++
	if q.reported > 0 {
		q.reported--
	}
	return true, q.resetAt
}

// Observe applies the provider's quota headers, if any
func (q *Quota) Observe(h http.Header) {
	remaining, err := strconv.Atoi(h.Get(headerRequestsRemaining))
	if err != nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if remaining < 0 {
		remaining = 0
	}
	q.reported = remaining
	if reset, err := strconv.ParseInt(h.Get(headerRequestsReset), 10, 64); err == nil && reset > 0 {
		q.resetAt = parseReset(reset, q.now())
	}
}

// Snapshot returns the current counters
func (q *Quota) Snapshot() QuotaSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked()
	return QuotaSnapshot{
		Limit:     q.limit,
		Used:      q.used,
		Remaining: q.remainingLocked(),
		ResetAt:   q.resetAt,
	}
}

func (q *Quota) rollLocked() {
	now := q.now()
	if q.resetAt.IsZero() || now.Before(q.resetAt) {
		return
	}
	q.used = 0
	q.reported = -1
	if q.window > 0 {
		q.resetAt = now.Add(q.window)
	} else {
		q.resetAt = time.Time{}
	}
}

func (q *Quota) remainingLocked() int {
	remaining := -1
	if q.limit > 0 {
		remaining = q.limit - q.used
		if remaining < 0 {
			remaining = 0
		}
	}
	if q.reported >= 0 && (remaining < 0 || q.reported < remaining) {
		remaining = q.reported
	}
	return remaining
}

// parseReset accepts either seconds-until-reset or a unix timestamp in seconds
func parseReset(v int64, now time.Time) time.Time {
	if v > 1_000_000_000 {
		return time.Unix(v, 0).UTC()
	}
	return now.Add(time.Duration(v) * time.Second)
}
