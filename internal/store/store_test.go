package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/edge-scanner/internal/models"
)

var baseTime = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: baseTime}
	return New(nil, WithClock(clock.Now)), clock
}

func opportunity(id string, kelly float64, ttl time.Duration) models.Opportunity {
	return models.Opportunity{
		ID:            id,
		Type:          models.OpportunityTypePropScan,
		Sources:       []string{"props_feed"},
		Subject:       models.Subject{Name: "J. Tatum", Category: "basketball_nba", StatType: "points", Line: 27.5, Side: "over"},
		Odds:          1.91,
		Confidence:    0.62,
		KellyFraction: kelly,
		Analysis:      models.Analysis{Trends: []string{"last 5 avg 29.4"}},
		Metadata: models.Metadata{
			CreatedAt: baseTime.Add(-time.Minute),
			ExpiresAt: baseTime.Add(ttl),
		},
	}
}

func TestMergeInsertsAndReplaces(t *testing.T) {
	s, _ := newTestStore()

	stats := s.Merge([]models.Opportunity{
		opportunity("prop:a", 0.02, time.Hour),
		opportunity("prop:b", 0.03, time.Hour),
	})
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 0, stats.Replaced)
	assert.Equal(t, 2, stats.Live)

	stats = s.Merge([]models.Opportunity{opportunity("prop:a", 0.04, time.Hour)})
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Replaced)
	assert.Equal(t, 2, stats.Live)
}

func TestMergeIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	batch := []models.Opportunity{
		opportunity("prop:a", 0.02, time.Hour),
		opportunity("prop:b", 0.03, 2*time.Hour),
		opportunity("arb:c", 0.01, 30*time.Minute),
	}

	s.Merge(batch)
	first := s.All()
	s.Merge(batch)
	second := s.All()

	assert.Equal(t, first, second)
	assert.Len(t, second, 3)
}

func TestMergeSameIDKeepsLatest(t *testing.T) {
	s, _ := newTestStore()

	first := opportunity("value:odds_api:evt1:h2h:home", 0.02, time.Hour)
	second := opportunity("value:odds_api:evt1:h2h:home", 0.05, time.Hour)
	second.Odds = 2.2

	s.Merge([]models.Opportunity{first})
	s.Merge([]models.Opportunity{second})

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, 0.05, all[0].KellyFraction)
	assert.Equal(t, 2.2, all[0].Odds)
}

func TestMergeDropsExpired(t *testing.T) {
	s, clock := newTestStore()

	stats := s.Merge([]models.Opportunity{
		opportunity("prop:stale", 0.02, -time.Second),
		opportunity("prop:edge", 0.02, 0),
		opportunity("prop:fresh", 0.02, time.Minute),
	})
	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 1, stats.Live)

	ids := func() []string {
		var out []string
		for _, o := range s.All() {
			out = append(out, o.ID)
		}
		return out
	}
	assert.Equal(t, []string{"prop:fresh"}, ids())

	clock.Advance(2 * time.Minute)
	stats = s.Merge(nil)
	assert.Equal(t, 1, stats.Expired)
	assert.Empty(t, ids())
}

func TestAllPurgesLazily(t *testing.T) {
	s, clock := newTestStore()
	s.Merge([]models.Opportunity{opportunity("prop:a", 0.02, time.Minute)})
	require.Equal(t, 1, s.Len())

	clock.Advance(time.Minute)

	assert.Empty(t, s.All())
	assert.Equal(t, 0, s.Len())
}

func TestMergeRejectsMissingID(t *testing.T) {
	s, _ := newTestStore()

	stats := s.Merge([]models.Opportunity{opportunity("", 0.02, time.Hour)})

	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s, _ := newTestStore()
	in := opportunity("prop:a", 0.02, time.Hour)
	s.Merge([]models.Opportunity{in})

	in.Analysis.Trends[0] = "mutated by caller"
	out := s.All()
	out[0].Sources[0] = "mutated by reader"

	got, ok := s.Get("prop:a")
	require.True(t, ok)
	assert.Equal(t, "last 5 avg 29.4", got.Analysis.Trends[0])
	assert.Equal(t, "props_feed", got.Sources[0])
}

func TestGetHidesExpired(t *testing.T) {
	s, clock := newTestStore()
	s.Merge([]models.Opportunity{opportunity("prop:a", 0.02, time.Minute)})

	_, ok := s.Get("prop:a")
	assert.True(t, ok)

	clock.Advance(time.Hour)
	_, ok = s.Get("prop:a")
	assert.False(t, ok)
	_, ok = s.Get("prop:missing")
	assert.False(t, ok)
}

func TestConcurrentMergeAndRead(t *testing.T) {
	s, _ := newTestStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Merge([]models.Opportunity{opportunity("prop:a", 0.02, time.Hour), opportunity("prop:b", 0.03, time.Hour)})
		}()
		go func() {
			defer wg.Done()
			_ = s.All()
		}()
	}
	wg.Wait()

	assert.Len(t, s.All(), 2)
}
