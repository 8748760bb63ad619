package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/models"
)

var (
	testNow   = time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	testStart = time.Date(2026, 10, 20, 23, 30, 0, 0, time.UTC)
)

const lakersEvent = "boston_celtics-at-los_angeles_lakers-20261020"

func h2h(home, away float64) Market {
	return Market{Key: "h2h", Outcomes: []Outcome{
		{Name: "Los Angeles Lakers", Price: Price(home)},
		{Name: "Boston Celtics", Price: Price(away)},
	}}
}

func lakersGame(id string, start time.Time, markets ...Market) OddsEvent {
	return OddsEvent{
		ID:           id,
		SportKey:     "basketball_nba",
		HomeTeam:     "Los Angeles Lakers",
		AwayTeam:     "Boston Celtics",
		CommenceTime: Timestamp{start},
		Markets:      markets,
	}
}

func arbConfig() config.ArbitrageConfig {
	return config.ArbitrageConfig{MinMargin: 0.005, Confidence: 0.99, TTL: 10 * time.Minute}
}

func TestFindArbitrageAcrossProviders(t *testing.T) {
	sources := []SourcedOdds{
		{Source: "odds_api", Sport: "basketball_nba", Events: []OddsEvent{lakersGame("a1", testStart, h2h(2.10, 1.80))}},
		{Source: "sharp_book", Sport: "basketball_nba", Events: []OddsEvent{lakersGame("b7", testStart, h2h(1.85, 2.05))}},
	}

	opps := FindArbitrage(sources, arbConfig(), testNow)
	require.Len(t, opps, 1)

	o := opps[0]
	inverse := 1/2.10 + 1/2.05
	assert.Equal(t, "arb:basketball_nba:"+lakersEvent+":h2h", o.ID)
	assert.Equal(t, models.OpportunityTypeArbitrage, o.Type)
	assert.Equal(t, []string{"odds_api", "sharp_book"}, o.Sources)
	assert.InDelta(t, 1/inverse, o.Odds, 1e-9)
	assert.Equal(t, 0.99, o.Confidence)
	assert.Equal(t, models.RiskLow, o.RiskLevel)
	assert.Equal(t, "basketball_nba", o.Subject.Category)
	assert.Equal(t, "h2h", o.Subject.StatType)
	assert.Len(t, o.Analysis.Signals, 2)
	assert.Equal(t, testNow, o.Metadata.CreatedAt)
	assert.Equal(t, testNow.Add(10*time.Minute), o.Metadata.ExpiresAt)
	assert.Equal(t, 10, o.TimeRemaining)
}

func TestFindArbitrageNoEdge(t *testing.T) {
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, h2h(1.91, 1.91))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testStart, h2h(1.95, 1.87))}},
	}
	assert.Empty(t, FindArbitrage(sources, arbConfig(), testNow))
}

func TestFindArbitrageRequiresTwoBooks(t *testing.T) {
	// A single book quoting an overround below one is a data error, not an arbitrage.
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, h2h(2.20, 2.20))}},
	}
	assert.Empty(t, FindArbitrage(sources, arbConfig(), testNow))
}

func TestFindArbitrageMinMargin(t *testing.T) {
	// 1/2.02 + 1/2.02 = 0.990 -> margin 0.99%
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, h2h(2.02, 1.90))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testStart, h2h(1.90, 2.02))}},
	}

	cfg := arbConfig()
	assert.Len(t, FindArbitrage(sources, cfg, testNow), 1)

	cfg.MinMargin = 0.02
	assert.Empty(t, FindArbitrage(sources, cfg, testNow))
}

func TestFindArbitrageBookmakersWithinOneProvider(t *testing.T) {
	event := lakersGame("a1", testStart)
	event.Bookmakers = []Bookmaker{
		{Key: "fanduel", Markets: []Market{h2h(2.15, 1.75)}},
		{Key: "draftkings", Markets: []Market{h2h(1.80, 2.10)}},
	}

	opps := FindArbitrage([]SourcedOdds{{Source: "odds_api", Events: []OddsEvent{event}}}, arbConfig(), testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, []string{"odds_api"}, opps[0].Sources)
	assert.Contains(t, opps[0].Analysis.Signals[0]+opps[0].Analysis.Signals[1], "odds_api/fanduel")
	assert.Contains(t, opps[0].Analysis.Signals[0]+opps[0].Analysis.Signals[1], "odds_api/draftkings")
}

func TestFindArbitrageTotalsGroupedByLine(t *testing.T) {
	totals := func(line, over, under float64) Market {
		return Market{Key: "totals", Outcomes: []Outcome{
			{Name: "Over", Price: Price(over), Point: &Number{Value: line, Set: true}},
			{Name: "Under", Price: Price(under), Point: &Number{Value: line, Set: true}},
		}}
	}
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, totals(220.5, 2.10, 1.80), totals(221.5, 1.80, 2.10))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testStart, totals(220.5, 1.80, 2.10), totals(222.5, 2.10, 2.10))}},
	}

	opps := FindArbitrage(sources, arbConfig(), testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, "arb:basketball_nba:"+lakersEvent+":totals_220.5", opps[0].ID)
	assert.Equal(t, 220.5, opps[0].Subject.Line)
}

func TestFindArbitrageExpiry(t *testing.T) {
	soon := testNow.Add(4 * time.Minute)
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", soon, h2h(2.10, 1.80))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", soon, h2h(1.85, 2.05))}},
	}

	opps := FindArbitrage(sources, arbConfig(), testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, soon, opps[0].Metadata.ExpiresAt)
	assert.Contains(t, opps[0].Analysis.RiskFactors, "event starts within 30 minutes")

	started := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testNow.Add(-time.Minute), h2h(2.10, 1.80))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testNow.Add(-time.Minute), h2h(1.85, 2.05))}},
	}
	assert.Empty(t, FindArbitrage(started, arbConfig(), testNow))
}

func TestFindArbitrageIgnoresMalformedMarkets(t *testing.T) {
	broken := Market{Key: "h2h", Outcomes: []Outcome{
		{Name: "Los Angeles Lakers", Price: 5.0},
		{Name: "Boston Celtics", Price: 0},
	}}
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, broken)}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testStart, h2h(1.85, 2.05))}},
		{Source: "empty"},
	}
	assert.Empty(t, FindArbitrage(sources, arbConfig(), testNow))
	assert.Empty(t, FindArbitrage(nil, arbConfig(), testNow))
}

func TestFindArbitrageDefaultConfidence(t *testing.T) {
	sources := []SourcedOdds{
		{Source: "odds_api", Events: []OddsEvent{lakersGame("a1", testStart, h2h(2.10, 1.80))}},
		{Source: "sharp_book", Events: []OddsEvent{lakersGame("b7", testStart, h2h(1.85, 2.05))}},
	}
	opps := FindArbitrage(sources, config.ArbitrageConfig{}, testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, defaultArbitrageConfidence, opps[0].Confidence)
}
