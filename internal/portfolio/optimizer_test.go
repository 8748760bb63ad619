package portfolio

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/models"
	"github.com/yourusername/edge-scanner/internal/risk"
)

var createdAt = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.PortfolioConfig {
	return config.PortfolioConfig{
		MaxPositions:      10,
		MaxExposure:       0.25,
		MinConfidence:     0.7,
		ReferenceBankroll: 1000,
		Weights:           config.DefaultScoreWeights(),
	}
}

func scored(id string, confidence, odds float64) models.Opportunity {
	return risk.NewCalculator(nil).Apply(models.Opportunity{
		ID:         id,
		Type:       models.OpportunityTypeValueBet,
		Sources:    []string{"odds_api"},
		Subject:    models.Subject{Name: id, Category: "basketball_nba"},
		Odds:       odds,
		Confidence: confidence,
		Metadata:   models.Metadata{CreatedAt: createdAt, ExpiresAt: createdAt.Add(time.Hour)},
	})
}

func raw(id string, ev, kelly, confidence float64) models.Opportunity {
	return models.Opportunity{
		ID:            id,
		Type:          models.OpportunityTypePropScan,
		Sources:       []string{"props_feed"},
		Subject:       models.Subject{Category: "basketball_nba"},
		Confidence:    confidence,
		ExpectedValue: ev,
		KellyFraction: kelly,
		Metadata:      models.Metadata{CreatedAt: createdAt, ExpiresAt: createdAt.Add(time.Hour)},
	}
}

func TestOptimizeExcludesLowConfidence(t *testing.T) {
	opps := []models.Opportunity{
		scored("first", 0.9, 2.0),
		scored("second", 0.75, 1.8),
		scored("third", 0.6, 3.0),
	}
	optimizer := NewOptimizer(testConfig(), 0, 0, nil)

	result := optimizer.Optimize(opps)

	assert.ElementsMatch(t, []string{"first", "second"}, result.IDs())
	assert.NotContains(t, result.Allocation, "third")
	assert.Equal(t, 100.0, result.Allocation["first"])
	assert.Equal(t, 100.0, result.Allocation["second"])
	assert.InDelta(t, 0.2, result.TotalKellyFraction, 1e-9)
	assert.InDelta(t, 58.75, result.RiskScore, 1e-9)
	assert.Equal(t, 0.7, result.Constraints.MinConfidence)
	assert.Equal(t, 0.25, result.Constraints.MaxExposure)
	assert.Equal(t, risk.KellyCap, result.Constraints.MaxSingleBet)

	cfg := testConfig()
	cfg.MinConfidence = 0.5
	cfg.MaxExposure = 1
	assert.Contains(t, NewOptimizer(cfg, 0, 0, nil).Optimize(opps).IDs(), "third")
}

func TestOptimizeSkipsOverExposureAndContinues(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposure = 0.15

	result := NewOptimizer(cfg, 0, 0, nil).Optimize([]models.Opportunity{
		raw("a", 50, 0.08, 0.9),
		raw("b", 30, 0.09, 0.9),
		raw("c", 20, 0.05, 0.9),
	})

	assert.Equal(t, []string{"a", "c"}, result.IDs())
	assert.InDelta(t, 0.13, result.TotalKellyFraction, 1e-9)
	assert.InDelta(t, 70, result.TotalExpectedValue, 1e-9)
	assert.Equal(t, 0.08, result.Constraints.MaxSingleBet)
}

func TestOptimizeFillsExactExposureBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposure = 0.3

	result := NewOptimizer(cfg, 0, 0, nil).Optimize([]models.Opportunity{
		raw("a", 30, risk.KellyCap, 0.9),
		raw("b", 20, risk.KellyCap, 0.9),
		raw("c", 10, risk.KellyCap, 0.9),
		raw("d", 5, 0.01, 0.9),
	})

	require.Len(t, result.Opportunities, 3)
	assert.Equal(t, []string{"a", "b", "c"}, result.IDs())
	assert.Equal(t, 0.3, result.TotalKellyFraction)
}

func TestOptimizeStopsAtMaxPositions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 2
	cfg.MaxExposure = 1

	result := NewOptimizer(cfg, 0, 0, nil).Optimize([]models.Opportunity{
		raw("a", 10, 0.02, 0.9),
		raw("b", 20, 0.02, 0.9),
		raw("c", 30, 0.02, 0.9),
	})

	assert.Equal(t, []string{"c", "b"}, result.IDs())
	assert.Len(t, result.Allocation, 2)
}

func TestRankTieBreaks(t *testing.T) {
	older := raw("older", 10, 0.02, 0.8)
	older.Metadata.CreatedAt = createdAt.Add(-time.Hour)
	confident := raw("confident", 10, 0.02, 0.95)
	idB := raw("b", 10, 0.02, 0.8)
	idA := raw("a", 10, 0.02, 0.8)

	ranked := Rank([]models.Opportunity{idB, idA, older, confident})

	ids := make([]string, len(ranked))
	for i, o := range ranked {
		ids[i] = o.ID
	}
	assert.Equal(t, []string{"confident", "older", "a", "b"}, ids)
}

func TestOptimizeEmptySelection(t *testing.T) {
	result := NewOptimizer(testConfig(), 3, 4, nil).Optimize([]models.Opportunity{
		raw("weak", 10, 0.02, 0.1),
	})

	assert.Empty(t, result.Opportunities)
	assert.NotNil(t, result.Allocation)
	assert.Empty(t, result.Allocation)
	assert.Zero(t, result.RiskScore)
	assert.Zero(t, result.DiversificationScore)
	assert.Zero(t, result.Constraints.MaxSingleBet)
}

func TestDiversificationScore(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposure = 1

	a := raw("a", 10, 0.02, 0.9)
	a.Subject.Category = "basketball_nba"
	a.Type = models.OpportunityTypeArbitrage
	a.Sources = []string{"odds_api", "sharp_book"}
	b := raw("b", 10, 0.02, 0.9)
	b.Subject.Category = "americanfootball_nfl"
	b.Sources = []string{"props_feed"}

	result := NewOptimizer(cfg, 4, 4, nil).Optimize([]models.Opportunity{a, b})

	// 2/4*40 + 2/3*30 + 3/4*30
	assert.InDelta(t, 62.5, result.DiversificationScore, 1e-9)
}

func TestDiversificationSubScoresCapped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposure = 1

	var opps []models.Opportunity
	for i, typ := range models.AllOpportunityTypes {
		o := raw(fmt.Sprintf("o%d", i), 10, 0.02, 0.9)
		o.Type = typ
		o.Subject.Category = fmt.Sprintf("sport%d", i)
		o.Sources = []string{fmt.Sprintf("src%d", i)}
		opps = append(opps, o)
	}

	// fewer configured categories and sources than observed still caps at each weight
	result := NewOptimizer(cfg, 1, 1, nil).Optimize(opps)
	assert.InDelta(t, 100, result.DiversificationScore, 1e-9)
}

func TestCustomWeights(t *testing.T) {
	cfg := testConfig()
	cfg.Weights = config.ScoreWeights{Category: 100, RiskConfidence: 100}

	result := NewOptimizer(cfg, 2, 2, nil).Optimize([]models.Opportunity{raw("a", 10, 0.02, 0.8)})

	assert.InDelta(t, 50, result.DiversificationScore, 1e-9)
	assert.InDelta(t, 20, result.RiskScore, 1e-9)
}

func TestOptimizeRespectsLimitsAndIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	calc := risk.NewCalculator(nil)

	for trial := 0; trial < 50; trial++ {
		var opps []models.Opportunity
		for i := 0; i < 30; i++ {
			o := calc.Apply(models.Opportunity{
				ID:         fmt.Sprintf("t%d-o%d", trial, i),
				Type:       models.AllOpportunityTypes[rng.Intn(3)],
				Sources:    []string{fmt.Sprintf("src%d", rng.Intn(4))},
				Subject:    models.Subject{Category: fmt.Sprintf("sport%d", rng.Intn(5))},
				Odds:       1.1 + rng.Float64()*5,
				Confidence: rng.Float64(),
				Metadata:   models.Metadata{CreatedAt: createdAt.Add(time.Duration(rng.Intn(60)) * time.Minute)},
			})
			opps = append(opps, o)
		}

		cfg := config.PortfolioConfig{
			MaxPositions:      1 + rng.Intn(8),
			MaxExposure:       0.05 + rng.Float64()*0.5,
			MinConfidence:     rng.Float64() * 0.8,
			ReferenceBankroll: 500,
		}
		optimizer := NewOptimizer(cfg, 5, 4, nil)

		first := optimizer.Optimize(opps)
		require.LessOrEqual(t, len(first.Opportunities), cfg.MaxPositions)
		require.LessOrEqual(t, first.TotalKellyFraction, cfg.MaxExposure)
		for _, o := range first.Opportunities {
			require.GreaterOrEqual(t, o.Confidence, cfg.MinConfidence)
		}
		assert.GreaterOrEqual(t, first.RiskScore, 0.0)
		assert.LessOrEqual(t, first.DiversificationScore, 100.0)

		reversed := make([]models.Opportunity, len(opps))
		for i := range opps {
			reversed[len(opps)-1-i] = opps[i]
		}
		second := optimizer.Optimize(reversed)
		assert.Equal(t, first.IDs(), second.IDs())
		assert.Equal(t, first.Allocation, second.Allocation)
	}
}
