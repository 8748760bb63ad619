package risk

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/edge-scanner/internal/models"
)

func TestKellyFraction(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		odds       float64
		expected   float64
	}{
		{name: "strong edge capped", confidence: 0.9, odds: 2.0, expected: KellyCap},
		{name: "quarter kelly below cap", confidence: 0.55, odds: 2.0, expected: 0.025},
		{name: "small edge short odds", confidence: 0.85, odds: 1.2, expected: 0.025},
		{name: "no edge", confidence: 0.5, odds: 2.0, expected: 0},
		{name: "negative edge", confidence: 0.3, odds: 2.0, expected: 0},
		{name: "odds of one", confidence: 0.99, odds: 1.0, expected: 0},
		{name: "odds below one", confidence: 0.99, odds: 0.5, expected: 0},
		{name: "certain win long odds", confidence: 1, odds: 100, expected: KellyCap},
		{name: "confidence above one clamps", confidence: 1.7, odds: 3.0, expected: KellyCap},
		{name: "negative confidence clamps", confidence: -0.4, odds: 3.0, expected: 0},
		{name: "nan odds", confidence: 0.6, odds: math.NaN(), expected: 0},
		{name: "infinite odds", confidence: 0.6, odds: math.Inf(1), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, KellyFraction(tt.confidence, tt.odds), 1e-9)
		})
	}
}

func TestKellyFractionAlwaysWithinCap(t *testing.T) {
	for p := 0.0; p <= 1.0; p += 0.05 {
		for b := 1.01; b <= 200; b *= 1.7 {
			k := KellyFraction(p, b)
			assert.GreaterOrEqual(t, k, 0.0, "p=%.2f b=%.2f", p, b)
			assert.LessOrEqual(t, k, KellyCap, "p=%.2f b=%.2f", p, b)
		}
	}
}

func TestExpectedValue(t *testing.T) {
	assert.InDelta(t, 80.0, ExpectedValue(0.9, 2.0), 1e-9)
	assert.InDelta(t, 35.0, ExpectedValue(0.75, 1.8), 1e-9)
	assert.InDelta(t, 80.0, ExpectedValue(0.6, 3.0), 1e-9)
	assert.InDelta(t, -40.0, ExpectedValue(0.3, 2.0), 1e-9)
	assert.Equal(t, 0.0, ExpectedValue(0.5, math.NaN()))
}

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		kelly      float64
		expected   models.RiskLevel
	}{
		{"low", 0.85, 0.025, models.RiskLow},
		{"confidence at low boundary falls to medium", 0.8, 0.01, models.RiskMedium},
		{"kelly at low boundary falls to medium", 0.81, 0.03, models.RiskMedium},
		{"medium", 0.75, 0.05, models.RiskMedium},
		{"confidence at medium boundary is high", 0.7, 0.01, models.RiskHigh},
		{"kelly at medium boundary is high", 0.9, 0.06, models.RiskHigh},
		{"high confidence large kelly", 0.95, 0.1, models.RiskHigh},
		{"low confidence", 0.4, 0.0, models.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyRisk(tt.confidence, tt.kelly))
		})
	}
}

func TestClassifyRiskIsDeterministic(t *testing.T) {
	for c := 0.0; c <= 1.0; c += 0.01 {
		for k := 0.0; k <= KellyCap; k += 0.005 {
			assert.Equal(t, ClassifyRisk(c, k), ClassifyRisk(c, k))
		}
	}
}

func TestCalculatorApply(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	calc := NewCalculator(logger)

	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	input := models.Opportunity{
		ID:         "value:book_a:evt1:h2h:home",
		Type:       models.OpportunityTypeValueBet,
		Sources:    []string{"book_a"},
		Odds:       1.4,
		Confidence: 0.75,
		Analysis:   models.Analysis{Signals: []string{"projection edge"}},
		Metadata:   models.Metadata{CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}

	scored := calc.Apply(input)

	assert.InDelta(t, 0.03125, scored.KellyFraction, 1e-9)
	assert.InDelta(t, 5.0, scored.ExpectedValue, 1e-9)
	assert.Equal(t, models.RiskMedium, scored.RiskLevel)
	require.NoError(t, scored.Validate(KellyCap))

	// input must remain untouched
	assert.Zero(t, input.KellyFraction)
	assert.Empty(t, input.RiskLevel)
	scored.Analysis.Signals[0] = "changed"
	assert.Equal(t, "projection edge", input.Analysis.Signals[0])
}

func TestCalculatorApplyForcesArbitrageLowRisk(t *testing.T) {
	calc := NewCalculator(nil)

	scored := calc.Apply(models.Opportunity{
		ID:         "arb:basketball_nba:evt1:h2h",
		Type:       models.OpportunityTypeArbitrage,
		Odds:       1.05,
		Confidence: 0.99,
	})

	assert.Equal(t, models.RiskLow, scored.RiskLevel)
	assert.LessOrEqual(t, scored.KellyFraction, KellyCap)
}

func TestCalculatorApplyAll(t *testing.T) {
	calc := NewCalculator(nil)
	scored := calc.ApplyAll([]models.Opportunity{
		{ID: "a", Odds: 2.0, Confidence: 0.9},
		{ID: "b", Odds: 1.8, Confidence: 0.75},
		{ID: "c", Odds: 3.0, Confidence: 0.7},
	})

	require.Len(t, scored, 3)
	for _, o := range scored {
		assert.Equal(t, KellyCap, o.KellyFraction, o.ID)
		assert.Equal(t, models.RiskHigh, o.RiskLevel, o.ID)
	}
}

func TestKellyFractionJustBelowCap(t *testing.T) {
	// 0.25 * (2*0.6 - 0.4) / 2 lands a float ulp under the cap
	k := KellyFraction(0.6, 3.0)
	assert.InDelta(t, KellyCap, k, 1e-12)
	assert.LessOrEqual(t, k, KellyCap)
}
