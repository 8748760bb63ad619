// Package risk sizes opportunities with a conservative Kelly criterion and assigns risk tiers.
package risk

import (
	"math"

	"github.com/yourusername/edge-scanner/internal/models"
)

const (
	// ConservativeMultiplier scales full Kelly down to quarter Kelly
	ConservativeMultiplier = 0.25
	// KellyCap is the absolute ceiling on any recommended bankroll fraction
	KellyCap = 0.10
)

// Risk tier thresholds, evaluated in order
const (
	lowRiskMinConfidence    = 0.8
	lowRiskMaxKelly         = 0.03
	mediumRiskMinConfidence = 0.7
	mediumRiskMaxKelly      = 0.06
)

// KellyFraction returns the risk-adjusted, capped fraction of bankroll to stake.
//
// Kelly Criterion: f = (b*p - q) / b
// where b = decimal odds - 1, p = win probability, q = 1 - p.
// The raw value is multiplied by ConservativeMultiplier and clamped to [0, KellyCap].
func KellyFraction(confidence, decimalOdds float64) float64 {
	p := clampProbability(confidence)
	b := decimalOdds - 1.0
	if math.IsNaN(b) || b <= 0 || math.IsInf(b, 0) {
		return 0
	}

	raw := (b*p - (1.0 - p)) / b
	fractional := raw * ConservativeMultiplier

	if math.IsNaN(fractional) || fractional < 0 {
		return 0
	}
	if fractional > KellyCap {
		return KellyCap
	}
	return fractional
}

// ExpectedValue returns the expected return per unit stake as a percentage (p*b - 1) * 100
func ExpectedValue(confidence, decimalOdds float64) float64 {
	if math.IsNaN(decimalOdds) || math.IsInf(decimalOdds, 0) {
		return 0
	}
	p := clampProbability(confidence)
	return (p*decimalOdds - 1.0) * 100.0
}

// ClassifyRisk maps (confidence, kelly) to a tier; first matching rule wins
func ClassifyRisk(confidence, kellyFraction float64) models.RiskLevel {
	if confidence > lowRiskMinConfidence && kellyFraction < lowRiskMaxKelly {
		return models.RiskLow
	}
	if confidence > mediumRiskMinConfidence && kellyFraction < mediumRiskMaxKelly {
		return models.RiskMedium
	}
	return models.RiskHigh
}

func clampProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
