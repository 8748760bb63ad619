package extractor

import (
	"fmt"
	"math"
	"time"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/models"
)

const (
	defaultPropBatchSize = 25
	minPropProbability   = 0.02
	maxPropProbability   = 0.98
	smallSampleGames     = 10
	highVarianceRatio    = 0.35
	trendThreshold       = 0.05
)

// ScanProps runs a lightweight per-player model over the first BatchSize listings.
//
// The projected mean blends season average, recent average and provider projection
// using the configured weights, renormalised over the features actually present, then
// applies the opponent adjustment. The over probability is P(X > line) under a normal
// approximation with the listing's standard deviation (default 20% of the mean).
func ScanProps(props SourcedProps, cfg config.PropScanConfig, now time.Time) []models.Opportunity {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultPropBatchSize
	}
	listings := props.Listings
	if len(listings) > batch {
		listings = listings[:batch]
	}

	var out []models.Opportunity
	seen := make(map[string]bool)
	for _, l := range listings {
		o, ok := scanListing(props, l, cfg, now)
		if !ok || seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		out = append(out, o)
	}
	return out
}

func scanListing(props SourcedProps, l PropListing, cfg config.PropScanConfig, now time.Time) (models.Opportunity, bool) {
	if l.Player == "" || l.StatType == "" || !l.Line.Set {
		return models.Opportunity{}, false
	}
	if !l.OverPrice.Valid() && !l.UnderPrice.Valid() {
		return models.Opportunity{}, false
	}
	expiresAt, ok := expiry(l.CommenceTime.Time, now, cfg.TTL)
	if !ok {
		return models.Opportunity{}, false
	}

	mean, weights, ok := blendFeatures(l, cfg)
	if !ok || mean <= 0 {
		return models.Opportunity{}, false
	}

	sigma := math.Max(1, 0.2*mean)
	if l.StdDev.Set && l.StdDev.Value > 0 {
		sigma = l.StdDev.Value
	}

	line := l.Line.Value
	pOver := clamp(1-normalCDF((line-mean)/sigma), minPropProbability, maxPropProbability)
	pUnder := 1 - pOver

	side, prob, price, edge := "", 0.0, 0.0, math.Inf(-1)
	if l.OverPrice.Valid() {
		side, prob, price, edge = "over", pOver, float64(l.OverPrice), pOver*float64(l.OverPrice)-1
	}
	if l.UnderPrice.Valid() {
		if underEdge := pUnder*float64(l.UnderPrice) - 1; underEdge > edge {
			side, prob, price, edge = "under", pUnder, float64(l.UnderPrice), underEdge
		}
	}
	if edge < cfg.MinEdge {
		return models.Opportunity{}, false
	}

	sport := l.SportKey
	if sport == "" {
		sport = props.Sport
	}
	event := slug(l.EventID)
	if event == "" {
		event = eventKey("", l.Team, l.Opponent, l.CommenceTime.Time)
	}

	id := fmt.Sprintf("prop:%s:%s:%s:%s:%s", slug(props.Source), slug(l.Player), slug(l.StatType), formatLine(line), side)
	return models.Opportunity{
		ID:      id,
		Type:    models.OpportunityTypePropScan,
		Sources: []string{props.Source},
		Subject: models.Subject{
			Name:     l.Player,
			Category: sport,
			Event:    event,
			StatType: l.StatType,
			Line:     line,
			Side:     side,
		},
		Odds:          price,
		Confidence:    prob,
		TimeRemaining: minutesUntil(expiresAt, now),
		Analysis: models.Analysis{
			Trends:       propTrends(l),
			Signals:      propSignals(l, mean, side, prob, price),
			RiskFactors:  propRiskFactors(l, mean, sigma, weights),
			ModelWeights: weights,
		},
		Metadata: models.Metadata{CreatedAt: now, ExpiresAt: expiresAt},
	}, true
}

// blendFeatures returns the weighted projected mean and the normalised weights used
func blendFeatures(l PropListing, cfg config.PropScanConfig) (float64, map[string]float64, bool) {
	type feature struct {
		name   string
		value  Number
		weight float64
	}
	features := []feature{
		{"season", l.SeasonAverage, cfg.SeasonWeight},
		{"recent", l.RecentAverage, cfg.RecentWeight},
		{"projection", l.Projection, cfg.ProjWeight},
	}

	total := 0.0
	for _, f := range features {
		if f.value.Set && f.weight > 0 {
			total += f.weight
		}
	}
	if total == 0 {
		return 0, nil, false
	}

	weights := make(map[string]float64, len(features)+1)
	mean := 0.0
	for _, f := range features {
		if !f.value.Set || f.weight <= 0 {
			continue
		}
		w := f.weight / total
		weights[f.name] = w
		mean += w * f.value.Value
	}

	if l.OpponentAdjustment.Set && l.OpponentAdjustment.Value > 0 && cfg.OpponentScale > 0 {
		factor := 1 + (l.OpponentAdjustment.Value-1)*cfg.OpponentScale
		if factor > 0 {
			weights["opponent"] = factor
			mean *= factor
		}
	}
	return mean, weights, true
}

func propTrends(l PropListing) []string {
	var trends []string
	if l.SeasonAverage.Set {
		trends = append(trends, fmt.Sprintf("season average %.1f", l.SeasonAverage.Value))
	}
	if l.RecentAverage.Set {
		trends = append(trends, fmt.Sprintf("recent average %.1f", l.RecentAverage.Value))
	}
	if l.SeasonAverage.Set && l.RecentAverage.Set && l.SeasonAverage.Value > 0 {
		change := l.RecentAverage.Value/l.SeasonAverage.Value - 1
		switch {
		case change > trendThreshold:
			trends = append(trends, fmt.Sprintf("trending up %.0f%%", change*100))
		case change < -trendThreshold:
			trends = append(trends, fmt.Sprintf("trending down %.0f%%", -change*100))
		}
	}
	return trends
}

func propSignals(l PropListing, mean float64, side string, prob, price float64) []string {
	signals := []string{
		fmt.Sprintf("projected %.1f vs line %s", mean, formatLine(l.Line.Value)),
		fmt.Sprintf("model %s %.1f%% vs implied %.1f%%", side, prob*100, 100/price),
	}
	if l.Opponent != "" && l.OpponentAdjustment.Set {
		signals = append(signals, fmt.Sprintf("opponent %s factor %.2f", l.Opponent, l.OpponentAdjustment.Value))
	}
	return signals
}

func propRiskFactors(l PropListing, mean, sigma float64, weights map[string]float64) []string {
	var factors []string
	if l.GamesPlayed.Set && l.GamesPlayed.Value < smallSampleGames {
		factors = append(factors, "small sample")
	}
	if mean > 0 && sigma/mean > highVarianceRatio {
		factors = append(factors, "high variance")
	}
	blended := 0
	for name := range weights {
		if name != "opponent" {
			blended++
		}
	}
	if blended == 1 {
		factors = append(factors, "single feature projection")
	}
	return factors
}

// normalCDF is the standard normal cumulative distribution function
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
