// Package portfolio selects and sizes a bounded, diversified subset of live opportunities.
package portfolio

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/models"
)

// typeCount is the number of distinct opportunity types used as the type-diversity denominator
var typeCount = len(models.AllOpportunityTypes)

// Optimizer builds portfolios from the live opportunity set.
// It holds no mutable state; Optimize is a pure function of its input and configuration.
type Optimizer struct {
	cfg             config.PortfolioConfig
	weights         config.ScoreWeights
	totalCategories int
	totalSources    int
	logger          *logrus.Logger
}

// NewOptimizer creates an optimizer. totalCategories and totalSources are the
// configured sport and provider counts used as diversity denominators; zero means
// fall back to the size of the selection.
func NewOptimizer(cfg config.PortfolioConfig, totalCategories, totalSources int, logger *logrus.Logger) *Optimizer {
	if logger == nil {
		logger = applog.Discard()
	}
	weights := cfg.Weights
	if weights.IsZero() {
		weights = config.DefaultScoreWeights()
	}
	return &Optimizer{
		cfg:             cfg,
		weights:         weights,
		totalCategories: totalCategories,
		totalSources:    totalSources,
		logger:          logger,
	}
}

// Rank returns a copy of opps sorted by score descending, then confidence descending,
// then createdAt ascending, then id ascending.
func Rank(opps []models.Opportunity) []models.Opportunity {
	ranked := make([]models.Opportunity, len(opps))
	copy(ranked, opps)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if sa, sb := a.Score(), b.Score(); sa != sb {
			return sa > sb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.Metadata.CreatedAt.Equal(b.Metadata.CreatedAt) {
			return a.Metadata.CreatedAt.Before(b.Metadata.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// Optimize selects, sizes and scores a portfolio from the given live opportunities
func (o *Optimizer) Optimize(opps []models.Opportunity) models.PortfolioOptimization {
	result := models.PortfolioOptimization{
		Opportunities: []models.Opportunity{},
		Allocation:    map[string]float64{},
		Constraints: models.PortfolioConstraints{
			MaxExposure:   o.cfg.MaxExposure,
			MinConfidence: o.cfg.MinConfidence,
			MaxPositions:  o.cfg.MaxPositions,
		},
	}

	// Exposure is summed in decimal so budgets that fit exactly are not lost to float drift
	maxExposure := decimal.NewFromFloat(o.cfg.MaxExposure)
	exposure := decimal.Zero
	skippedConfidence, skippedExposure := 0, 0
	for _, opp := range Rank(opps) {
		if len(result.Opportunities) >= o.cfg.MaxPositions {
			break
		}
		if opp.Confidence < o.cfg.MinConfidence {
			skippedConfidence++
			continue
		}
		next := exposure.Add(decimal.NewFromFloat(opp.KellyFraction))
		if next.GreaterThan(maxExposure) {
			skippedExposure++
			continue
		}

		exposure = next
		result.Opportunities = append(result.Opportunities, opp.Clone())
		result.TotalKellyFraction = exposure.InexactFloat64()
		result.TotalExpectedValue += opp.ExpectedValue
		result.Allocation[opp.ID] = o.allocate(opp.KellyFraction)
		if opp.KellyFraction > result.Constraints.MaxSingleBet {
			result.Constraints.MaxSingleBet = opp.KellyFraction
		}
	}

	result.RiskScore = o.riskScore(result.Opportunities)
	result.DiversificationScore = o.diversificationScore(result.Opportunities)

	o.logger.WithFields(logrus.Fields{
		"candidates":           len(opps),
		"selected":             len(result.Opportunities),
		"skipped_confidence":   skippedConfidence,
		"skipped_exposure":     skippedExposure,
		"total_kelly_fraction": result.TotalKellyFraction,
	}).Debug("Portfolio optimized")

	return result
}

// allocate returns round(referenceBankroll * kelly) in bankroll units
func (o *Optimizer) allocate(kelly float64) float64 {
	return decimal.NewFromFloat(o.cfg.ReferenceBankroll).
		Mul(decimal.NewFromFloat(kelly)).
		Round(0).
		InexactFloat64()
}

// riskScore is 100 - (avgConfidence*wc + (1 - avgKelly*10)*wk), floored at zero
func (o *Optimizer) riskScore(selected []models.Opportunity) float64 {
	if len(selected) == 0 {
		return 0
	}
	var sumConf, sumKelly float64
	for _, opp := range selected {
		sumConf += opp.Confidence
		sumKelly += opp.KellyFraction
	}
	n := float64(len(selected))
	avgConf, avgKelly := sumConf/n, sumKelly/n

	score := 100 - (avgConf*o.weights.RiskConfidence + (1-avgKelly*10)*o.weights.RiskKelly)
	return math.Max(0, score)
}

func (o *Optimizer) diversificationScore(selected []models.Opportunity) float64 {
	if len(selected) == 0 {
		return 0
	}

	categories := make(map[string]struct{})
	types := make(map[models.OpportunityType]struct{})
	sources := make(map[string]struct{})
	for _, opp := range selected {
		categories[opp.Subject.Category] = struct{}{}
		types[opp.Type] = struct{}{}
		for _, s := range opp.Sources {
			sources[s] = struct{}{}
		}
	}

	totalCategories := o.totalCategories
	if totalCategories <= 0 {
		totalCategories = len(selected)
	}
	totalSources := o.totalSources
	if totalSources <= 0 {
		totalSources = len(selected)
	}

	return subScore(len(categories), totalCategories, o.weights.Category) +
		subScore(len(types), typeCount, o.weights.Type) +
		subScore(len(sources), totalSources, o.weights.Source)
}

// subScore scales unique/total into [0, weight]
func subScore(unique, total int, weight float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(weight, float64(unique)/float64(total)*weight)
}
