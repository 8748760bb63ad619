package risk

import (
	"github.com/sirupsen/logrus"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/models"
)

// Calculator applies the sizing functions uniformly to every candidate opportunity
type Calculator struct {
	logger *logrus.Logger
}

// NewCalculator creates a new risk calculator
func NewCalculator(logger *logrus.Logger) *Calculator {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Calculator{logger: logger}
}

// Apply returns a scored copy of the opportunity; the input is not modified
func (c *Calculator) Apply(o models.Opportunity) models.Opportunity {
	scored := o.Clone()
	scored.Confidence = clampProbability(o.Confidence)
	scored.KellyFraction = KellyFraction(scored.Confidence, o.Odds)
	scored.ExpectedValue = ExpectedValue(scored.Confidence, o.Odds)

	if o.Type == models.OpportunityTypeArbitrage {
		scored.RiskLevel = models.RiskLow
	} else {
		scored.RiskLevel = ClassifyRisk(scored.Confidence, scored.KellyFraction)
	}

	c.logger.WithFields(logrus.Fields{
		"opportunity_id": scored.ID,
		"type":           scored.Type,
		"odds":           scored.Odds,
		"confidence":     scored.Confidence,
		"kelly_fraction": scored.KellyFraction,
		"expected_value": scored.ExpectedValue,
		"risk_level":     scored.RiskLevel,
	}).Debug("Opportunity sized")

	return scored
}

// ApplyAll scores a batch of candidates
func (c *Calculator) ApplyAll(opps []models.Opportunity) []models.Opportunity {
	scored := make([]models.Opportunity, 0, len(opps))
	for _, o := range opps {
		scored = append(scored, c.Apply(o))
	}
	return scored
}
