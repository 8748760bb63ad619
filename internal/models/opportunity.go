package models

import (
	"fmt"
	"strings"
	"time"
)

// OpportunityType identifies the extractor strategy that produced an opportunity
type OpportunityType string

const (
	// OpportunityTypeArbitrage is a cross-source price discrepancy with a guaranteed return
	OpportunityTypeArbitrage OpportunityType = "arbitrage"
	// OpportunityTypeValueBet is a model edge against a single market price
	OpportunityTypeValueBet OpportunityType = "value_bet"
	// OpportunityTypePropScan is an edge found while scanning player props
	OpportunityTypePropScan OpportunityType = "prop_scan"
)

// AllOpportunityTypes lists every known strategy in a stable order
var AllOpportunityTypes = []OpportunityType{
	OpportunityTypeArbitrage,
	OpportunityTypeValueBet,
	OpportunityTypePropScan,
}

// ParseOpportunityType converts a configured strategy name into an OpportunityType
func ParseOpportunityType(s string) (OpportunityType, error) {
	switch OpportunityType(strings.ToLower(strings.TrimSpace(s))) {
	case OpportunityTypeArbitrage:
		return OpportunityTypeArbitrage, nil
	case OpportunityTypeValueBet:
		return OpportunityTypeValueBet, nil
	case OpportunityTypePropScan:
		return OpportunityTypePropScan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// RiskLevel is the discrete risk tier of an opportunity
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Subject describes what an opportunity is about
type Subject struct {
	Name     string  `json:"name"`               // Player, team or outcome name
	Category string  `json:"category"`           // Sport or league key (e.g. "basketball_nba")
	Event    string  `json:"event,omitempty"`    // Provider event identifier
	StatType string  `json:"statType,omitempty"` // Market or stat type (e.g. "h2h", "points")
	Line     float64 `json:"line,omitempty"`     // Handicap/total line where applicable
	Side     string  `json:"side,omitempty"`     // "over", "under" or outcome side
}

// Analysis carries the supporting evidence for an opportunity
type Analysis struct {
	Trends       []string           `json:"trends,omitempty"`
	Signals      []string           `json:"signals,omitempty"`
	RiskFactors  []string           `json:"riskFactors,omitempty"`
	ModelWeights map[string]float64 `json:"modelWeights,omitempty"`
}

// Metadata holds lifecycle timestamps. ExpiresAt is authoritative for eviction.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Opportunity represents a single candidate position with sizing and risk metadata
type Opportunity struct {
	ID            string          `json:"id"`
	Type          OpportunityType `json:"type"`
	Sources       []string        `json:"source"`
	Subject       Subject         `json:"subject"`
	Odds          float64         `json:"odds"`
	Confidence    float64         `json:"confidence"`
	ExpectedValue float64         `json:"expectedValue"`
	KellyFraction float64         `json:"kellyFraction"`
	RiskLevel     RiskLevel       `json:"riskLevel"`
	TimeRemaining int             `json:"timeRemaining"` // Minutes, advisory only
	Analysis      Analysis        `json:"analysis"`
	Metadata      Metadata        `json:"metadata"`
}

// IsLive reports whether the opportunity has not yet expired at now
func (o *Opportunity) IsLive(now time.Time) bool {
	return o.Metadata.ExpiresAt.After(now)
}

// Score returns the Kelly-weighted edge used for portfolio ranking
func (o *Opportunity) Score() float64 {
	return o.ExpectedValue * o.KellyFraction
}

// Clone returns a deep copy so callers can never alias store-owned slices or maps
func (o Opportunity) Clone() Opportunity {
	c := o
	if o.Sources != nil {
		c.Sources = append([]string(nil), o.Sources...)
	}
	if o.Analysis.Trends != nil {
		c.Analysis.Trends = append([]string(nil), o.Analysis.Trends...)
	}
	if o.Analysis.Signals != nil {
		c.Analysis.Signals = append([]string(nil), o.Analysis.Signals...)
	}
	if o.Analysis.RiskFactors != nil {
		c.Analysis.RiskFactors = append([]string(nil), o.Analysis.RiskFactors...)
	}
	if o.Analysis.ModelWeights != nil {
		c.Analysis.ModelWeights = make(map[string]float64, len(o.Analysis.ModelWeights))
		for k, v := range o.Analysis.ModelWeights {
			c.Analysis.ModelWeights[k] = v
		}
	}
	return c
}

// Validate checks the structural invariants of an opportunity.
// kellyCap is the global sizing cap the opportunity must respect.
func (o *Opportunity) Validate(kellyCap float64) error {
	if o.ID == "" {
		return ErrMissingID
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f for %s", ErrInvalidOpportunity, o.Confidence, o.ID)
	}
	if o.KellyFraction < 0 || o.KellyFraction > kellyCap {
		return fmt.Errorf("%w: kelly fraction %.4f outside [0, %.2f] for %s", ErrInvalidOpportunity, o.KellyFraction, kellyCap, o.ID)
	}
	if !o.Metadata.ExpiresAt.After(o.Metadata.CreatedAt) {
		return fmt.Errorf("%w: expiresAt must be after createdAt for %s", ErrInvalidOpportunity, o.ID)
	}
	return nil
}
