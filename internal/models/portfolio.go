package models

// PortfolioConstraints records the limits actually applied by an optimization run
type PortfolioConstraints struct {
	MaxSingleBet  float64 `json:"maxSingleBet"` // Largest kelly fraction realized in the selection
	MaxExposure   float64 `json:"maxExposure"`
	MinConfidence float64 `json:"minConfidence"`
	MaxPositions  int     `json:"maxPositions"`
}

// PortfolioOptimization is the selected, sized subset of live opportunities
type PortfolioOptimization struct {
	Opportunities        []Opportunity        `json:"opportunities"`
	TotalExpectedValue   float64              `json:"totalExpectedValue"`
	TotalKellyFraction   float64              `json:"totalKellyFraction"`
	RiskScore            float64              `json:"riskScore"`
	DiversificationScore float64              `json:"diversificationScore"`
	Allocation           map[string]float64   `json:"allocation"`
	Constraints          PortfolioConstraints `json:"constraints"`
}

// IDs returns the selected opportunity ids in selection order
func (p PortfolioOptimization) IDs() []string {
	ids := make([]string, len(p.Opportunities))
	for i, o := range p.Opportunities {
		ids[i] = o.ID
	}
	return ids
}
