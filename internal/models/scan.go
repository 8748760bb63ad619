package models

import (
	"time"

	"github.com/google/uuid"
)

// APIUsage reports per-provider quota consumption for the UI layer
type APIUsage struct {
	QuotaUsage     map[string]int `json:"quotaUsage"`
	QuotaRemaining map[string]int `json:"quotaRemaining"`
}

// ScanHealth lets consumers tell "nothing found" apart from "sources down"
type ScanHealth struct {
	ProvidersUp       []string `json:"providersUp"`
	ProvidersDown     []string `json:"providersDown"`
	ExtractorFailures int      `json:"extractorFailures"`
	FailedStrategies  []string `json:"failedStrategies,omitempty"`
}

// ScanResult is emitted once per scan cycle
type ScanResult struct {
	ID             uuid.UUID             `json:"id"`
	StartedAt      time.Time             `json:"startedAt"`
	Strategies     []OpportunityType     `json:"strategies"`
	Opportunities  []Opportunity         `json:"opportunities"`
	Portfolio      PortfolioOptimization `json:"portfolio"`
	ScanDurationMs int64                 `json:"scanDurationMs"`
	APIUsage       APIUsage              `json:"apiUsage"`
	Health         ScanHealth            `json:"health"`
}

// ScanSummary is the persisted headline of a past scan
type ScanSummary struct {
	ID                 uuid.UUID `json:"id"`
	StartedAt          time.Time `json:"startedAt"`
	ScanDurationMs     int64     `json:"scanDurationMs"`
	Strategies         []string  `json:"strategies"`
	OpportunityCount   int       `json:"opportunityCount"`
	PortfolioCount     int       `json:"portfolioCount"`
	TotalExpectedValue float64   `json:"totalExpectedValue"`
	TotalKellyFraction float64   `json:"totalKellyFraction"`
	ExtractorFailures  int       `json:"extractorFailures"`
}

// OpportunitySighting records one scan in which an opportunity was live
type OpportunitySighting struct {
	ScanID        uuid.UUID `json:"scanId"`
	StartedAt     time.Time `json:"startedAt"`
	ExpectedValue float64   `json:"expectedValue"`
	KellyFraction float64   `json:"kellyFraction"`
	InPortfolio   bool      `json:"inPortfolio"`
}
