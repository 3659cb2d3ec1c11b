package domain

import "time"

// RiskLevel classifies a market by how aggressively it may be traded.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MarketSnapshot is one immutable per-tick view of a market.
// Prices are probabilities of the "yes" outcome in [0,1].
type MarketSnapshot struct {
	MarketID  string    `json:"market_id"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid"`
	LastTrade float64   `json:"last_trade"`
	Volume24h float64   `json:"volume_24h"`
	DepthYes  float64   `json:"depth_yes"` // visible notional on the yes side
	DepthNo   float64   `json:"depth_no"`  // visible notional on the no side
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore float64   `json:"risk_score"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Spread returns the bid/ask spread in probability terms.
func (s *MarketSnapshot) Spread() float64 {
	if s.Ask <= 0 || s.Bid <= 0 {
		return 0
	}
	return s.Ask - s.Bid
}

// Depth returns the visible depth notional for one side.
func (s *MarketSnapshot) Depth(side Side) float64 {
	if side == SideNo {
		return s.DepthNo
	}
	return s.DepthYes
}

// FeedHealth describes the state of the ingestion pipeline.
type FeedHealth struct {
	FallbackActive        bool    `json:"fallback_active"`
	ValidationCoveragePct float64 `json:"validation_coverage_pct"`
}
