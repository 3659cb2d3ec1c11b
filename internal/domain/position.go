package domain

import (
	"encoding/json"
	"time"
)

// StrategyState is opaque per-strategy exit state. The core stores and
// round-trips it; only the owning strategy's evaluator interprets Data.
type StrategyState struct {
	EntryState json.RawMessage `json:"entry_state,omitempty"`
	Exclusive  bool            `json:"exclusive"`
	HoldUntil  time.Time       `json:"hold_until,omitempty"`
}

// PartialExit records one partial unwind of a position.
type PartialExit struct {
	OrderIDs       []string  `json:"order_ids"`
	FilledNotional float64   `json:"filled_notional"`
	FilledShares   float64   `json:"filled_shares"`
	Reason         string    `json:"reason"`
	ClosedAt       time.Time `json:"closed_at"`
}

// Position is the central mutable entity, one per open market.
// It is owned exclusively by the control loop; nothing outside the
// loop mutates it.
type Position struct {
	MarketID      string                    `json:"market_id"`
	Side          Side                      `json:"side"`
	Notional      float64                   `json:"notional"`
	Shares        float64                   `json:"shares"`
	OrigNotional  float64                   `json:"orig_notional"`
	OrigShares    float64                   `json:"orig_shares"`
	EntryPrice    float64                   `json:"entry_price"` // yes-probability terms
	EntryScore    float64                   `json:"entry_score"`
	EntryRisk     RiskLevel                 `json:"entry_risk"`
	OpenedAt      time.Time                 `json:"opened_at"`
	MinHoldSec    float64                   `json:"min_hold_sec"`
	BestPnLPct    float64                   `json:"best_pnl_pct"`
	TpSlStage     int                       `json:"tp_sl_stage"` // 0, 1, 2
	TrimRatio     float64                   `json:"trim_ratio"`
	Strategies    []string                  `json:"strategies"`
	StrategyState map[string]*StrategyState `json:"strategy_state,omitempty"`
	PartialExits  []PartialExit             `json:"partial_exits,omitempty"`
}

// HoldSeconds returns the age of the position at now.
func (p *Position) HoldSeconds(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Seconds()
}

// MinHoldElapsed reports whether the risk-level-dependent minimum hold passed.
func (p *Position) MinHoldElapsed(now time.Time) bool {
	return p.HoldSeconds(now) >= p.MinHoldSec
}

// sidePrice converts a yes-probability to the price of the held side.
func sidePrice(side Side, yesPrice float64) float64 {
	if side == SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// EntrySidePrice is the entry price expressed in the held side's terms.
func (p *Position) EntrySidePrice() float64 {
	return sidePrice(p.Side, p.EntryPrice)
}

// PnL returns unrealized profit at the given yes-mid.
func (p *Position) PnL(yesMid float64) float64 {
	return p.Shares * (sidePrice(p.Side, yesMid) - p.EntrySidePrice())
}

// PnLPct returns unrealized profit as a fraction of current notional.
func (p *Position) PnLPct(yesMid float64) float64 {
	if p.Notional <= 0 {
		return 0
	}
	return p.PnL(yesMid) / p.Notional
}

// UpdateHighWater raises BestPnLPct, never lowers it.
func (p *Position) UpdateHighWater(yesMid float64) {
	if pct := p.PnLPct(yesMid); pct > p.BestPnLPct {
		p.BestPnLPct = pct
	}
}

// Reduce releases the given cost-basis notional and share count and logs the
// partial exit. The caller removes the position when Drained reports true.
func (p *Position) Reduce(notional, shares float64, reason string, orderIDs []string, at time.Time) {
	p.Notional -= notional
	p.Shares -= shares
	if p.Notional < 0 {
		p.Notional = 0
	}
	if p.Shares < 0 {
		p.Shares = 0
	}
	p.PartialExits = append(p.PartialExits, PartialExit{
		OrderIDs:       orderIDs,
		FilledNotional: notional,
		FilledShares:   shares,
		Reason:         reason,
		ClosedAt:       at,
	})
}

const drainedEpsilon = 1e-6

// Drained reports whether the position is effectively empty and must be removed.
func (p *Position) Drained() bool {
	return p.Notional <= drainedEpsilon || p.Shares <= drainedEpsilon
}
