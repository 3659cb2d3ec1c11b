package usecase

import (
	"time"

	"github.com/vitos/trade_controller/internal/config"
)

// KillSwitchState is the externally visible guard state.
type KillSwitchState struct {
	Active       bool      `json:"active"`
	Reason       string    `json:"reason,omitempty"`
	DayPnL       float64   `json:"day_pnl"`
	TriggeredAt  time.Time `json:"triggered_at,omitempty"`
	CooldownMin  float64   `json:"cooldown_min"`
	RecoveryMode bool      `json:"recovery_mode"`
}

// GuardSnapshot is the persisted day state, written atomically so a restart
// inside a trading day resumes the same P&L baseline.
type GuardSnapshot struct {
	DayOpenISO  string             `json:"day_open_iso"`
	Timezone    string             `json:"timezone"`
	DayPnL      float64            `json:"day_pnl"`
	MarketPnL   map[string]float64 `json:"market_pnl"`
	TriggeredAt string             `json:"triggered_at,omitempty"`
}

// DailyGuard implements the global and per-market kill-switches computed
// from realized day P&L, with cooldown and size-reduced recovery.
type DailyGuard struct {
	cfg config.Guards
	loc *time.Location

	dayOpen     time.Time
	equity      float64
	dayPnL      float64
	marketPnL   map[string]float64
	triggeredAt time.Time
}

func NewDailyGuard(cfg config.Guards) *DailyGuard {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &DailyGuard{
		cfg:       cfg,
		loc:       loc,
		marketPnL: make(map[string]float64),
	}
}

func (g *DailyGuard) dayOpenFor(now time.Time) time.Time {
	y, m, d := now.In(g.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}

// RolloverIfNeeded resets day state at the configured daily boundary.
// Call once per iteration. Returns true when a new day started.
func (g *DailyGuard) RolloverIfNeeded(now time.Time) bool {
	open := g.dayOpenFor(now)
	if g.dayOpen.Equal(open) {
		return false
	}
	first := g.dayOpen.IsZero()
	g.dayOpen = open
	g.dayPnL = 0
	g.marketPnL = make(map[string]float64)
	g.triggeredAt = time.Time{}
	return !first
}

// RecordRealized accumulates realized P&L from an exit.
func (g *DailyGuard) RecordRealized(marketID string, pnl float64, now time.Time) {
	g.RolloverIfNeeded(now)
	g.dayPnL += pnl
	g.marketPnL[marketID] += pnl
	if g.breached() && g.triggeredAt.IsZero() {
		g.triggeredAt = now
	}
}

func (g *DailyGuard) breached() bool {
	if g.cfg.MaxDayLossAbs > 0 && g.dayPnL <= -g.cfg.MaxDayLossAbs {
		return true
	}
	if g.cfg.MaxDayLossPct > 0 {
		ref := g.referenceEquity()
		if ref > 0 && g.dayPnL <= -ref*g.cfg.MaxDayLossPct {
			return true
		}
	}
	return false
}

func (g *DailyGuard) referenceEquity() float64 {
	// The absolute threshold is primary; the pct threshold needs a base,
	// which the caller supplies via SetEquity when balance tracking is on.
	return g.equity
}

// Blocked reports whether new entries are globally halted right now.
func (g *DailyGuard) Blocked(now time.Time) bool {
	if g.triggeredAt.IsZero() {
		return g.breached()
	}
	if g.cfg.Cooldown > 0 && now.Sub(g.triggeredAt) >= g.cfg.Cooldown.Std() {
		// Cooldown elapsed: entries resume (possibly in recovery mode).
		return false
	}
	return true
}

// MarketBlocked reports whether one market breached its own daily loss cap.
func (g *DailyGuard) MarketBlocked(marketID string) bool {
	if g.cfg.MarketMaxLossAbs <= 0 {
		return false
	}
	return g.marketPnL[marketID] <= -g.cfg.MarketMaxLossAbs
}

// SizeFactor scales approved order sizes: 1 normally, the recovery ratio
// while recovering from a tripped switch until day P&L is back above the
// threshold.
func (g *DailyGuard) SizeFactor(now time.Time) float64 {
	if g.inRecovery(now) {
		return g.cfg.RecoveryRatio
	}
	return 1
}

func (g *DailyGuard) inRecovery(now time.Time) bool {
	if g.triggeredAt.IsZero() {
		return false
	}
	if g.cfg.Cooldown > 0 && now.Sub(g.triggeredAt) < g.cfg.Cooldown.Std() {
		return false // still fully blocked
	}
	return g.breached()
}

// State returns the externally visible kill-switch state.
func (g *DailyGuard) State(now time.Time) KillSwitchState {
	st := KillSwitchState{
		DayPnL:       g.dayPnL,
		CooldownMin:  g.cfg.Cooldown.Std().Minutes(),
		Active:       g.Blocked(now),
		RecoveryMode: g.inRecovery(now),
		TriggeredAt:  g.triggeredAt,
	}
	if st.Active {
		st.Reason = "daily_loss_limit"
	}
	return st
}

// DayPnL returns the realized P&L accumulated this trading day.
func (g *DailyGuard) DayPnL() float64 { return g.dayPnL }

// SetEquity supplies the balance base for the percentage threshold.
func (g *DailyGuard) SetEquity(equity float64) { g.equity = equity }

// Snapshot captures the persistable day state.
func (g *DailyGuard) Snapshot() GuardSnapshot {
	snap := GuardSnapshot{
		DayOpenISO: g.dayOpen.UTC().Format(time.RFC3339),
		Timezone:   g.cfg.Timezone,
		DayPnL:     g.dayPnL,
		MarketPnL:  make(map[string]float64, len(g.marketPnL)),
	}
	for k, v := range g.marketPnL {
		snap.MarketPnL[k] = v
	}
	if !g.triggeredAt.IsZero() {
		snap.TriggeredAt = g.triggeredAt.UTC().Format(time.RFC3339)
	}
	return snap
}

// Restore resumes from a persisted snapshot when it belongs to the current
// trading day; otherwise the snapshot is discarded.
func (g *DailyGuard) Restore(snap GuardSnapshot, now time.Time) {
	open, err := time.Parse(time.RFC3339, snap.DayOpenISO)
	if err != nil || !open.In(g.loc).Equal(g.dayOpenFor(now)) {
		g.RolloverIfNeeded(now)
		return
	}
	g.dayOpen = g.dayOpenFor(now)
	g.dayPnL = snap.DayPnL
	g.marketPnL = snap.MarketPnL
	if g.marketPnL == nil {
		g.marketPnL = make(map[string]float64)
	}
	if snap.TriggeredAt != "" {
		if t, err := time.Parse(time.RFC3339, snap.TriggeredAt); err == nil {
			g.triggeredAt = t
		}
	}
}
