package usecase

import (
	"math"
	"time"

	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// Exit reason codes attached to exit records.
const (
	ExitTimeStop     = "time_stop"
	ExitTpSl         = "tp_sl"
	ExitBreakeven    = "breakeven"
	ExitDeadZone     = "dead_zone"
	ExitInvalidation = "invalidation"
	ExitTrailing     = "trailing_stop"
)

// ExitDecision is the single resolved action for one position and tick.
type ExitDecision struct {
	Reason  string
	Partial bool
	Ratio   float64 // fraction of current notional to unwind, 1 for full
}

// ExitEngine evaluates every exit trigger per open position per tick and
// resolves them to at most one action. It mutates only the position's
// high-water mark, stop stage, and per-strategy hold state; the actual
// unwind is the controller's job.
type ExitEngine struct {
	cfg        *config.Config
	evaluators map[string]domain.ExitEvaluator
	logger     *zap.Logger
}

func NewExitEngine(cfg *config.Config, evaluators map[string]domain.ExitEvaluator, logger *zap.Logger) *ExitEngine {
	if evaluators == nil {
		evaluators = make(map[string]domain.ExitEvaluator)
	}
	return &ExitEngine{cfg: cfg, evaluators: evaluators, logger: logger}
}

// SetConfig swaps the active configuration after a hot reload.
func (e *ExitEngine) SetConfig(cfg *config.Config) { e.cfg = cfg }

// Evaluate returns nil when the position should be held this tick.
func (e *ExitEngine) Evaluate(pos *domain.Position, snap *domain.MarketSnapshot, now time.Time) *ExitDecision {
	pos.UpdateHighWater(snap.Mid)
	pnl := pos.PnLPct(snap.Mid)
	ex := e.cfg.Exits

	// Strategy evaluators run first: an active hold suppresses every other
	// trigger, and a close from an exclusive strategy outranks the rest.
	var closeVerdict *domain.ExitVerdict
	for _, name := range pos.Strategies {
		eval, ok := e.evaluators[name]
		if !ok {
			continue
		}
		state := pos.StrategyState[name]
		v := eval.Evaluate(state, pos, snap)
		if !v.Close {
			if !v.HoldUntil.IsZero() {
				if state != nil {
					state.HoldUntil = v.HoldUntil
				}
				if now.Before(v.HoldUntil) {
					return nil
				}
			}
			continue
		}
		if closeVerdict == nil || (v.Exclusive && !closeVerdict.Exclusive) {
			verdict := v
			closeVerdict = &verdict
		}
	}
	// A previously granted hold keeps suppressing until it expires.
	for _, state := range pos.StrategyState {
		if state != nil && !state.HoldUntil.IsZero() && now.Before(state.HoldUntil) {
			return nil
		}
	}
	if closeVerdict != nil {
		return &ExitDecision{Reason: closeVerdict.Reason, Ratio: 1}
	}

	// Time stop: risk-level-dependent maximum hold.
	if maxHold, ok := ex.MaxHoldSec[pos.EntryRisk]; ok && maxHold > 0 && pos.HoldSeconds(now) >= maxHold {
		return &ExitDecision{Reason: ExitTimeStop, Ratio: 1}
	}

	// Tiered take-profit / stop-loss.
	if ex.TakeProfitPct > 0 && pnl >= ex.TakeProfitPct {
		return &ExitDecision{Reason: ExitTpSl, Ratio: 1}
	}
	if pos.TpSlStage == 0 && ex.SoftStopPct > 0 && pnl <= -ex.SoftStopPct {
		trim := pos.TrimRatio
		if trim <= 0 {
			trim = ex.TrimRatio
		}
		pos.TpSlStage = 1
		pos.MinHoldSec += ex.HoldExtendSec
		return &ExitDecision{Reason: ExitTpSl, Partial: true, Ratio: trim}
	}
	if pos.TpSlStage >= 1 && ex.HardStopPct > 0 && pnl <= -ex.HardStopPct {
		pos.TpSlStage = 2
		return &ExitDecision{Reason: ExitTpSl, Ratio: 1}
	}

	// Breakeven stop: once the high-water mark armed it, exit on a full
	// round trip to flat.
	if ex.BreakevenTrigger > 0 && pos.BestPnLPct >= ex.BreakevenTrigger &&
		pos.MinHoldElapsed(now) && pnl <= 0 {
		return &ExitDecision{Reason: ExitBreakeven, Ratio: 1}
	}

	// Edge decay: dead zone and invalidation.
	if pos.MinHoldElapsed(now) {
		if reason, hit := e.edgeExit(pos, snap, now); hit {
			return &ExitDecision{Reason: reason, Ratio: 1}
		}
	}

	// Trailing stop: give back too much of the high-water profit.
	if ex.TrailingTrigger > 0 && pos.BestPnLPct >= ex.TrailingTrigger &&
		pos.BestPnLPct-pnl >= ex.TrailingRetrace {
		return &ExitDecision{Reason: ExitTrailing, Ratio: 1}
	}

	return nil
}

// edgeExit decays the entry score toward 0.5 with time constant tau and
// compares the remaining edge, oriented to the held side, against trading
// costs.
func (e *ExitEngine) edgeExit(pos *domain.Position, snap *domain.MarketSnapshot, now time.Time) (string, bool) {
	ex := e.cfg.Exits
	tau := ex.DecayTauSec
	if tau <= 0 {
		tau = 300
	}
	estimate := 0.5 + (pos.EntryScore-0.5)*math.Exp(-pos.HoldSeconds(now)/tau)

	edge := estimate - snap.Mid
	if pos.Side == domain.SideNo {
		edge = -edge
	}

	costs := ex.FeeRate + snap.Spread()/2 + ex.RiskPremium
	if edge < -costs {
		return ExitInvalidation, true
	}
	if math.Abs(edge) <= costs {
		return ExitDeadZone, true
	}
	return "", false
}
