package usecase

import (
	"math"
	"time"

	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// Rejection reason codes. Every rejected order carries exactly one.
const (
	ReasonFallbackHalt      = "fallback_halt"
	ReasonOrderRateLimit    = "order_rate_limit"
	ReasonKillSwitch        = "kill_switch"
	ReasonStrategySkip      = "strategy_fallback_skip"
	ReasonPriceGuard        = "price_guard"
	ReasonMinSize           = "min_size"
	ReasonStrategyRateLimit = "strategy_rate_limit"
	ReasonStrategyExposure  = "strategy_exposure"
	ReasonDepthCap          = "depth_cap"
	ReasonDuplicate         = "duplicate_order"
	ReasonMarketCooldown    = "market_cooldown"
	ReasonMarketPositions   = "market_positions"
	ReasonOppositeSideOpen  = "opposite_side_open"
	ReasonMarketExposure    = "market_exposure"
	ReasonMaxPositions      = "max_positions"
	ReasonTotalExposure     = "total_exposure"
	ReasonSideBalance       = "side_balance"
	ReasonRiskEngine        = "risk_engine"
	ReasonMarketKillSwitch  = "market_kill_switch"
	ReasonLoopCap           = "loop_cap"
)

// GatePipeline runs the ordered, short-circuiting admission checks. It
// mutates the order's notional (clamps, degrades, recovery scaling) and
// returns the rejection reason when the order must not be submitted.
type GatePipeline struct {
	cfg    *config.Config
	freq   *FrequencyLimiter
	dedup  *DedupLedger
	guard  *DailyGuard
	store  *PositionStore
	logger *zap.Logger
}

func NewGatePipeline(cfg *config.Config, freq *FrequencyLimiter, dedup *DedupLedger, guard *DailyGuard, store *PositionStore, logger *zap.Logger) *GatePipeline {
	return &GatePipeline{cfg: cfg, freq: freq, dedup: dedup, guard: guard, store: store, logger: logger}
}

// SetConfig swaps the active configuration after a hot reload.
func (g *GatePipeline) SetConfig(cfg *config.Config) { g.cfg = cfg }

// Admit evaluates every gate in the fixed order. On success it returns
// ("", true) with the order sized for submission; on rejection it returns
// the reason code and false. submitted is the count of orders already
// submitted this iteration.
func (g *GatePipeline) Admit(order *domain.Order, snap *domain.MarketSnapshot, health domain.FeedHealth, submitted int, now time.Time) (string, bool) {
	cfg := g.cfg

	// Fallback/validation halt.
	if cfg.Loop.MinValidationCoverage > 0 && health.ValidationCoveragePct < cfg.Loop.MinValidationCoverage {
		return ReasonFallbackHalt, false
	}

	// Global order frequency.
	if !g.freq.Allow(GlobalKey(), cfg.Loop.GlobalMaxOrders, cfg.Loop.GlobalWindow.Std(), now) {
		return ReasonOrderRateLimit, false
	}

	// Global kill-switch.
	if g.guard.Blocked(now) {
		return ReasonKillSwitch, false
	}

	// Strategy fallback skip.
	if health.FallbackActive {
		for _, name := range order.Strategies {
			if r := cfg.Rules(name); r != nil && r.FallbackSkip {
				return ReasonStrategySkip, false
			}
		}
	}

	// Price guard.
	if !g.priceGuardOK(order.Side, snap) {
		return ReasonPriceGuard, false
	}

	// Sizing clamp: balance ratio, liquidity cap, VaR cap, hard max.
	notional := order.Notional
	if cfg.Risk.ReferenceBalance > 0 && cfg.Risk.Balance > 0 && cfg.Risk.Balance < cfg.Risk.ReferenceBalance {
		notional *= cfg.Risk.Balance / cfg.Risk.ReferenceBalance
	}
	if cfg.Risk.LiquidityCapFraction > 0 {
		if cap := snap.Depth(order.Side) * cfg.Risk.LiquidityCapFraction; cap > 0 {
			notional = math.Min(notional, cap)
		}
	}
	if cfg.Risk.VarCapFraction > 0 && cfg.Risk.Balance > 0 {
		notional = math.Min(notional, cfg.Risk.Balance*cfg.Risk.VarCapFraction)
	}
	if cfg.Risk.MaxOrderNotional > 0 {
		notional = math.Min(notional, cfg.Risk.MaxOrderNotional)
	}
	if notional < cfg.Risk.MinOrderNotional {
		return ReasonMinSize, false
	}
	if notional < order.Notional {
		order.Clamped = true
		order.ClampedFrom = order.Notional
	}
	order.Notional = notional

	// Fallback size degrade.
	if health.FallbackActive {
		factor := 1.0
		for _, name := range order.Strategies {
			if r := cfg.Rules(name); r != nil && r.FallbackSizeFactor > 0 && r.FallbackSizeFactor < factor {
				factor = r.FallbackSizeFactor
			}
		}
		if factor < 1 {
			order.Notional *= factor
			if order.Notional < cfg.Risk.MinOrderNotional {
				return ReasonMinSize, false
			}
		}
	}

	// Per-strategy frequency windows.
	for _, name := range order.Strategies {
		r := cfg.Rules(name)
		if r == nil {
			continue
		}
		checks := []struct {
			rule *config.FrequencyRule
			key  string
		}{
			{r.Global, StrategyKey(name, "", "")},
			{r.PerMarket, StrategyKey(name, order.MarketID, "")},
			{r.PerSide, StrategyKey(name, "", order.Side)},
			{r.PerMarketSide, StrategyKey(name, order.MarketID, order.Side)},
		}
		for _, c := range checks {
			if c.rule.Enabled() && !g.freq.Allow(c.key, c.rule.MaxOrders, c.rule.Window.Std(), now) {
				return ReasonStrategyRateLimit, false
			}
		}
	}

	// Per-strategy exposure caps.
	for _, name := range order.Strategies {
		if r := cfg.Rules(name); r != nil && r.ExposureCap > 0 {
			if g.store.StrategyExposure(name)+order.Notional > r.ExposureCap {
				return ReasonStrategyExposure, false
			}
		}
	}

	// Depth cap: the side must show at least the minimum tradable size.
	if cfg.Risk.MinOrderNotional > 0 && snap.Depth(order.Side) < cfg.Risk.MinOrderNotional {
		return ReasonDepthCap, false
	}

	// Dedup window.
	if g.dedup.IsDuplicate(order.MarketID, order.Side, order.Notional, now) {
		return ReasonDuplicate, false
	}

	// Per-market cooldown, position count, exposure cap.
	if cfg.Risk.MarketCooldown > 0 {
		if closed, ok := g.store.LastClosed(order.MarketID); ok && now.Sub(closed) < cfg.Risk.MarketCooldown.Std() {
			return ReasonMarketCooldown, false
		}
	}
	existing := g.store.Get(order.MarketID)
	if existing != nil && cfg.Risk.MaxPositionsPerMkt > 0 && cfg.Risk.MaxPositionsPerMkt <= 1 {
		return ReasonMarketPositions, false
	}
	// One book per market: an opposite-side entry would silently replace the
	// open position instead of unwinding it through the exit engine.
	if existing != nil && existing.Side != order.Side {
		return ReasonOppositeSideOpen, false
	}
	if cfg.Risk.MarketExposureCap > 0 && g.store.MarketExposure(order.MarketID)+order.Notional > cfg.Risk.MarketExposureCap {
		return ReasonMarketExposure, false
	}

	// Global position count and total exposure ceiling.
	if existing == nil && cfg.Risk.MaxOpenPositions > 0 && g.store.Count() >= cfg.Risk.MaxOpenPositions {
		return ReasonMaxPositions, false
	}
	if cfg.Risk.TotalExposureCap > 0 {
		headroom := cfg.Risk.TotalExposureCap - g.store.TotalExposure()
		if order.Notional > headroom {
			if !cfg.Risk.ClampToHeadroom || headroom < cfg.Risk.MinOrderNotional {
				return ReasonTotalExposure, false
			}
			order.Clamped = true
			order.ClampedFrom = order.Notional
			order.Notional = headroom
		}
	}

	// Side balance ratio. Only meaningful once the other side holds exposure.
	if cfg.Risk.SideBalanceRatio > 0 {
		other := g.store.SideExposure(order.Side.Opposite())
		if other > 0 && (g.store.SideExposure(order.Side)+order.Notional)/other > cfg.Risk.SideBalanceRatio {
			return ReasonSideBalance, false
		}
	}

	// Portfolio-level risk checks: balance ceiling and concentration.
	if cfg.Risk.Balance > 0 && g.store.TotalExposure()+order.Notional > cfg.Risk.Balance {
		return ReasonRiskEngine, false
	}
	if cfg.Risk.MaxConcentration > 0 {
		total := g.store.TotalExposure() + order.Notional
		if total > 0 && (g.store.MarketExposure(order.MarketID)+order.Notional)/total > cfg.Risk.MaxConcentration {
			return ReasonRiskEngine, false
		}
	}

	// Per-market kill-switch.
	if g.guard.MarketBlocked(order.MarketID) {
		return ReasonMarketKillSwitch, false
	}

	// Per-iteration submission cap.
	if cfg.Loop.MaxOrdersPerIteration > 0 && submitted >= cfg.Loop.MaxOrdersPerIteration {
		return ReasonLoopCap, false
	}

	// Recovery mode scales approved sizes down until day P&L recovers.
	if factor := g.guard.SizeFactor(now); factor < 1 {
		order.Notional *= factor
		order.RecoveryScaled = true
		if order.Notional < cfg.Risk.MinOrderNotional {
			return ReasonMinSize, false
		}
	}

	return "", true
}

// priceGuardOK checks the side's executable price against the last trade
// (falling back to mid) within absolute and relative tolerances, rounded
// out to the tick.
func (g *GatePipeline) priceGuardOK(side domain.Side, snap *domain.MarketSnapshot) bool {
	pg := g.cfg.Risk.PriceGuard
	if pg.MaxAbsDeviation <= 0 && pg.MaxRelDeviation <= 0 {
		return true
	}

	ref := snap.LastTrade
	if ref <= 0 {
		ref = snap.Mid
	}
	px := snap.Ask // cost of a yes share
	if side == domain.SideNo {
		ref = 1 - ref
		px = 1 - snap.Bid // cost of a no share
	}
	if ref <= 0 || px <= 0 {
		return true
	}

	tol := 0.0
	if pg.MaxAbsDeviation > 0 {
		tol = pg.MaxAbsDeviation
	}
	if pg.MaxRelDeviation > 0 {
		rel := ref * pg.MaxRelDeviation
		if tol == 0 || rel < tol {
			tol = rel
		}
	}
	lo, hi := ref-tol, ref+tol
	if pg.TickSize > 0 {
		lo = math.Floor(lo/pg.TickSize) * pg.TickSize
		hi = math.Ceil(hi/pg.TickSize) * pg.TickSize
	}
	return px >= lo && px <= hi
}
