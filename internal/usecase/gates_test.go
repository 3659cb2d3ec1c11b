package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"github.com/vitos/trade_controller/internal/usecase"
	"go.uber.org/zap"
)

type gateFixture struct {
	cfg      *config.Config
	freq     *usecase.FrequencyLimiter
	dedup    *usecase.DedupLedger
	guard    *usecase.DailyGuard
	store    *usecase.PositionStore
	pipeline *usecase.GatePipeline
	now      time.Time
}

func newGateFixture(mutate func(*config.Config)) *gateFixture {
	cfg := &config.Config{}
	cfg.Risk.Balance = 10000
	cfg.Risk.ReferenceBalance = 10000
	cfg.Risk.MinOrderNotional = 10
	cfg.Guards.Timezone = "UTC"
	cfg.Guards.MaxDayLossAbs = 100
	cfg.Guards.Cooldown = config.Duration(30 * time.Minute)
	cfg.Guards.RecoveryRatio = 0.25
	if mutate != nil {
		mutate(cfg)
	}

	f := &gateFixture{
		cfg:   cfg,
		freq:  usecase.NewFrequencyLimiter(),
		dedup: usecase.NewDedupLedger(5*time.Minute, 0.10, 100),
		guard: usecase.NewDailyGuard(cfg.Guards),
		store: usecase.NewPositionStore(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.guard.RolloverIfNeeded(f.now)
	f.pipeline = usecase.NewGatePipeline(cfg, f.freq, f.dedup, f.guard, f.store, zap.NewNop())
	return f
}

func gateSnap() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		MarketID:  "mkt-1",
		Bid:       0.39,
		Ask:       0.41,
		Mid:       0.40,
		LastTrade: 0.40,
		Volume24h: 10000,
		DepthYes:  1000,
		DepthNo:   1000,
		RiskLevel: domain.RiskMedium,
	}
}

func gateOrder(notional float64, strategies ...string) *domain.Order {
	return &domain.Order{
		MarketID:   "mkt-1",
		Side:       domain.SideYes,
		Notional:   notional,
		Score:      0.55,
		Strategies: strategies,
	}
}

func (f *gateFixture) admit(order *domain.Order) (string, bool) {
	return f.pipeline.Admit(order, gateSnap(), domain.FeedHealth{ValidationCoveragePct: 100}, 0, f.now)
}

func TestGates_CleanOrderPasses(t *testing.T) {
	f := newGateFixture(nil)
	order := gateOrder(100)
	reason, ok := f.admit(order)
	require.True(t, ok)
	require.Empty(t, reason)
	require.Equal(t, 100.0, order.Notional)
	require.False(t, order.Clamped)
}

func TestGates_MinSizeReject(t *testing.T) {
	f := newGateFixture(nil)
	reason, ok := f.admit(gateOrder(5))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonMinSize, reason)
}

func TestGates_LiquidityFractionClampsSize(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.LiquidityCapFraction = 0.05 // 5% of 1000 depth = 50
	})
	order := gateOrder(80)
	_, ok := f.admit(order)
	require.True(t, ok)
	require.Equal(t, 50.0, order.Notional)
	require.True(t, order.Clamped)
	require.Equal(t, 80.0, order.ClampedFrom)
}

func TestGates_BalanceRatioScalesSize(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.Balance = 5000 // half the reference balance
	})
	order := gateOrder(100)
	_, ok := f.admit(order)
	require.True(t, ok)
	require.Equal(t, 50.0, order.Notional)
}

func TestGates_TotalExposureHeadroom(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.TotalExposureCap = 1000
		cfg.Risk.ClampToHeadroom = true
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 900, 0.50)

	order := gateOrder(200)
	reason, ok := f.admit(order)
	require.True(t, ok, "reason=%s", reason)
	require.Equal(t, 100.0, order.Notional, "clamped into the remaining headroom")
	require.True(t, order.Clamped)

	// Without clamping the same order is rejected outright.
	f = newGateFixture(func(cfg *config.Config) {
		cfg.Risk.TotalExposureCap = 1000
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 900, 0.50)
	reason, ok = f.admit(gateOrder(200))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonTotalExposure, reason)
}

func TestGates_HeadroomBelowMinSizeRejects(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.TotalExposureCap = 1000
		cfg.Risk.ClampToHeadroom = true
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 995, 0.50)

	reason, ok := f.admit(gateOrder(200))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonTotalExposure, reason)
}

func TestGates_KillSwitchBlocks(t *testing.T) {
	f := newGateFixture(nil)
	f.guard.RecordRealized("mkt-9", -150, f.now)

	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonKillSwitch, reason)
}

func TestGates_RecoveryModeScalesApprovedSize(t *testing.T) {
	f := newGateFixture(nil)
	f.guard.RecordRealized("mkt-9", -150, f.now)
	f.now = f.now.Add(31 * time.Minute) // cooldown elapsed, still breached

	order := gateOrder(100)
	reason, ok := f.admit(order)
	require.True(t, ok, "reason=%s", reason)
	require.Equal(t, 25.0, order.Notional)
	require.True(t, order.RecoveryScaled)
}

func TestGates_GlobalRateLimit(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Loop.GlobalMaxOrders = 2
		cfg.Loop.GlobalWindow = config.Duration(time.Minute)
	})
	f.freq.Record(usecase.GlobalKey(), f.now)
	f.freq.Record(usecase.GlobalKey(), f.now)

	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonOrderRateLimit, reason)
}

func TestGates_StrategyRateLimit(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Strategies = map[string]config.StrategyRules{
			"momentum": {Global: &config.FrequencyRule{MaxOrders: 3, Window: config.Duration(time.Minute)}},
		}
	})
	for i := 0; i < 3; i++ {
		f.freq.RecordStrategy("momentum", "mkt-1", domain.SideYes, f.now)
	}

	reason, ok := f.admit(gateOrder(100, "momentum"))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonStrategyRateLimit, reason)

	// A strategy without configured rules is unconstrained.
	reason, ok = f.admit(gateOrder(100, "value"))
	require.True(t, ok, "reason=%s", reason)
}

func TestGates_StrategyExposureCap(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Strategies = map[string]config.StrategyRules{
			"momentum": {ExposureCap: 500},
		}
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 450, 0.50, "momentum")

	reason, ok := f.admit(gateOrder(100, "momentum"))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonStrategyExposure, reason)
}

func TestGates_DuplicateIntent(t *testing.T) {
	f := newGateFixture(nil)
	f.dedup.Record(&domain.OrderIntentRecord{
		MarketID: "mkt-1", Side: domain.SideYes, Notional: 100, CreatedAt: f.now,
	})

	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonDuplicate, reason)
}

func TestGates_MarketCooldown(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.MarketCooldown = config.Duration(10 * time.Minute)
	})
	openPosition(f.store, "mkt-1", domain.SideYes, 100, 0.40)
	f.store.Reduce("mkt-1", 100, 250, "tp_sl", nil, f.now.Add(-time.Minute))

	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonMarketCooldown, reason)
}

func TestGates_OnePositionPerMarket(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.MaxPositionsPerMkt = 1
	})
	openPosition(f.store, "mkt-1", domain.SideYes, 100, 0.40)

	reason, ok := f.admit(gateOrder(50))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonMarketPositions, reason)
}

func TestGates_OppositeSideEntryRejected(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.MaxPositionsPerMkt = 2
	})
	openPosition(f.store, "mkt-1", domain.SideYes, 100, 0.40)

	order := gateOrder(50)
	order.Side = domain.SideNo
	reason, ok := f.admit(order)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonOppositeSideOpen, reason)

	// A same-side add to the open position is still admitted.
	reason, ok = f.admit(gateOrder(50))
	require.True(t, ok, "reason=%s", reason)
}

func TestGates_MaxOpenPositions(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.MaxOpenPositions = 2
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 100, 0.40)
	openPosition(f.store, "mkt-3", domain.SideYes, 100, 0.40)

	reason, ok := f.admit(gateOrder(50))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonMaxPositions, reason)
}

func TestGates_SideBalanceNeedsOppositeExposure(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.SideBalanceRatio = 2
	})

	// No opposite exposure yet: the ratio cannot bind.
	reason, ok := f.admit(gateOrder(250))
	require.True(t, ok, "reason=%s", reason)

	f = newGateFixture(func(cfg *config.Config) {
		cfg.Risk.SideBalanceRatio = 2
	})
	openPosition(f.store, "mkt-2", domain.SideNo, 100, 0.50)
	reason, ok = f.admit(gateOrder(250))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonSideBalance, reason)
}

func TestGates_ConcentrationLimit(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.MaxConcentration = 0.25
	})
	openPosition(f.store, "mkt-2", domain.SideYes, 100, 0.40)

	// 100 into mkt-1 against 200 total is 50% concentration.
	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonRiskEngine, reason)
}

func TestGates_MarketKillSwitch(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Guards.MarketMaxLossAbs = 50
		cfg.Guards.MaxDayLossAbs = 0
	})
	f.guard.RecordRealized("mkt-1", -60, f.now)

	reason, ok := f.admit(gateOrder(100))
	require.False(t, ok)
	require.Equal(t, usecase.ReasonMarketKillSwitch, reason)
}

func TestGates_LoopSubmissionCap(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Loop.MaxOrdersPerIteration = 2
	})
	reason, ok := f.pipeline.Admit(gateOrder(100), gateSnap(), domain.FeedHealth{ValidationCoveragePct: 100}, 2, f.now)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonLoopCap, reason)
}

func TestGates_PriceGuard(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Risk.PriceGuard = config.PriceGuard{MaxAbsDeviation: 0.02, TickSize: 0.01}
	})
	snap := gateSnap()
	snap.Ask = 0.47 // far above the 0.40 last trade

	reason, ok := f.pipeline.Admit(gateOrder(100), snap, domain.FeedHealth{ValidationCoveragePct: 100}, 0, f.now)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonPriceGuard, reason)
}

func TestGates_ValidationCoverageHalt(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Loop.MinValidationCoverage = 60
	})
	reason, ok := f.pipeline.Admit(gateOrder(100), gateSnap(), domain.FeedHealth{ValidationCoveragePct: 40}, 0, f.now)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonFallbackHalt, reason)
}

func TestGates_FallbackStrategyBehaviour(t *testing.T) {
	f := newGateFixture(func(cfg *config.Config) {
		cfg.Strategies = map[string]config.StrategyRules{
			"cautious": {FallbackSkip: true},
			"sizedown": {FallbackSizeFactor: 0.5},
		}
	})
	degraded := domain.FeedHealth{FallbackActive: true, ValidationCoveragePct: 100}

	reason, ok := f.pipeline.Admit(gateOrder(100, "cautious"), gateSnap(), degraded, 0, f.now)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonStrategySkip, reason)

	order := gateOrder(100, "sizedown")
	reason, ok = f.pipeline.Admit(order, gateSnap(), degraded, 0, f.now)
	require.True(t, ok, "reason=%s", reason)
	require.Equal(t, 50.0, order.Notional)
}

func TestGates_DepthCap(t *testing.T) {
	f := newGateFixture(nil)
	snap := gateSnap()
	snap.DepthYes = 5 // below min_order_notional

	reason, ok := f.pipeline.Admit(gateOrder(100), snap, domain.FeedHealth{ValidationCoveragePct: 100}, 0, f.now)
	require.False(t, ok)
	require.Equal(t, usecase.ReasonDepthCap, reason)
}
