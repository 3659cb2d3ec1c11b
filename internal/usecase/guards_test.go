package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/usecase"
)

func guardConfig() config.Guards {
	return config.Guards{
		Timezone:         "UTC",
		MaxDayLossAbs:    100,
		Cooldown:         config.Duration(30 * time.Minute),
		RecoveryRatio:    0.25,
		MarketMaxLossAbs: 50,
	}
}

func TestDailyGuard_AbsLossTripsAndCoolsDown(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.RolloverIfNeeded(now)

	g.RecordRealized("mkt-1", -120, now)
	require.True(t, g.Blocked(now), "day loss past the absolute cap must halt entries")
	require.Equal(t, 1.0, g.SizeFactor(now), "no recovery scaling while fully blocked")

	afterCooldown := now.Add(31 * time.Minute)
	require.False(t, g.Blocked(afterCooldown), "cooldown elapsed, entries resume")
	require.Equal(t, 0.25, g.SizeFactor(afterCooldown), "still breached, so sizes run at the recovery ratio")

	g.RecordRealized("mkt-1", 200, afterCooldown)
	require.False(t, g.Blocked(afterCooldown))
	require.Equal(t, 1.0, g.SizeFactor(afterCooldown), "day back above the threshold ends recovery")
}

func TestDailyGuard_PctLossNeedsEquityBase(t *testing.T) {
	cfg := guardConfig()
	cfg.MaxDayLossAbs = 0
	cfg.MaxDayLossPct = 0.05
	g := usecase.NewDailyGuard(cfg)
	now := time.Now().UTC()
	g.RolloverIfNeeded(now)

	g.RecordRealized("mkt-1", -60, now)
	require.False(t, g.Blocked(now), "no equity base, pct threshold cannot fire")

	g.SetEquity(1000)
	g.RecordRealized("mkt-1", -0.01, now)
	require.True(t, g.Blocked(now), "-60 on 1000 equity is past 5%")
}

func TestDailyGuard_MarketKillSwitch(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	now := time.Now().UTC()
	g.RolloverIfNeeded(now)

	g.RecordRealized("mkt-1", -60, now)
	require.True(t, g.MarketBlocked("mkt-1"))
	require.False(t, g.MarketBlocked("mkt-2"))
	require.False(t, g.Blocked(now), "market cap tripped but the day cap did not")
}

func TestDailyGuard_DayRolloverResets(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	g.RolloverIfNeeded(day1)
	g.RecordRealized("mkt-1", -120, day1)
	require.True(t, g.Blocked(day1))

	day2 := day1.Add(2 * time.Hour)
	require.True(t, g.RolloverIfNeeded(day2))
	require.Equal(t, 0.0, g.DayPnL())
	require.False(t, g.Blocked(day2))
	require.False(t, g.MarketBlocked("mkt-1"))
}

func TestDailyGuard_SnapshotRoundTrip(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.RolloverIfNeeded(now)
	g.RecordRealized("mkt-1", -120, now)

	snap := g.Snapshot()

	restored := usecase.NewDailyGuard(guardConfig())
	restored.Restore(snap, now.Add(time.Hour))
	require.Equal(t, -120.0, restored.DayPnL())
	require.True(t, restored.Blocked(now.Add(time.Hour)))
	require.True(t, restored.MarketBlocked("mkt-1"))
}

func TestDailyGuard_StaleSnapshotDiscarded(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.RolloverIfNeeded(now)
	g.RecordRealized("mkt-1", -120, now)
	snap := g.Snapshot()

	nextDay := now.Add(24 * time.Hour)
	restored := usecase.NewDailyGuard(guardConfig())
	restored.Restore(snap, nextDay)
	require.Equal(t, 0.0, restored.DayPnL(), "yesterday's snapshot must not carry into a new day")
	require.False(t, restored.Blocked(nextDay))
}

func TestDailyGuard_StateDocument(t *testing.T) {
	g := usecase.NewDailyGuard(guardConfig())
	now := time.Now().UTC()
	g.RolloverIfNeeded(now)
	g.RecordRealized("mkt-1", -120, now)

	st := g.State(now)
	require.True(t, st.Active)
	require.Equal(t, "daily_loss_limit", st.Reason)
	require.Equal(t, -120.0, st.DayPnL)
	require.False(t, st.RecoveryMode)

	st = g.State(now.Add(time.Hour))
	require.False(t, st.Active)
	require.True(t, st.RecoveryMode)
}
