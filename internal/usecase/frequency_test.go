package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_controller/internal/domain"
	"github.com/vitos/trade_controller/internal/usecase"
)

func TestFrequencyLimiter_WindowCap(t *testing.T) {
	f := usecase.NewFrequencyLimiter()
	key := usecase.StrategyKey("momentum", "mkt-1", domain.SideYes)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	for i := 0; i < 3; i++ {
		require.True(t, f.Allow(key, 3, window, now), "submission %d should fit", i)
		f.Record(key, now)
		now = now.Add(time.Second)
	}
	require.False(t, f.Allow(key, 3, window, now), "fourth submission inside the window must be blocked")

	// Once the oldest stamp falls out of the window the key frees up.
	later := now.Add(window)
	require.True(t, f.Allow(key, 3, window, later))
}

func TestFrequencyLimiter_ZeroLimitDisables(t *testing.T) {
	f := usecase.NewFrequencyLimiter()
	now := time.Now()
	require.True(t, f.Allow(usecase.GlobalKey(), 0, time.Minute, now))
	require.True(t, f.Allow(usecase.GlobalKey(), 5, 0, now))
}

func TestFrequencyLimiter_RecordStrategyCoversAllScopes(t *testing.T) {
	f := usecase.NewFrequencyLimiter()
	now := time.Now()
	f.RecordStrategy("momentum", "mkt-1", domain.SideYes, now)

	window := time.Minute
	keys := []string{
		usecase.StrategyKey("momentum", "", ""),
		usecase.StrategyKey("momentum", "mkt-1", ""),
		usecase.StrategyKey("momentum", "", domain.SideYes),
		usecase.StrategyKey("momentum", "mkt-1", domain.SideYes),
	}
	for _, key := range keys {
		require.False(t, f.Allow(key, 1, window, now), "scope %s should count the submission", key)
	}
	// A different market under the same strategy only hits the broader scopes.
	require.True(t, f.Allow(usecase.StrategyKey("momentum", "mkt-2", domain.SideYes), 1, window, now))
}

func TestFrequencyLimiter_PruneDropsStaleKeys(t *testing.T) {
	f := usecase.NewFrequencyLimiter()
	now := time.Now()
	f.Record("a", now.Add(-2*time.Hour))
	f.Record("b", now)

	f.Prune(time.Hour, now)
	require.True(t, f.Allow("a", 1, 3*time.Hour, now), "stale stamps must not survive a prune")
	require.False(t, f.Allow("b", 1, time.Hour, now))
}
