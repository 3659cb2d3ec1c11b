package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/trade_controller/internal/domain"
)

// FrequencyLimiter keeps sliding-window submission counters, global and per
// strategy x {none, market, side, market+side}. The control loop is the only
// caller, so no locking is needed.
type FrequencyLimiter struct {
	windows map[string][]time.Time
}

func NewFrequencyLimiter() *FrequencyLimiter {
	return &FrequencyLimiter{windows: make(map[string][]time.Time)}
}

// Key builders. An empty market/side narrows nothing.
func GlobalKey() string { return "global" }

func StrategyKey(strategy, market string, side domain.Side) string {
	return fmt.Sprintf("%s|%s|%s", strategy, market, side)
}

// Allow reports whether one more submission fits the window.
func (f *FrequencyLimiter) Allow(key string, maxOrders int, window time.Duration, now time.Time) bool {
	if maxOrders <= 0 || window <= 0 {
		return true
	}
	return f.count(key, window, now) < maxOrders
}

// Record notes a submission under the key.
func (f *FrequencyLimiter) Record(key string, now time.Time) {
	f.windows[key] = append(f.windows[key], now)
}

// RecordStrategy notes a submission under every scope of a strategy.
func (f *FrequencyLimiter) RecordStrategy(strategy, market string, side domain.Side, now time.Time) {
	f.Record(StrategyKey(strategy, "", ""), now)
	f.Record(StrategyKey(strategy, market, ""), now)
	f.Record(StrategyKey(strategy, "", side), now)
	f.Record(StrategyKey(strategy, market, side), now)
}

func (f *FrequencyLimiter) count(key string, window time.Duration, now time.Time) int {
	stamps := f.windows[key]
	cutoff := now.Add(-window)
	// Prune in place while counting; stamps are appended in order.
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		stamps = stamps[i:]
		f.windows[key] = stamps
	}
	return len(stamps)
}

// Prune drops every timestamp older than the widest window in use.
func (f *FrequencyLimiter) Prune(maxWindow time.Duration, now time.Time) {
	cutoff := now.Add(-maxWindow)
	for key, stamps := range f.windows {
		i := 0
		for ; i < len(stamps); i++ {
			if stamps[i].After(cutoff) {
				break
			}
		}
		if i == len(stamps) {
			delete(f.windows, key)
		} else if i > 0 {
			f.windows[key] = stamps[i:]
		}
	}
}
