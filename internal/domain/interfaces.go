package domain

import (
	"context"
	"time"
)

// Executor submits one order to an exchange backend. Implementations may
// fill partially or asynchronously; a merely pending order reports
// FilledNotional == 0 rather than an error.
type Executor interface {
	Execute(ctx context.Context, marketID string, side Side, notional float64, snap *MarketSnapshot) (*ExecutionReport, error)
}

// SignalGenerator proposes a candidate order for one snapshot.
// A "no signal" result is (nil, reason) with a non-empty hold reason.
type SignalGenerator interface {
	GenerateOrder(ctx context.Context, snap *MarketSnapshot) (*Order, string, error)
}

// ExitVerdict is what a strategy evaluator decides for one tick.
type ExitVerdict struct {
	Close     bool
	Reason    string
	Exclusive bool
	HoldUntil time.Time // optional expiry for a hold
	Metadata  map[string]string
}

// ExitEvaluator is implemented once per strategy. CaptureEntry produces the
// opaque state stored inside the position; Evaluate consumes it later.
type ExitEvaluator interface {
	CaptureEntry(order *Order, report *ExecutionReport) *StrategyState
	Evaluate(state *StrategyState, pos *Position, snap *MarketSnapshot) ExitVerdict
}

// MarketDataService delivers snapshots and ingestion health.
type MarketDataService interface {
	GetSnapshots(ctx context.Context) ([]*MarketSnapshot, error)
	Health() FeedHealth
}

// PositionRepository persists the open-positions map.
type PositionRepository interface {
	SavePositions(ctx context.Context, positions []*Position) error
	LoadPositions(ctx context.Context) ([]*Position, error)
}

// LedgerRepository persists the append-only intent and exit ledgers.
type LedgerRepository interface {
	SaveIntent(ctx context.Context, rec *OrderIntentRecord) error
	ListIntents(ctx context.Context, since time.Time) ([]*OrderIntentRecord, error)
	SaveExit(ctx context.Context, rec *ExitRecord) error
	ListExits(ctx context.Context, limit int) ([]*ExitRecord, error)
}

// StatusRepository persists the periodic status document.
type StatusRepository interface {
	SaveStatus(ctx context.Context, doc []byte) error
}
