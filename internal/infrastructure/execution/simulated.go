package execution

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// Simulated is an in-memory executor that fills orders against the
// snapshot's visible depth at the touch price. It never raises for a
// pending order; a shortfall is reported as a partial fill.
type Simulated struct {
	feeRate float64
	logger  *zap.Logger
}

func NewSimulated(feeRate float64, logger *zap.Logger) *Simulated {
	return &Simulated{feeRate: feeRate, logger: logger}
}

func (s *Simulated) Execute(ctx context.Context, marketID string, side domain.Side, notional float64, snap *domain.MarketSnapshot) (*domain.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	price := snap.Ask
	if side == domain.SideNo {
		price = 1 - snap.Bid
	}

	rep := &domain.ExecutionReport{
		OrderID:           uuid.NewString(),
		MarketID:          marketID,
		Side:              side,
		RequestedNotional: notional,
		AvgPrice:          price,
		Status:            domain.ExecRejected,
		Mode:              "simulated",
		CreatedAt:         time.Now(),
	}
	if price <= 0 || price >= 1 {
		s.logger.Warn("unfillable price, rejecting",
			zap.String("market", marketID), zap.Float64("price", price))
		return rep, nil
	}
	rep.RequestedShares = notional / price

	filled := notional
	depth := snap.Depth(side)
	if depth > 0 {
		filled = math.Min(notional, depth)
	}
	rep.FilledNotional = filled
	rep.FilledShares = filled / price
	rep.Fees = filled * s.feeRate
	if filled >= notional {
		rep.Status = domain.ExecFilled
	} else if filled > 0 {
		rep.Status = domain.ExecPartial
	} else {
		rep.Status = domain.ExecRejected
	}
	return rep, nil
}
