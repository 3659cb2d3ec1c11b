package usecase

import (
	"context"
	"math"

	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// SliceResult aggregates the execution reports of one sliced submission.
type SliceResult struct {
	Reports        []*domain.ExecutionReport
	FilledNotional float64
	FilledShares   float64
	Fees           float64
	AvgPrice       float64
}

// FillRatio is the filled fraction of the requested notional. Callers treat
// a ratio below 1 as a partial outcome, not an error.
func (r *SliceResult) FillRatio(requested float64) float64 {
	if requested <= 0 {
		return 0
	}
	return r.FilledNotional / requested
}

// OrderIDs lists the ids of every non-empty fill.
func (r *SliceResult) OrderIDs() []string {
	ids := make([]string, 0, len(r.Reports))
	for _, rep := range r.Reports {
		if rep.OrderID != "" {
			ids = append(ids, rep.OrderID)
		}
	}
	return ids
}

// LiquiditySlicer splits a target notional into execution calls bounded by
// the market's visible depth for the relevant side.
type LiquiditySlicer struct {
	cfg      config.Slicer
	executor domain.Executor
	logger   *zap.Logger
}

func NewLiquiditySlicer(cfg config.Slicer, executor domain.Executor, logger *zap.Logger) *LiquiditySlicer {
	return &LiquiditySlicer{cfg: cfg, executor: executor, logger: logger}
}

// Submit executes the target notional in one call when depth awareness is
// off or depth covers the full size, otherwise sequentially in slices of at
// most SliceNotional, capped at MaxSlices. An executor error ends the
// sequence; whatever already filled is returned.
func (s *LiquiditySlicer) Submit(ctx context.Context, marketID string, side domain.Side, notional float64, snap *domain.MarketSnapshot) (*SliceResult, error) {
	result := &SliceResult{}
	if notional <= 0 {
		return result, nil
	}

	depth := snap.Depth(side)
	if !s.cfg.DepthAware || depth >= notional {
		rep, err := s.executor.Execute(ctx, marketID, side, notional, snap)
		if rep != nil {
			result.add(rep)
		}
		return result, err
	}

	slices := int(math.Ceil(notional / s.cfg.SliceNotional))
	if s.cfg.MaxSlices > 0 && slices > s.cfg.MaxSlices {
		slices = s.cfg.MaxSlices
	}

	remaining := notional
	for i := 0; i < slices && remaining > 0; i++ {
		size := math.Min(s.cfg.SliceNotional, remaining)
		rep, err := s.executor.Execute(ctx, marketID, side, size, snap)
		if rep != nil {
			result.add(rep)
		}
		if err != nil {
			s.logger.Warn("slice execution failed",
				zap.String("market", marketID),
				zap.Int("slice", i),
				zap.Error(err))
			return result, err
		}
		remaining -= size
	}
	return result, nil
}

func (r *SliceResult) add(rep *domain.ExecutionReport) {
	r.Reports = append(r.Reports, rep)
	prev := r.FilledShares
	r.FilledNotional += rep.FilledNotional
	r.FilledShares += rep.FilledShares
	r.Fees += rep.Fees
	if r.FilledShares > 0 {
		r.AvgPrice = (r.AvgPrice*prev + rep.AvgPrice*rep.FilledShares) / r.FilledShares
	}
}
