package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"github.com/vitos/trade_controller/internal/usecase"
	"go.uber.org/zap"
)

// sliceExecutor fills each call fully at a fixed price and records sizes.
type sliceExecutor struct {
	price   float64
	calls   []float64
	failAt  int // fail the n-th call (1-based), 0 disables
	prices  []float64
}

func (e *sliceExecutor) Execute(ctx context.Context, marketID string, side domain.Side, notional float64, snap *domain.MarketSnapshot) (*domain.ExecutionReport, error) {
	e.calls = append(e.calls, notional)
	if e.failAt > 0 && len(e.calls) == e.failAt {
		return nil, errors.New("venue unavailable")
	}
	price := e.price
	if len(e.prices) >= len(e.calls) {
		price = e.prices[len(e.calls)-1]
	}
	return &domain.ExecutionReport{
		OrderID:           "ord-" + marketID,
		MarketID:          marketID,
		Side:              side,
		RequestedNotional: notional,
		FilledNotional:    notional,
		FilledShares:      notional / price,
		AvgPrice:          price,
		Status:            domain.ExecFilled,
		CreatedAt:         time.Now(),
	}, nil
}

func depthSnap(depthYes float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		MarketID: "mkt-1",
		Bid:      0.39, Ask: 0.41, Mid: 0.40,
		DepthYes: depthYes, DepthNo: 1000,
	}
}

func newSlicer(cfg config.Slicer, ex domain.Executor) *usecase.LiquiditySlicer {
	return usecase.NewLiquiditySlicer(cfg, ex, zap.NewNop())
}

func TestSlicer_ShallowDepthSplitsIntoSlices(t *testing.T) {
	ex := &sliceExecutor{price: 0.40}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 5}, ex)

	res, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 300, depthSnap(120))
	require.NoError(t, err)
	require.Equal(t, []float64{100, 100, 100}, ex.calls)
	require.Equal(t, 300.0, res.FilledNotional)
	require.InDelta(t, 750.0, res.FilledShares, 1e-9)
	require.Equal(t, 1.0, res.FillRatio(300))
}

func TestSlicer_DeepBookSingleCall(t *testing.T) {
	ex := &sliceExecutor{price: 0.40}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 5}, ex)

	_, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 300, depthSnap(500))
	require.NoError(t, err)
	require.Equal(t, []float64{300}, ex.calls)
}

func TestSlicer_DepthAwareOffSingleCall(t *testing.T) {
	ex := &sliceExecutor{price: 0.40}
	s := newSlicer(config.Slicer{DepthAware: false}, ex)

	_, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 300, depthSnap(10))
	require.NoError(t, err)
	require.Equal(t, []float64{300}, ex.calls)
}

func TestSlicer_MaxSlicesLeavesUnfilledRemainder(t *testing.T) {
	ex := &sliceExecutor{price: 0.40}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 2}, ex)

	res, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 300, depthSnap(120))
	require.NoError(t, err)
	require.Equal(t, []float64{100, 100}, ex.calls)
	require.Equal(t, 200.0, res.FilledNotional)
	require.InDelta(t, 2.0/3.0, res.FillRatio(300), 1e-9)
}

func TestSlicer_ErrorReturnsPartialFill(t *testing.T) {
	ex := &sliceExecutor{price: 0.40, failAt: 2}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 5}, ex)

	res, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 300, depthSnap(120))
	require.Error(t, err)
	require.Equal(t, []float64{100, 100}, ex.calls)
	require.Equal(t, 100.0, res.FilledNotional, "the first slice remains filled")
	require.Len(t, res.OrderIDs(), 1)
}

func TestSlicer_AvgPriceIsShareWeighted(t *testing.T) {
	ex := &sliceExecutor{prices: []float64{0.40, 0.50}}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 5}, ex)

	res, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 200, depthSnap(120))
	require.NoError(t, err)
	// 250 shares at 0.40, 200 shares at 0.50.
	require.InDelta(t, 450.0, res.FilledShares, 1e-9)
	require.InDelta(t, (250*0.40+200*0.50)/450.0, res.AvgPrice, 1e-9)
}

func TestSlicer_ZeroNotionalNoCalls(t *testing.T) {
	ex := &sliceExecutor{price: 0.40}
	s := newSlicer(config.Slicer{DepthAware: true, SliceNotional: 100, MaxSlices: 5}, ex)

	res, err := s.Submit(context.Background(), "mkt-1", domain.SideYes, 0, depthSnap(120))
	require.NoError(t, err)
	require.Empty(t, ex.calls)
	require.Equal(t, 0.0, res.FilledNotional)
}
