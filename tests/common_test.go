package tests

import (
	"context"
	"time"

	"github.com/vitos/trade_controller/internal/domain"
)

// MockFeed serves whatever snapshots the test staged for the next iteration.
type MockFeed struct {
	Snaps  []*domain.MarketSnapshot
	Status domain.FeedHealth
	Err    error
}

func (m *MockFeed) GetSnapshots(ctx context.Context) ([]*domain.MarketSnapshot, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Snaps, nil
}

func (m *MockFeed) Health() domain.FeedHealth { return m.Status }

func (m *MockFeed) SetMarket(marketID string, bid, ask float64) {
	for _, s := range m.Snaps {
		if s.MarketID == marketID {
			s.Bid, s.Ask, s.Mid = bid, ask, (bid+ask)/2
			s.LastTrade = s.Mid
			return
		}
	}
	m.Snaps = append(m.Snaps, &domain.MarketSnapshot{
		MarketID:  marketID,
		Bid:       bid,
		Ask:       ask,
		Mid:       (bid + ask) / 2,
		LastTrade: (bid + ask) / 2,
		Volume24h: 10000,
		DepthYes:  1000,
		DepthNo:   1000,
		RiskLevel: domain.RiskMedium,
	})
}

// MockGenerator proposes one staged order per market and holds otherwise.
type MockGenerator struct {
	Orders map[string]*domain.Order
}

func (m *MockGenerator) GenerateOrder(ctx context.Context, snap *domain.MarketSnapshot) (*domain.Order, string, error) {
	if o, ok := m.Orders[snap.MarketID]; ok && o != nil {
		cp := *o
		return &cp, "", nil
	}
	return nil, "no_signal", nil
}

// MockExecutor fills every call in full at the touch, with a flat fee rate.
type MockExecutor struct {
	FeeRate float64
	Calls   int
}

func (m *MockExecutor) Execute(ctx context.Context, marketID string, side domain.Side, notional float64, snap *domain.MarketSnapshot) (*domain.ExecutionReport, error) {
	m.Calls++
	price := snap.Ask
	if side == domain.SideNo {
		price = 1 - snap.Bid
	}
	return &domain.ExecutionReport{
		OrderID:           "ord-mock",
		MarketID:          marketID,
		Side:              side,
		RequestedNotional: notional,
		FilledNotional:    notional,
		FilledShares:      notional / price,
		AvgPrice:          price,
		Fees:              notional * m.FeeRate,
		Status:            domain.ExecFilled,
		CreatedAt:         time.Now(),
	}, nil
}

// MemStore keeps every repository in memory for scenario tests.
type MemStore struct {
	Positions []*domain.Position
	Intents   []*domain.OrderIntentRecord
	Exits     []*domain.ExitRecord
	Statuses  [][]byte
}

func (m *MemStore) SavePositions(ctx context.Context, positions []*domain.Position) error {
	m.Positions = positions
	return nil
}

func (m *MemStore) LoadPositions(ctx context.Context) ([]*domain.Position, error) {
	return m.Positions, nil
}

func (m *MemStore) SaveIntent(ctx context.Context, rec *domain.OrderIntentRecord) error {
	m.Intents = append(m.Intents, rec)
	return nil
}

func (m *MemStore) ListIntents(ctx context.Context, since time.Time) ([]*domain.OrderIntentRecord, error) {
	var out []*domain.OrderIntentRecord
	for _, rec := range m.Intents {
		if rec.CreatedAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemStore) SaveExit(ctx context.Context, rec *domain.ExitRecord) error {
	m.Exits = append(m.Exits, rec)
	return nil
}

func (m *MemStore) ListExits(ctx context.Context, limit int) ([]*domain.ExitRecord, error) {
	if limit <= 0 || limit > len(m.Exits) {
		limit = len(m.Exits)
	}
	out := make([]*domain.ExitRecord, 0, limit)
	for i := len(m.Exits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Exits[i])
	}
	return out, nil
}

func (m *MemStore) SaveStatus(ctx context.Context, doc []byte) error {
	m.Statuses = append(m.Statuses, doc)
	return nil
}
