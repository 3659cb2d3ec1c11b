package usecase

import (
	"sort"
	"time"

	"github.com/vitos/trade_controller/internal/domain"
)

// PositionStore is the authoritative map of open positions, one per market.
// Only the control loop mutates it.
type PositionStore struct {
	positions  map[string]*domain.Position
	lastClosed map[string]time.Time
}

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions:  make(map[string]*domain.Position),
		lastClosed: make(map[string]time.Time),
	}
}

// Seed reloads persisted positions at startup.
func (s *PositionStore) Seed(positions []*domain.Position) {
	for _, p := range positions {
		s.positions[p.MarketID] = p
	}
}

func (s *PositionStore) Get(marketID string) *domain.Position {
	return s.positions[marketID]
}

func (s *PositionStore) Count() int {
	return len(s.positions)
}

// All returns the open positions in a stable order.
func (s *PositionStore) All() []*domain.Position {
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Open registers a freshly filled position.
func (s *PositionStore) Open(p *domain.Position) {
	s.positions[p.MarketID] = p
}

// Reduce releases a filled exit's cost basis from a position and removes it
// when drained. Returns true when the position was fully closed.
func (s *PositionStore) Reduce(marketID string, notional, shares float64, reason string, orderIDs []string, at time.Time) bool {
	p, ok := s.positions[marketID]
	if !ok {
		return false
	}
	p.Reduce(notional, shares, reason, orderIDs, at)
	if p.Drained() {
		delete(s.positions, marketID)
		s.lastClosed[marketID] = at
		return true
	}
	return false
}

// LastClosed returns when the market's last position was fully closed.
func (s *PositionStore) LastClosed(marketID string) (time.Time, bool) {
	t, ok := s.lastClosed[marketID]
	return t, ok
}

// TotalExposure sums open notional across all positions.
func (s *PositionStore) TotalExposure() float64 {
	var sum float64
	for _, p := range s.positions {
		sum += p.Notional
	}
	return sum
}

// SideExposure sums open notional held on one side.
func (s *PositionStore) SideExposure(side domain.Side) float64 {
	var sum float64
	for _, p := range s.positions {
		if p.Side == side {
			sum += p.Notional
		}
	}
	return sum
}

// MarketExposure returns the open notional in one market.
func (s *PositionStore) MarketExposure(marketID string) float64 {
	if p, ok := s.positions[marketID]; ok {
		return p.Notional
	}
	return 0
}

// StrategyExposure sums open notional attributed to a strategy. A position
// contributed by several strategies counts fully toward each.
func (s *PositionStore) StrategyExposure(strategy string) float64 {
	var sum float64
	for _, p := range s.positions {
		for _, name := range p.Strategies {
			if name == strategy {
				sum += p.Notional
				break
			}
		}
	}
	return sum
}
