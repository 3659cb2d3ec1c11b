package domain

import "time"

// Side is the outcome a position is long: yes or no.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Order is a candidate entry produced by the signal generator.
// The admission pipeline mutates Notional and the guard annotations
// before the order reaches the executor.
type Order struct {
	MarketID   string             `json:"market_id"`
	Side       Side               `json:"side"`
	Notional   float64            `json:"notional"`
	Score      float64            `json:"score"` // fair yes-probability estimate behind the signal
	Reduce     bool               `json:"reduce"`
	Strategies []string           `json:"strategies"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Exclusive  map[string]bool    `json:"exclusive,omitempty"`

	// Guard annotations, populated during gating.
	Clamped        bool    `json:"clamped,omitempty"`
	ClampedFrom    float64 `json:"clamped_from,omitempty"`
	RecoveryScaled bool    `json:"recovery_scaled,omitempty"`
}

// ExecStatus is the terminal (or pending) state of one execution call.
type ExecStatus string

const (
	ExecPending  ExecStatus = "pending"
	ExecPartial  ExecStatus = "partial"
	ExecFilled   ExecStatus = "filled"
	ExecRejected ExecStatus = "rejected"
	ExecError    ExecStatus = "error"
)

// ExecutionReport is the executor's view of one submission.
// The core consumes it read-only.
type ExecutionReport struct {
	OrderID           string     `json:"order_id"`
	MarketID          string     `json:"market_id"`
	Side              Side       `json:"side"`
	RequestedNotional float64    `json:"requested_notional"`
	RequestedShares   float64    `json:"requested_shares"`
	FilledNotional    float64    `json:"filled_notional"`
	FilledShares      float64    `json:"filled_shares"`
	AvgPrice          float64    `json:"avg_price"`
	Fees              float64    `json:"fees"`
	Status            ExecStatus `json:"status"`
	Mode              string     `json:"mode"` // simulated, live, ws-fill, rest-fill
	CreatedAt         time.Time  `json:"created_at"`
}

// OrderIntentRecord is one append-only entry in the dedup ledger.
type OrderIntentRecord struct {
	MarketID   string    `json:"market_id"`
	Side       Side      `json:"side"`
	Notional   float64   `json:"notional"`
	Strategies []string  `json:"strategies"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExitRecord is one realized full or partial exit, appended to the exit ledger.
// FilledNotional is the cost basis released from the position; the execution
// proceeds are FilledShares times ExitPrice.
type ExitRecord struct {
	ID             int64     `json:"id,omitempty"`
	MarketID       string    `json:"market_id"`
	Side           Side      `json:"side"`
	Reason         string    `json:"reason"`
	Partial        bool      `json:"partial"`
	FilledNotional float64   `json:"filled_notional"`
	FilledShares   float64   `json:"filled_shares"`
	ExitPrice      float64   `json:"exit_price"`
	RealizedPnL    float64   `json:"realized_pnl"`
	OrderIDs       []string  `json:"order_ids"`
	ClosedAt       time.Time `json:"closed_at"`
}
