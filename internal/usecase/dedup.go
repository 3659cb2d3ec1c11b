package usecase

import (
	"math"
	"time"

	"github.com/vitos/trade_controller/internal/domain"
)

// DedupLedger remembers recently submitted order intents so an equivalent
// order for the same market (or market+side) inside the window is suppressed.
type DedupLedger struct {
	window        time.Duration
	sizeTolerance float64
	maxRecords    int

	records []*domain.OrderIntentRecord
}

func NewDedupLedger(window time.Duration, sizeTolerance float64, maxRecords int) *DedupLedger {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &DedupLedger{
		window:        window,
		sizeTolerance: sizeTolerance,
		maxRecords:    maxRecords,
	}
}

// SetLimits swaps the window parameters after a config reload.
func (d *DedupLedger) SetLimits(window time.Duration, sizeTolerance float64, maxRecords int) {
	d.window = window
	d.sizeTolerance = sizeTolerance
	if maxRecords > 0 {
		d.maxRecords = maxRecords
	}
}

// Seed reloads persisted intents, oldest first.
func (d *DedupLedger) Seed(records []*domain.OrderIntentRecord) {
	d.records = append(d.records, records...)
}

// IsDuplicate reports whether an equivalent-size intent for the market+side,
// or for the market on any side, was recorded within the window.
func (d *DedupLedger) IsDuplicate(marketID string, side domain.Side, notional float64, now time.Time) bool {
	d.prune(now)
	for _, rec := range d.records {
		if rec.MarketID != marketID {
			continue
		}
		// Same market, any side, blocks re-entry within the window.
		if rec.Side != side {
			return true
		}
		if d.sameSize(rec.Notional, notional) {
			return true
		}
	}
	return false
}

func (d *DedupLedger) sameSize(a, b float64) bool {
	if d.sizeTolerance <= 0 {
		return a == b
	}
	ref := math.Max(math.Abs(a), math.Abs(b))
	if ref == 0 {
		return true
	}
	return math.Abs(a-b)/ref <= d.sizeTolerance
}

// Record appends an intent to the ledger.
func (d *DedupLedger) Record(rec *domain.OrderIntentRecord) {
	d.records = append(d.records, rec)
	if len(d.records) > d.maxRecords {
		d.records = d.records[len(d.records)-d.maxRecords:]
	}
}

// LastIntent returns the newest record for a market, or nil.
func (d *DedupLedger) LastIntent(marketID string) *domain.OrderIntentRecord {
	for i := len(d.records) - 1; i >= 0; i-- {
		if d.records[i].MarketID == marketID {
			return d.records[i]
		}
	}
	return nil
}

func (d *DedupLedger) prune(now time.Time) {
	if d.window <= 0 {
		return
	}
	cutoff := now.Add(-d.window)
	i := 0
	for ; i < len(d.records); i++ {
		if d.records[i].CreatedAt.After(cutoff) {
			break
		}
	}
	if i > 0 {
		d.records = d.records[i:]
	}
}
