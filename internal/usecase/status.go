package usecase

import (
	"time"

	"github.com/vitos/trade_controller/internal/domain"
)

// StatusDoc is the periodic status document: loop counters, reason
// histograms, exposure, and guard state. It is the sole operator-visible
// failure surface of the core.
type StatusDoc struct {
	Time          time.Time         `json:"time"`
	Iteration     int64             `json:"iteration"`
	Interval      string            `json:"interval"`
	OpenPositions int               `json:"open_positions"`
	Exposure      float64           `json:"exposure"`
	ExposureYes   float64           `json:"exposure_yes"`
	ExposureNo    float64           `json:"exposure_no"`
	DayPnL        float64           `json:"day_pnl"`
	Guard         KillSwitchState   `json:"guard"`
	Feed          domain.FeedHealth `json:"feed"`
	RejectCounts  map[string]int64  `json:"reject_counts"`
	HoldCounts    map[string]int64  `json:"hold_counts"`
	ExitCounts    map[string]int64  `json:"exit_counts"`
	PersistErrors int64             `json:"persist_errors"`
	ReloadErrors  int64             `json:"reload_errors"`
	LastError     string            `json:"last_error,omitempty"`
}

// Metrics is the observability sink the loop reports into. The prometheus
// implementation lives in infrastructure; tests use NopMetrics.
type Metrics interface {
	IncIteration()
	IncOrder(side domain.Side)
	IncReject(reason string)
	IncHold(reason string)
	IncExit(reason string)
	SetOpenPositions(n int)
	SetExposure(v float64)
	SetDayPnL(v float64)
	IncPersistError()
	IncReloadError()
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) IncIteration()            {}
func (NopMetrics) IncOrder(domain.Side)     {}
func (NopMetrics) IncReject(string)         {}
func (NopMetrics) IncHold(string)           {}
func (NopMetrics) IncExit(string)           {}
func (NopMetrics) SetOpenPositions(int)     {}
func (NopMetrics) SetExposure(float64)      {}
func (NopMetrics) SetDayPnL(float64)        {}
func (NopMetrics) IncPersistError()         {}
func (NopMetrics) IncReloadError()          {}

// GuardStateRepository persists the daily guard's day snapshot.
type GuardStateRepository interface {
	SaveGuardSnapshot(snap GuardSnapshot) error
	LoadGuardSnapshot() (GuardSnapshot, bool)
}
