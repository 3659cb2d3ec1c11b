// Package metrics exposes the controller's observability counters in
// Prometheus text exposition format, served at /metrics by the web server:
//   - bot_loop_iterations_total        – control loop passes
//   - bot_orders_total{side}           – admitted orders submitted
//   - bot_rejects_total{reason}        – gate rejections by reason code
//   - bot_holds_total{reason}          – screened/held markets by reason
//   - bot_exits_total{reason}          – realized exits by reason
//   - bot_open_positions               – open position count (gauge)
//   - bot_total_exposure               – open notional (gauge)
//   - bot_day_pnl                      – realized day P&L (gauge)
//   - bot_persist_errors_total         – best-effort write failures
//   - bot_reload_errors_total          – rejected hot config reloads
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/trade_controller/internal/domain"
)

type Prometheus struct {
	iterations    prometheus.Counter
	orders        *prometheus.CounterVec
	rejects       *prometheus.CounterVec
	holds         *prometheus.CounterVec
	exits         *prometheus.CounterVec
	openPositions prometheus.Gauge
	exposure      prometheus.Gauge
	dayPnL        prometheus.Gauge
	persistErrors prometheus.Counter
	reloadErrors  prometheus.Counter
}

// NewPrometheus builds and registers the collector set.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_loop_iterations_total",
			Help: "Control loop iterations completed",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted after admission",
		}, []string{"side"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_rejects_total",
			Help: "Gate rejections by reason code",
		}, []string{"reason"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_holds_total",
			Help: "Markets screened or held by reason",
		}, []string{"reason"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_exits_total",
			Help: "Realized exits by reason",
		}, []string{"reason"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open position count",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_total_exposure",
			Help: "Total open notional",
		}),
		dayPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_day_pnl",
			Help: "Realized P&L for the current trading day",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_persist_errors_total",
			Help: "Best-effort persistence failures",
		}),
		reloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_reload_errors_total",
			Help: "Hot config reloads rejected by validation",
		}),
	}
	reg.MustRegister(m.iterations, m.orders, m.rejects, m.holds, m.exits,
		m.openPositions, m.exposure, m.dayPnL, m.persistErrors, m.reloadErrors)
	return m
}

func (m *Prometheus) IncIteration()              { m.iterations.Inc() }
func (m *Prometheus) IncOrder(side domain.Side)  { m.orders.WithLabelValues(string(side)).Inc() }
func (m *Prometheus) IncReject(reason string)    { m.rejects.WithLabelValues(reason).Inc() }
func (m *Prometheus) IncHold(reason string)      { m.holds.WithLabelValues(reason).Inc() }
func (m *Prometheus) IncExit(reason string)      { m.exits.WithLabelValues(reason).Inc() }
func (m *Prometheus) SetOpenPositions(n int)     { m.openPositions.Set(float64(n)) }
func (m *Prometheus) SetExposure(v float64)      { m.exposure.Set(v) }
func (m *Prometheus) SetDayPnL(v float64)        { m.dayPnL.Set(v) }
func (m *Prometheus) IncPersistError()           { m.persistErrors.Inc() }
func (m *Prometheus) IncReloadError()            { m.reloadErrors.Inc() }
