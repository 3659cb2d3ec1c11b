package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vitos/trade_controller/internal/domain"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "30s"-style yaml strings.
type Duration time.Duration

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// FrequencyRule caps submissions within a sliding window.
type FrequencyRule struct {
	MaxOrders int      `yaml:"max_orders"`
	Window    Duration `yaml:"window"`
}

// Enabled reports whether the rule constrains anything.
func (r *FrequencyRule) Enabled() bool {
	return r != nil && r.MaxOrders > 0 && r.Window > 0
}

// StrategyRules holds the optional per-strategy constraints. Unknown
// strategies simply have no entry here and no additional constraints.
type StrategyRules struct {
	Global        *FrequencyRule `yaml:"global,omitempty"`
	PerMarket     *FrequencyRule `yaml:"per_market,omitempty"`
	PerSide       *FrequencyRule `yaml:"per_side,omitempty"`
	PerMarketSide *FrequencyRule `yaml:"per_market_side,omitempty"`

	ExposureCap float64 `yaml:"exposure_cap"`

	// Behaviour while the feed runs degraded.
	FallbackSkip       bool    `yaml:"fallback_skip"`
	FallbackSizeFactor float64 `yaml:"fallback_size_factor"`
}

// PriceGuard bounds how far an order price may sit from the book.
type PriceGuard struct {
	MaxAbsDeviation float64 `yaml:"max_abs_deviation"`
	MaxRelDeviation float64 `yaml:"max_rel_deviation"`
	TickSize        float64 `yaml:"tick_size"`
}

// Screens are the cheap stateless per-market filters applied before
// the signal generator runs.
type Screens struct {
	Whitelist    []string `yaml:"whitelist,omitempty"`
	Blacklist    []string `yaml:"blacklist,omitempty"`
	MaxRiskLevel string   `yaml:"max_risk_level"`
	MinVolume24h float64  `yaml:"min_volume_24h"`
	MaxSpread    float64  `yaml:"max_spread"`
	MinDepth     float64  `yaml:"min_depth"`
}

// Risk holds pipeline-wide admission limits.
type Risk struct {
	Balance              float64       `yaml:"balance"`
	ReferenceBalance     float64       `yaml:"reference_balance"`
	MinOrderNotional     float64       `yaml:"min_order_notional"`
	MaxOrderNotional     float64       `yaml:"max_order_notional"`
	VarCapFraction       float64       `yaml:"var_cap_fraction"` // VaR-derived cap as fraction of balance
	LiquidityCapFraction float64       `yaml:"liquidity_cap_fraction"`
	TotalExposureCap     float64       `yaml:"total_exposure_cap"`
	ClampToHeadroom      bool          `yaml:"clamp_to_headroom"`
	MaxOpenPositions     int           `yaml:"max_open_positions"`
	MaxPositionsPerMkt   int           `yaml:"max_positions_per_market"`
	MarketExposureCap    float64       `yaml:"market_exposure_cap"`
	MarketCooldown       Duration      `yaml:"market_cooldown"`
	SideBalanceRatio     float64       `yaml:"side_balance_ratio"`
	MaxConcentration     float64       `yaml:"max_concentration"`
	PriceGuard           PriceGuard    `yaml:"price_guard"`
}

// Dedup controls the order-intent dedup window.
type Dedup struct {
	Window        Duration      `yaml:"window"`
	SizeTolerance float64       `yaml:"size_tolerance"` // relative, e.g. 0.1 = ±10%
	MaxRecords    int           `yaml:"max_records"`
}

// Exits drives the exit decision engine.
type Exits struct {
	SoftStopPct     float64 `yaml:"soft_stop_pct"`
	HardStopPct     float64 `yaml:"hard_stop_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	TrimRatio       float64 `yaml:"trim_ratio"`
	HoldExtendSec   float64 `yaml:"hold_extend_sec"`
	BreakevenTrigger float64 `yaml:"breakeven_trigger"`
	TrailingTrigger float64 `yaml:"trailing_trigger"`
	TrailingRetrace float64 `yaml:"trailing_retrace"`
	DecayTauSec     float64 `yaml:"decay_tau_sec"`
	FeeRate         float64 `yaml:"fee_rate"`
	RiskPremium     float64 `yaml:"risk_premium"`

	// Risk-level-dependent hold durations, seconds.
	MinHoldSec map[domain.RiskLevel]float64 `yaml:"min_hold_sec"`
	MaxHoldSec map[domain.RiskLevel]float64 `yaml:"max_hold_sec"`
}

// Slicer bounds one logical order by visible depth.
type Slicer struct {
	DepthAware    bool    `yaml:"depth_aware"`
	SliceNotional float64 `yaml:"slice_notional"`
	MaxSlices     int     `yaml:"max_slices"`
}

// Guards configures the daily kill-switches.
type Guards struct {
	Timezone         string        `yaml:"timezone"`
	MaxDayLossPct    float64       `yaml:"max_day_loss_pct"`
	MaxDayLossAbs    float64       `yaml:"max_day_loss_abs"`
	Cooldown         Duration      `yaml:"cooldown"`
	RecoveryRatio    float64       `yaml:"recovery_ratio"`
	MarketMaxLossAbs float64       `yaml:"market_max_loss_abs"`
	SnapshotPath     string        `yaml:"snapshot_path"`
}

// Loop configures the controller cadence.
type Loop struct {
	Interval      Duration      `yaml:"interval"`
	MaxInterval   Duration      `yaml:"max_interval"`
	ErrorBackoff  Duration      `yaml:"error_backoff"`
	MaxOrdersPerIteration int   `yaml:"max_orders_per_iteration"`
	GlobalMaxOrders       int           `yaml:"global_max_orders"`
	GlobalWindow          Duration      `yaml:"global_window"`
	StopFile              string        `yaml:"stop_file"`
	ReloadEvery           int           `yaml:"reload_every"` // iterations between config reloads, 0 disables
	MinValidationCoverage float64       `yaml:"min_validation_coverage"`
}

// Config is the full runtime configuration. Hot-reloadable.
type Config struct {
	Loop       Loop                     `yaml:"loop"`
	Screens    Screens                  `yaml:"screens"`
	Risk       Risk                     `yaml:"risk"`
	Dedup      Dedup                    `yaml:"dedup"`
	Exits      Exits                    `yaml:"exits"`
	Slicer     Slicer                   `yaml:"slicer"`
	Guards     Guards                   `yaml:"guards"`
	Strategies map[string]StrategyRules `yaml:"strategies"`
	Logging    struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Feed struct {
		WSEndpoint   string        `yaml:"ws_endpoint"`
		RESTEndpoint string        `yaml:"rest_endpoint"`
		PollInterval Duration      `yaml:"poll_interval"`
	} `yaml:"feed"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Load reads and validates a config file. A malformed per-strategy entry is
// a load error, not a silent skip.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Loop.Interval <= 0 {
		c.Loop.Interval = Duration(5 * time.Second)
	}
	if c.Loop.MaxInterval <= 0 {
		c.Loop.MaxInterval = 8 * c.Loop.Interval
	}
	if c.Loop.ErrorBackoff <= 0 {
		c.Loop.ErrorBackoff = Duration(30 * time.Second)
	}
	if c.Exits.DecayTauSec <= 0 {
		c.Exits.DecayTauSec = 300
	}
	if c.Exits.TrimRatio <= 0 {
		c.Exits.TrimRatio = 0.5
	}
	if c.Guards.Timezone == "" {
		c.Guards.Timezone = "UTC"
	}
	if c.Guards.RecoveryRatio <= 0 {
		c.Guards.RecoveryRatio = 1
	}
	if c.Risk.ReferenceBalance <= 0 {
		c.Risk.ReferenceBalance = c.Risk.Balance
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Risk.MinOrderNotional < 0 {
		return fmt.Errorf("risk.min_order_notional must be >= 0")
	}
	if c.Risk.SideBalanceRatio < 0 {
		return fmt.Errorf("risk.side_balance_ratio must be >= 0")
	}
	if c.Dedup.SizeTolerance < 0 || c.Dedup.SizeTolerance > 1 {
		return fmt.Errorf("dedup.size_tolerance must be in [0,1]")
	}
	if c.Exits.TrimRatio < 0 || c.Exits.TrimRatio > 1 {
		return fmt.Errorf("exits.trim_ratio must be in [0,1]")
	}
	if c.Exits.SoftStopPct < 0 || c.Exits.HardStopPct < 0 {
		return fmt.Errorf("exit stop thresholds must be expressed as positive fractions")
	}
	if c.Exits.HardStopPct > 0 && c.Exits.SoftStopPct > c.Exits.HardStopPct {
		return fmt.Errorf("exits.soft_stop_pct %.4f exceeds hard_stop_pct %.4f", c.Exits.SoftStopPct, c.Exits.HardStopPct)
	}
	if c.Slicer.DepthAware && c.Slicer.SliceNotional <= 0 {
		return fmt.Errorf("slicer.slice_notional must be > 0 when depth_aware")
	}
	if c.Guards.Timezone != "" {
		if _, err := time.LoadLocation(c.Guards.Timezone); err != nil {
			return fmt.Errorf("guards.timezone: %w", err)
		}
	}
	for name, rules := range c.Strategies {
		if name == "" {
			return fmt.Errorf("strategies: empty strategy name")
		}
		for label, r := range map[string]*FrequencyRule{
			"global": rules.Global, "per_market": rules.PerMarket,
			"per_side": rules.PerSide, "per_market_side": rules.PerMarketSide,
		} {
			if r == nil {
				continue
			}
			if r.MaxOrders < 0 || r.Window < 0 {
				return fmt.Errorf("strategies.%s.%s: negative limit", name, label)
			}
			if (r.MaxOrders > 0) != (r.Window > 0) {
				return fmt.Errorf("strategies.%s.%s: max_orders and window must be set together", name, label)
			}
		}
		if rules.ExposureCap < 0 {
			return fmt.Errorf("strategies.%s.exposure_cap must be >= 0", name)
		}
		if rules.FallbackSizeFactor < 0 || rules.FallbackSizeFactor > 1 {
			return fmt.Errorf("strategies.%s.fallback_size_factor must be in [0,1]", name)
		}
	}
	return nil
}

// Rules returns the per-strategy rules, or nil when none are configured.
func (c *Config) Rules(strategy string) *StrategyRules {
	if r, ok := c.Strategies[strategy]; ok {
		return &r
	}
	return nil
}
