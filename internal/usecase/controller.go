package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// Deps wires the controller's collaborators.
type Deps struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger
	Feed       domain.MarketDataService
	Generator  domain.SignalGenerator
	Executor   domain.Executor
	Evaluators map[string]domain.ExitEvaluator
	Positions  domain.PositionRepository
	Ledger     domain.LedgerRepository
	Status     domain.StatusRepository
	GuardState GuardStateRepository
	Metrics    Metrics
	Now        func() time.Time
}

// Controller owns one iteration of the trading loop: fetch, gate, size,
// submit entries, evaluate exits, persist, sleep. All position and ledger
// mutation happens on the loop goroutine.
type Controller struct {
	cfg        *config.Config
	cfgPath    string
	logger     *zap.Logger
	feed       domain.MarketDataService
	generator  domain.SignalGenerator
	slicer     *LiquiditySlicer
	pipeline   *GatePipeline
	exits      *ExitEngine
	store      *PositionStore
	freq       *FrequencyLimiter
	dedup      *DedupLedger
	guard      *DailyGuard
	evaluators map[string]domain.ExitEvaluator
	posRepo    domain.PositionRepository
	ledger     domain.LedgerRepository
	statusRepo domain.StatusRepository
	guardRepo  GuardStateRepository
	metrics    Metrics
	now        func() time.Time

	iteration     int64
	interval      time.Duration
	rejectCounts  map[string]int64
	holdCounts    map[string]int64
	exitCounts    map[string]int64
	persistErrors int64
	reloadErrors  int64
	lastError     string

	// Published copies for concurrent readers (web server); the loop is
	// the only writer.
	pubMu        sync.RWMutex
	pubStatus    *StatusDoc
	pubPositions []domain.Position
}

func NewController(d Deps) *Controller {
	if d.Metrics == nil {
		d.Metrics = NopMetrics{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	cfg := d.Config
	freq := NewFrequencyLimiter()
	dedup := NewDedupLedger(cfg.Dedup.Window.Std(), cfg.Dedup.SizeTolerance, cfg.Dedup.MaxRecords)
	guard := NewDailyGuard(cfg.Guards)
	guard.SetEquity(cfg.Risk.Balance)
	store := NewPositionStore()

	c := &Controller{
		cfg:        cfg,
		cfgPath:    d.ConfigPath,
		logger:     d.Logger,
		feed:       d.Feed,
		generator:  d.Generator,
		slicer:     NewLiquiditySlicer(cfg.Slicer, d.Executor, d.Logger),
		store:      store,
		freq:       freq,
		dedup:      dedup,
		guard:      guard,
		evaluators: d.Evaluators,
		posRepo:    d.Positions,
		ledger:     d.Ledger,
		statusRepo: d.Status,
		guardRepo:  d.GuardState,
		metrics:    d.Metrics,
		now:        d.Now,

		interval:     cfg.Loop.Interval.Std(),
		rejectCounts: make(map[string]int64),
		holdCounts:   make(map[string]int64),
		exitCounts:   make(map[string]int64),
	}
	c.pipeline = NewGatePipeline(cfg, freq, dedup, guard, store, d.Logger)
	c.exits = NewExitEngine(cfg, d.Evaluators, d.Logger)
	return c
}

// Restore reloads persisted positions, intents, and guard state at startup.
func (c *Controller) Restore(ctx context.Context) error {
	positions, err := c.posRepo.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	c.store.Seed(positions)

	now := c.now()
	if c.cfg.Dedup.Window > 0 {
		intents, err := c.ledger.ListIntents(ctx, now.Add(-c.cfg.Dedup.Window.Std()))
		if err != nil {
			return fmt.Errorf("load intents: %w", err)
		}
		c.dedup.Seed(intents)
	}
	if c.guardRepo != nil {
		if snap, ok := c.guardRepo.LoadGuardSnapshot(); ok {
			c.guard.Restore(snap, now)
		}
	}
	c.guard.RolloverIfNeeded(now)
	c.logger.Info("state restored",
		zap.Int("positions", len(positions)),
		zap.Float64("day_pnl", c.guard.DayPnL()))
	return nil
}

// Run executes iterations until ctx is cancelled or the stop file appears.
// A failed iteration is logged and followed by a fixed backoff; the loop
// never terminates on its own.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("controller started", zap.Duration("interval", c.cfg.Loop.Interval.Std()))
	for {
		if ctx.Err() != nil {
			c.logger.Info("controller stopped", zap.Error(ctx.Err()))
			return
		}
		if c.stopRequested() {
			c.logger.Info("stop file present, halting", zap.String("path", c.cfg.Loop.StopFile))
			return
		}

		degraded, err := c.runIteration(ctx)
		if err != nil {
			c.lastError = err.Error()
			c.logger.Error("iteration failed", zap.Error(err))
			if !sleepCtx(ctx, c.cfg.Loop.ErrorBackoff.Std()) {
				return
			}
			continue
		}

		c.adaptInterval(degraded)
		if !sleepCtx(ctx, c.interval) {
			return
		}
		c.maybeReloadConfig()
	}
}

func (c *Controller) stopRequested() bool {
	if c.cfg.Loop.StopFile == "" {
		return false
	}
	_, err := os.Stat(c.cfg.Loop.StopFile)
	return err == nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Controller) adaptInterval(degraded bool) {
	if degraded {
		doubled := c.interval * 2
		if doubled > c.cfg.Loop.MaxInterval.Std() {
			doubled = c.cfg.Loop.MaxInterval.Std()
		}
		c.interval = doubled
	} else {
		c.interval = c.cfg.Loop.Interval.Std()
	}
}

func (c *Controller) maybeReloadConfig() {
	if c.cfg.Loop.ReloadEvery <= 0 || c.cfgPath == "" {
		return
	}
	if c.iteration%int64(c.cfg.Loop.ReloadEvery) != 0 {
		return
	}
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		c.reloadErrors++
		c.metrics.IncReloadError()
		c.logger.Warn("config reload failed, keeping previous", zap.Error(err))
		return
	}
	c.cfg = cfg
	c.pipeline.SetConfig(cfg)
	c.exits.SetConfig(cfg)
	c.slicer.cfg = cfg.Slicer
	c.dedup.SetLimits(cfg.Dedup.Window.Std(), cfg.Dedup.SizeTolerance, cfg.Dedup.MaxRecords)
	c.guard.SetEquity(cfg.Risk.Balance)
	c.logger.Info("config reloaded", zap.String("path", c.cfgPath))
}

// Step runs exactly one iteration.
func (c *Controller) Step(ctx context.Context) error {
	_, err := c.runIteration(ctx)
	return err
}

// runIteration performs one full pass. It returns whether the feed is
// degraded (for adaptive sleep) and any top-level error.
func (c *Controller) runIteration(ctx context.Context) (bool, error) {
	now := c.now()
	c.iteration++
	c.metrics.IncIteration()

	snaps, err := c.feed.GetSnapshots(ctx)
	if err != nil {
		return true, fmt.Errorf("fetch snapshots: %w", err)
	}
	health := c.feed.Health()
	c.guard.RolloverIfNeeded(now)

	bySnap := make(map[string]*domain.MarketSnapshot, len(snaps))
	for _, s := range snaps {
		bySnap[s.MarketID] = s
	}

	// Entries first, exits after, so a position is never entered and exited
	// inside the same tick.
	opened := c.processEntries(ctx, snaps, health, now)
	c.processExits(ctx, bySnap, opened, now)

	c.persist(ctx, health, now)
	return health.FallbackActive ||
		(c.cfg.Loop.MinValidationCoverage > 0 && health.ValidationCoveragePct < c.cfg.Loop.MinValidationCoverage), nil
}

// processEntries screens, generates, gates, and submits candidate orders.
// Returns the set of markets opened this iteration.
func (c *Controller) processEntries(ctx context.Context, snaps []*domain.MarketSnapshot, health domain.FeedHealth, now time.Time) map[string]bool {
	opened := make(map[string]bool)
	submitted := 0
	for _, snap := range snaps {
		if reason, ok := c.screen(snap, now); !ok {
			if reason != "" {
				c.holdCounts[reason]++
				c.metrics.IncHold(reason)
			}
			continue
		}

		order, holdReason, err := c.generator.GenerateOrder(ctx, snap)
		if err != nil {
			c.logger.Warn("signal generation failed", zap.String("market", snap.MarketID), zap.Error(err))
			continue
		}
		if order == nil {
			if holdReason != "" {
				c.holdCounts[holdReason]++
				c.metrics.IncHold(holdReason)
			}
			continue
		}

		reason, ok := c.pipeline.Admit(order, snap, health, submitted, now)
		if !ok {
			c.rejectCounts[reason]++
			c.metrics.IncReject(reason)
			c.logger.Debug("order rejected",
				zap.String("market", order.MarketID),
				zap.String("side", string(order.Side)),
				zap.String("reason", reason))
			continue
		}

		submitted++
		if c.submitEntry(ctx, order, snap, now) {
			opened[order.MarketID] = true
		}
	}
	return opened
}

// screen applies the cheap stateless per-market filters before any signal
// computation is spent on the market.
func (c *Controller) screen(snap *domain.MarketSnapshot, now time.Time) (string, bool) {
	sc := c.cfg.Screens
	if len(sc.Whitelist) > 0 && !contains(sc.Whitelist, snap.MarketID) {
		return "", false
	}
	if contains(sc.Blacklist, snap.MarketID) {
		return "", false
	}
	if sc.MaxRiskLevel != "" && riskRank(snap.RiskLevel) > riskRank(domain.RiskLevel(sc.MaxRiskLevel)) {
		return "screen_risk_level", false
	}
	if sc.MinVolume24h > 0 && snap.Volume24h < sc.MinVolume24h {
		return "screen_volume", false
	}
	if sc.MaxSpread > 0 && snap.Spread() > sc.MaxSpread {
		return "screen_spread", false
	}
	if sc.MinDepth > 0 && snap.DepthYes < sc.MinDepth && snap.DepthNo < sc.MinDepth {
		return "screen_depth", false
	}
	if c.cfg.Risk.MarketCooldown > 0 {
		if closed, ok := c.store.LastClosed(snap.MarketID); ok && now.Sub(closed) < c.cfg.Risk.MarketCooldown.Std() {
			return "screen_cooldown", false
		}
	}
	// Markets already holding a position are handled by the exit engine.
	if c.store.Get(snap.MarketID) != nil && c.cfg.Risk.MaxPositionsPerMkt <= 1 {
		return "", false
	}
	return "", true
}

func riskRank(l domain.RiskLevel) int {
	switch l {
	case domain.RiskLow:
		return 1
	case domain.RiskMedium:
		return 2
	case domain.RiskHigh:
		return 3
	}
	return 2
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// submitEntry executes an admitted order and creates or extends the
// position on a confirmed fill.
func (c *Controller) submitEntry(ctx context.Context, order *domain.Order, snap *domain.MarketSnapshot, now time.Time) bool {
	res, err := c.slicer.Submit(ctx, order.MarketID, order.Side, order.Notional, snap)
	if err != nil {
		c.logger.Warn("entry execution failed",
			zap.String("market", order.MarketID),
			zap.Float64("filled", res.FilledNotional),
			zap.Error(err))
	}

	// The intent is recorded and counted even on a zero fill: the order was
	// submitted, and the dedup window must suppress an immediate repeat.
	rec := &domain.OrderIntentRecord{
		MarketID:   order.MarketID,
		Side:       order.Side,
		Notional:   order.Notional,
		Strategies: order.Strategies,
		CreatedAt:  now,
	}
	c.dedup.Record(rec)
	c.freq.Record(GlobalKey(), now)
	for _, name := range order.Strategies {
		c.freq.RecordStrategy(name, order.MarketID, order.Side, now)
	}
	if err := c.ledger.SaveIntent(ctx, rec); err != nil {
		c.notePersistError("save intent", err)
	}

	if res.FilledNotional <= 0 {
		return false
	}
	c.metrics.IncOrder(order.Side)

	entrySide := res.AvgPrice
	if entrySide <= 0 {
		entrySide = sideOf(order.Side, snap.Mid)
	}
	entryYes := entrySide
	if order.Side == domain.SideNo {
		entryYes = 1 - entrySide
	}

	if pos := c.store.Get(order.MarketID); pos != nil && pos.Side == order.Side {
		// Weighted add to the existing position.
		totalShares := pos.Shares + res.FilledShares
		if totalShares > 0 {
			pos.EntryPrice = (sideOf(domain.SideYes, pos.EntryPrice)*pos.Shares + entryYes*res.FilledShares) / totalShares
		}
		pos.Shares = totalShares
		pos.Notional += res.FilledNotional
		pos.OrigNotional += res.FilledNotional
		pos.OrigShares += res.FilledShares
		pos.Strategies = mergeStrategies(pos.Strategies, order.Strategies)
		return true
	}

	score := order.Score
	if score <= 0 {
		score = snap.Mid
	}
	pos := &domain.Position{
		MarketID:      order.MarketID,
		Side:          order.Side,
		Notional:      res.FilledNotional,
		Shares:        res.FilledShares,
		OrigNotional:  res.FilledNotional,
		OrigShares:    res.FilledShares,
		EntryPrice:    entryYes,
		EntryScore:    score,
		EntryRisk:     snap.RiskLevel,
		OpenedAt:      now,
		MinHoldSec:    c.cfg.Exits.MinHoldSec[snap.RiskLevel],
		TrimRatio:     c.cfg.Exits.TrimRatio,
		Strategies:    order.Strategies,
		StrategyState: make(map[string]*domain.StrategyState),
	}
	for _, name := range order.Strategies {
		if eval, ok := c.evaluators[name]; ok && len(res.Reports) > 0 {
			pos.StrategyState[name] = eval.CaptureEntry(order, res.Reports[0])
		}
	}
	c.store.Open(pos)
	c.logger.Info("position opened",
		zap.String("market", pos.MarketID),
		zap.String("side", string(pos.Side)),
		zap.Float64("notional", pos.Notional),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("fill_ratio", res.FillRatio(order.Notional)))
	return true
}

func sideOf(side domain.Side, yesPrice float64) float64 {
	if side == domain.SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}

func mergeStrategies(a, b []string) []string {
	out := append([]string{}, a...)
	for _, s := range b {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// processExits evaluates every open position that has a current snapshot.
// Positions opened this iteration are skipped.
func (c *Controller) processExits(ctx context.Context, snaps map[string]*domain.MarketSnapshot, opened map[string]bool, now time.Time) {
	for _, pos := range c.store.All() {
		if opened[pos.MarketID] {
			continue
		}
		snap, ok := snaps[pos.MarketID]
		if !ok {
			continue
		}
		if err := c.executeExit(ctx, pos, snap, now); err != nil {
			c.logger.Warn("exit processing failed",
				zap.String("market", pos.MarketID), zap.Error(err))
		}
	}
}

func (c *Controller) executeExit(ctx context.Context, pos *domain.Position, snap *domain.MarketSnapshot, now time.Time) error {
	decision := c.exits.Evaluate(pos, snap, now)
	if decision == nil {
		return nil
	}

	// Exits are sized in shares: the executor is asked for the target share
	// count at the current side price, while the position releases cost
	// basis at the entry price. Sizing in cost-basis notional would trade
	// the wrong share count whenever the mark has moved.
	targetShares := pos.Shares * decision.Ratio
	target := targetShares * sideOf(pos.Side, snap.Mid)
	res, err := c.slicer.Submit(ctx, pos.MarketID, pos.Side, target, snap)
	if res.FilledNotional <= 0 {
		if err != nil {
			return fmt.Errorf("exit execution: %w", err)
		}
		// Liquidity shortfall: nothing filled, re-evaluated next tick.
		c.holdCounts["exit_unfilled"]++
		return nil
	}

	exitPrice := res.AvgPrice
	if exitPrice <= 0 {
		exitPrice = sideOf(pos.Side, snap.Mid)
	}
	filledShares := math.Min(res.FilledShares, pos.Shares)
	costBasis := filledShares * pos.EntrySidePrice()
	realized := filledShares*(exitPrice-pos.EntrySidePrice()) - res.Fees

	closed := c.store.Reduce(pos.MarketID, costBasis, filledShares, decision.Reason, res.OrderIDs(), now)
	partial := decision.Partial || !closed

	rec := &domain.ExitRecord{
		MarketID:       pos.MarketID,
		Side:           pos.Side,
		Reason:         decision.Reason,
		Partial:        partial,
		FilledNotional: costBasis,
		FilledShares:   filledShares,
		ExitPrice:      exitPrice,
		RealizedPnL:    realized,
		OrderIDs:       res.OrderIDs(),
		ClosedAt:       now,
	}
	if err := c.ledger.SaveExit(ctx, rec); err != nil {
		c.notePersistError("save exit", err)
	}

	c.guard.RecordRealized(pos.MarketID, realized, now)
	c.exitCounts[decision.Reason]++
	c.metrics.IncExit(decision.Reason)
	c.metrics.SetDayPnL(c.guard.DayPnL())

	c.logger.Info("exit executed",
		zap.String("market", pos.MarketID),
		zap.String("reason", decision.Reason),
		zap.Bool("partial", partial),
		zap.Float64("filled_notional", res.FilledNotional),
		zap.Float64("realized_pnl", realized))
	if err != nil {
		return fmt.Errorf("exit short-filled: %w", err)
	}
	return nil
}

// persist writes positions, guard state, and the status document.
// All writes are best-effort: failures are counted, never fatal.
func (c *Controller) persist(ctx context.Context, health domain.FeedHealth, now time.Time) {
	if err := c.posRepo.SavePositions(ctx, c.store.All()); err != nil {
		c.notePersistError("save positions", err)
	}
	if c.guardRepo != nil {
		if err := c.guardRepo.SaveGuardSnapshot(c.guard.Snapshot()); err != nil {
			c.notePersistError("save guard snapshot", err)
		}
	}

	doc := c.buildStatus(health, now)
	c.publishStatus(doc)
	if b, err := json.Marshal(doc); err == nil {
		if err := c.statusRepo.SaveStatus(ctx, b); err != nil {
			c.notePersistError("save status", err)
		}
	}

	c.metrics.SetOpenPositions(c.store.Count())
	c.metrics.SetExposure(c.store.TotalExposure())
	c.metrics.SetDayPnL(c.guard.DayPnL())
}

func (c *Controller) notePersistError(op string, err error) {
	c.persistErrors++
	c.metrics.IncPersistError()
	c.logger.Warn("best-effort write failed", zap.String("op", op), zap.Error(err))
}

func (c *Controller) buildStatus(health domain.FeedHealth, now time.Time) StatusDoc {
	return StatusDoc{
		Time:          now,
		Iteration:     c.iteration,
		Interval:      c.interval.String(),
		OpenPositions: c.store.Count(),
		Exposure:      c.store.TotalExposure(),
		ExposureYes:   c.store.SideExposure(domain.SideYes),
		ExposureNo:    c.store.SideExposure(domain.SideNo),
		DayPnL:        c.guard.DayPnL(),
		Guard:         c.guard.State(now),
		Feed:          health,
		RejectCounts:  copyCounts(c.rejectCounts),
		HoldCounts:    copyCounts(c.holdCounts),
		ExitCounts:    copyCounts(c.exitCounts),
		PersistErrors: c.persistErrors,
		ReloadErrors:  c.reloadErrors,
		LastError:     c.lastError,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *Controller) publishStatus(doc StatusDoc) {
	all := c.store.All()
	positions := make([]domain.Position, 0, len(all))
	for _, p := range all {
		positions = append(positions, *p)
	}
	c.pubMu.Lock()
	c.pubStatus = &doc
	c.pubPositions = positions
	c.pubMu.Unlock()
}

// Status returns the most recently published status document.
func (c *Controller) Status() (StatusDoc, bool) {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	if c.pubStatus == nil {
		return StatusDoc{}, false
	}
	return *c.pubStatus, true
}

// Positions returns a copy of the open positions as of the last iteration.
func (c *Controller) Positions() []domain.Position {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	out := make([]domain.Position, len(c.pubPositions))
	copy(out, c.pubPositions)
	return out
}
