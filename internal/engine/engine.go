// Package engine runs the trading control loop: one tick fetches market
// data, evaluates open positions, runs the signal through the risk and ML
// gates, executes approved trades, and records a decision sample. The loop
// is the single writer of all engine state; no tick's failure stops the
// next tick.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/broker"
	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/metrics"
	"github.com/Gonzalo32/daily-trading/internal/mlfilter"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/position"
	"github.com/Gonzalo32/daily-trading/internal/risk"
	"github.com/Gonzalo32/daily-trading/internal/sample"
	"github.com/Gonzalo32/daily-trading/internal/store"
	"github.com/Gonzalo32/daily-trading/internal/strategy"
)

// Publisher pushes engine events to connected observers. The WebSocket hub
// implements it; a nil publisher disables events.
type Publisher interface {
	Publish(event Event)
}

// Event is one observable engine occurrence.
type Event struct {
	Type      string    `json:"type"` // "sample", "trade_opened", "trade_closed", "stops_updated"
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Config tunes the control loop.
type Config struct {
	Symbols      []string
	TickInterval time.Duration
	WindowSize   int // snapshots retained per symbol for regime analysis
}

// Status is a point-in-time view of the engine for the API.
type Status struct {
	Running       bool             `json:"running"`
	TradingPaused bool             `json:"trading_paused"`
	Equity        decimal.Decimal  `json:"equity"`
	DailyPnL      decimal.Decimal  `json:"daily_pnl"`
	TradesToday   int              `json:"trades_today"`
	OpenPositions []model.Position `json:"open_positions"`
	Regime        model.RegimeInfo `json:"regime"`
	LastTick      time.Time        `json:"last_tick"`
}

// Engine owns the control loop and all mutable trading state.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	provider market.Provider
	strat    *strategy.Strategy
	regime   *strategy.RegimeClassifier
	sampler  *sample.Sampler
	gate     *risk.Gate
	manager  *position.Manager
	filter   mlfilter.Filter
	broker   broker.Broker
	store    store.Store
	pub      Publisher

	// mu guards the fields below for concurrent Status readers. The tick
	// loop is the only writer.
	mu         sync.RWMutex
	running    bool
	positions  []model.Position
	regimeInfo model.RegimeInfo
	lastTick   time.Time

	regimeDay time.Time
	windows   map[string][]market.Snapshot
}

// New wires an engine. filter and pub may be nil; store must not be.
func New(
	cfg Config,
	provider market.Provider,
	strat *strategy.Strategy,
	regime *strategy.RegimeClassifier,
	sampler *sample.Sampler,
	gate *risk.Gate,
	manager *position.Manager,
	filter mlfilter.Filter,
	b broker.Broker,
	st store.Store,
	pub Publisher,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if filter == nil {
		filter = mlfilter.Noop{}
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 288
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		strat:    strat,
		regime:   regime,
		sampler:  sampler,
		gate:     gate,
		manager:  manager,
		filter:   filter,
		broker:   b,
		store:    st,
		pub:      pub,
		windows:  make(map[string][]market.Snapshot),
	}
}

// Restore loads today's risk snapshot so a mid-day restart resumes with
// the daily loss budget already spent. A missing snapshot is not an error.
func (e *Engine) Restore(ctx context.Context, now time.Time) error {
	snap, err := e.store.GetDaySnapshot(ctx, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.gate.State().Restore(*snap)
	e.logger.Info("restored day snapshot",
		"day", snap.Day.Format("2006-01-02"),
		"daily_pnl", snap.DailyPnL,
		"trades_today", snap.TradesToday)
	return nil
}

// Run executes ticks until ctx is canceled. The cancel signal is only
// checked between ticks; a tick in flight always completes.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.Info("engine started",
		"symbols", e.cfg.Symbols,
		"tick_interval", e.cfg.TickInterval)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		e.Tick(ctx, time.Now().UTC())

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one full evaluation cycle across all configured symbols.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		e.mu.Lock()
		e.lastTick = now
		e.mu.Unlock()
	}()

	if e.gate.State().Rollover(now) {
		e.strat.Reset()
		e.logger.Info("trading day rolled over",
			"day", e.gate.State().Day.Format("2006-01-02"),
			"equity", e.gate.State().Equity)
		e.persistDaySnapshot(ctx)
	}

	for _, symbol := range e.cfg.Symbols {
		e.tickSymbol(ctx, symbol, now)
	}

	if e.gate.DailyGuard() {
		metrics.KillSwitchEngaged.Set(0)
	} else {
		metrics.KillSwitchEngaged.Set(1)
	}
	metrics.Equity.Set(e.gate.State().Equity.InexactFloat64())
	metrics.DailyPnL.Set(e.gate.State().DailyPnL.InexactFloat64())
	metrics.OpenPositions.Set(float64(len(e.openPositions())))
}

// tickSymbol evaluates one symbol. Errors are logged and absorbed: the
// rest of the tick and all future ticks proceed regardless.
func (e *Engine) tickSymbol(ctx context.Context, symbol string, now time.Time) {
	snap, err := e.provider.Snapshot(ctx, symbol)
	if err != nil {
		e.logger.Error("market data fetch failed", "symbol", symbol, "error", err)
		return
	}

	e.pushWindow(snap)
	regimeInfo := e.classifyRegime(snap, now)

	e.managePositions(ctx, snap, now)

	signal := e.strat.GenerateSignal(snap)
	space := e.strat.DecisionSpace(snap)

	td := e.decide(ctx, signal, snap, regimeInfo, now)
	metrics.TicksTotal.WithLabelValues(string(td.Outcome)).Inc()

	smp, err := e.sampler.Build(snap, space, signal, td, regimeInfo)
	if err != nil {
		// Already logged by the sampler; skip persistence for this tick.
		return
	}
	smp.ID = uuid.NewString()
	if err := e.store.InsertSample(ctx, &smp); err != nil {
		e.logger.Error("sample persistence failed", "symbol", symbol, "error", err)
	}
	e.publish(Event{Type: "sample", Timestamp: now, Payload: smp})
}

// decide runs the decision pipeline for one candidate signal and returns
// the tick's classified decision.
func (e *Engine) decide(ctx context.Context, signal *model.Signal, snap market.Snapshot, regimeInfo model.RegimeInfo, now time.Time) decision.TickDecision {
	if signal == nil {
		return decision.NoSignal(now)
	}

	// Kill-switch short-circuit: no validation is even attempted.
	if !e.gate.DailyGuard() {
		td, err := decision.Rejected(signal.Action, "daily_limit", "daily loss limit reached, trading paused", now)
		if err != nil {
			e.logger.Error("decision construction failed", "error", err)
			return decision.NoSignal(now)
		}
		metrics.RiskRejections.WithLabelValues("daily_limit").Inc()
		return td
	}

	// Size first: the exposure checks need the candidate's real notional,
	// and the strategy's raw signal carries no size.
	sized := e.gate.SizeAndProtect(*signal, snap.Indicators.ATR)

	open := e.openPositions()
	if rej := e.gate.ValidateTrade(sized, open); rej != nil {
		metrics.RiskRejections.WithLabelValues(rej.Source).Inc()
		return e.rejected(signal.Action, rej.Source, rej.Detail, now)
	}

	verdict := e.filter.Approve(ctx, mlfilter.Request{
		Signal:   sized,
		Features: sample.ExtractFeatures(snap.Indicators, snap.Price),
		Regime:   regimeInfo,
		Equity:   e.gate.State().Equity.String(),
		OpenPos:  len(open),
	})
	if !verdict.Approved {
		metrics.RiskRejections.WithLabelValues("ml").Inc()
		return e.rejected(signal.Action, "ml", verdict.Reason, now)
	}

	pos, err := e.broker.Open(ctx, sized)
	if err != nil {
		e.logger.Error("order execution failed", "symbol", sized.Symbol, "error", err)
		return e.rejected(signal.Action, "execution", err.Error(), now)
	}

	e.mu.Lock()
	e.positions = append(e.positions, pos)
	e.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(string(pos.Side)).Inc()
	e.logger.Info("trade executed",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side,
		"size", pos.Size,
		"entry", pos.EntryPrice,
		"stop", pos.StopLoss,
		"target", pos.TakeProfit)
	e.publish(Event{Type: "trade_opened", Timestamp: now, Payload: pos})

	td, err := decision.Executed(pos.Side, now)
	if err != nil {
		e.logger.Error("decision construction failed", "error", err)
		return decision.NoSignal(now)
	}
	return td
}

// managePositions runs the lifecycle state machine over every open
// position on this symbol.
func (e *Engine) managePositions(ctx context.Context, snap market.Snapshot, now time.Time) {
	for _, p := range e.openPositions() {
		if p.Symbol != snap.Symbol {
			continue
		}
		pos := p
		verdict := e.manager.Evaluate(&pos, snap.Price, snap.Indicators.ATR, now)

		switch verdict.Action {
		case position.ActionUpdateStops:
			e.replacePosition(pos)
			kind := "trailing"
			if stats, ok := e.manager.Stats(pos.ID); ok && !stats.TrailingActive {
				kind = "breakeven"
			}
			metrics.StopUpdates.WithLabelValues(kind).Inc()
			e.publish(Event{Type: "stops_updated", Timestamp: now, Payload: pos})

		case position.ActionClose:
			e.closePosition(ctx, pos, snap.Price, verdict.Reason, now)
		}
	}
}

func (e *Engine) closePosition(ctx context.Context, pos model.Position, price decimal.Decimal, reason string, now time.Time) {
	res, err := e.broker.Close(ctx, pos, price)
	if errors.Is(err, broker.ErrAlreadyClosed) {
		// Retried close; drop our copy without touching PnL.
		e.logger.Warn("close was already filled", "position_id", pos.ID)
		e.removePosition(pos.ID)
		e.manager.Forget(pos.ID)
		return
	}
	if err != nil {
		e.logger.Error("position close failed, will retry next tick",
			"position_id", pos.ID, "error", err)
		return
	}

	e.removePosition(pos.ID)
	e.manager.Forget(pos.ID)
	e.gate.State().ApplyFill(res.PnL)

	trade := model.TradeRecord{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  res.ExitPrice,
		Size:       pos.Size,
		PnL:        res.PnL,
		Reason:     reason,
		OpenedAt:   pos.EntryTime,
		ClosedAt:   now,
	}
	if err := e.store.InsertTrade(ctx, &trade); err != nil {
		e.logger.Error("trade persistence failed", "trade_id", trade.ID, "error", err)
	}
	e.persistDaySnapshot(ctx)

	e.logger.Info("position closed",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"pnl", res.PnL,
		"reason", reason,
		"equity", e.gate.State().Equity)
	e.publish(Event{Type: "trade_closed", Timestamp: now, Payload: trade})
}

// Status returns a consistent snapshot for the API.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	open := make([]model.Position, len(e.positions))
	copy(open, e.positions)

	return Status{
		Running:       e.running,
		TradingPaused: !e.gate.DailyGuard(),
		Equity:        e.gate.State().Equity,
		DailyPnL:      e.gate.State().DailyPnL,
		TradesToday:   e.gate.State().TradesToday,
		OpenPositions: open,
		Regime:        e.regimeInfo,
		LastTick:      e.lastTick,
	}
}

func (e *Engine) classifyRegime(snap market.Snapshot, now time.Time) model.RegimeInfo {
	day := now.Truncate(24 * time.Hour)
	e.mu.RLock()
	current := e.regimeInfo
	e.mu.RUnlock()

	if !day.After(e.regimeDay) && current.Regime != "" {
		return current
	}

	info := e.regime.Classify(e.windows[snap.Symbol])
	e.regimeDay = day
	e.mu.Lock()
	e.regimeInfo = info
	e.mu.Unlock()
	return info
}

func (e *Engine) pushWindow(snap market.Snapshot) {
	w := append(e.windows[snap.Symbol], snap)
	if len(w) > e.cfg.WindowSize {
		w = w[len(w)-e.cfg.WindowSize:]
	}
	e.windows[snap.Symbol] = w
}

func (e *Engine) openPositions() []model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Position, len(e.positions))
	copy(out, e.positions)
	return out
}

func (e *Engine) replacePosition(p model.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.positions {
		if e.positions[i].ID == p.ID {
			e.positions[i] = p
			return
		}
	}
}

func (e *Engine) removePosition(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.positions {
		if e.positions[i].ID == id {
			e.positions = append(e.positions[:i], e.positions[i+1:]...)
			return
		}
	}
}

func (e *Engine) persistDaySnapshot(ctx context.Context) {
	if err := e.store.SaveDaySnapshot(ctx, e.gate.State().Snapshot()); err != nil {
		e.logger.Error("day snapshot persistence failed", "error", err)
	}
}

func (e *Engine) rejected(side model.Side, source, detail string, now time.Time) decision.TickDecision {
	td, err := decision.Rejected(side, source, detail, now)
	if err != nil {
		e.logger.Error("decision construction failed", "source", source, "error", err)
		return decision.NoSignal(now)
	}
	e.logger.Info("signal rejected", "source", source, "detail", detail)
	return td
}

func (e *Engine) publish(event Event) {
	if e.pub != nil {
		e.pub.Publish(event)
	}
}
