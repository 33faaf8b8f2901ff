package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/broker"
	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/mlfilter"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/position"
	"github.com/Gonzalo32/daily-trading/internal/risk"
	"github.com/Gonzalo32/daily-trading/internal/sample"
	"github.com/Gonzalo32/daily-trading/internal/store"
	"github.com/Gonzalo32/daily-trading/internal/strategy"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeProvider struct {
	snap market.Snapshot
	err  error
}

func (p *fakeProvider) Snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if p.err != nil {
		return market.Snapshot{}, p.err
	}
	snap := p.snap
	snap.Symbol = symbol
	return snap, nil
}

type failingBroker struct{ err error }

func (b failingBroker) Open(ctx context.Context, sig model.Signal) (model.Position, error) {
	return model.Position{}, b.err
}

func (b failingBroker) Close(ctx context.Context, p model.Position, price decimal.Decimal) (broker.CloseResult, error) {
	return broker.CloseResult{}, b.err
}

type denyFilter struct{}

func (denyFilter) Approve(ctx context.Context, req mlfilter.Request) mlfilter.Result {
	return mlfilter.Result{Approved: false, Probability: 0.12, Reason: "low win probability"}
}

type capturePublisher struct {
	events []Event
}

func (p *capturePublisher) Publish(event Event) { p.events = append(p.events, event) }

func (p *capturePublisher) byType(t string) []Event {
	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// bullishSnapshot clears every strategy filter and produces a BUY.
func bullishSnapshot(at time.Time) market.Snapshot {
	return market.Snapshot{
		Symbol: "BTC-USD",
		Price:  d(100),
		Volume: d(5000),
		Indicators: model.Indicators{
			FastMA:     d(102),
			SlowMA:     d(100),
			RSI:        d(55),
			ATR:        d(1),
			MACD:       d(1.5),
			MACDSignal: d(1.0),
		},
		Timestamp: at,
	}
}

// neutralSnapshot produces no signal.
func neutralSnapshot(at time.Time) market.Snapshot {
	s := bullishSnapshot(at)
	s.Indicators.FastMA = d(100)
	s.Indicators.MACD = d(-0.1)
	return s
}

type env struct {
	engine   *Engine
	provider *fakeProvider
	store    *store.MemoryStore
	state    *risk.State
	pub      *capturePublisher
}

func newTestEnv(t *testing.T, opts ...func(*env)) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	st := store.NewMemoryStore()
	state := risk.NewState(d(10000), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	gate := risk.NewGate(risk.DefaultLimits(), state, nil, logger)
	pub := &capturePublisher{}

	e := &env{
		provider: &fakeProvider{snap: neutralSnapshot(time.Now().UTC())},
		store:    st,
		state:    state,
		pub:      pub,
	}

	cfg := Config{
		Symbols:      []string{"BTC-USD"},
		TickInterval: time.Second,
	}
	e.engine = New(
		cfg,
		e.provider,
		strategy.New(strategy.DefaultConfig(), logger),
		strategy.NewRegimeClassifier(logger),
		sample.NewSampler(logger),
		gate,
		position.NewManager(position.DefaultConfig(), logger),
		nil,
		broker.NewPaper(logger),
		st,
		pub,
		logger,
	)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func lastSample(t *testing.T, st *store.MemoryStore) sample.Sample {
	t.Helper()
	samples, err := st.ListSamples(context.Background(), "BTC-USD", 1)
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	return samples[0]
}

func TestTick_NoSignalPersistsSample(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = neutralSnapshot(at)

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeNoSignal {
		t.Fatalf("outcome = %s, want no_signal", smp.DecisionOutcome)
	}
	if smp.WasExecuted {
		t.Fatal("no-signal tick must not be marked executed")
	}
	if smp.ID == "" {
		t.Fatal("sample must get an ID before persistence")
	}
	if got := len(e.engine.Status().OpenPositions); got != 0 {
		t.Fatalf("open positions = %d, want 0", got)
	}
}

func TestTick_ExecutesBuy(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeExecuted {
		t.Fatalf("outcome = %s, want executed", smp.DecisionOutcome)
	}
	if !smp.WasExecuted {
		t.Fatal("executed tick must be marked executed")
	}
	if smp.ExecutedAction != decision.ActionBuy {
		t.Fatalf("executed action = %s, want BUY", smp.ExecutedAction)
	}

	status := e.engine.Status()
	if len(status.OpenPositions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(status.OpenPositions))
	}
	pos := status.OpenPositions[0]
	// Equity 10000, ATR 1: the 2% risk budget asks for 200 units but the
	// 10% notional ceiling caps the position at 10. Stop 99, target 102.
	if !pos.Size.Equal(d(10)) {
		t.Fatalf("size = %s, want 10", pos.Size)
	}
	if !pos.StopLoss.Equal(d(99)) {
		t.Fatalf("stop = %s, want 99", pos.StopLoss)
	}
	if !pos.TakeProfit.Equal(d(102)) {
		t.Fatalf("target = %s, want 102", pos.TakeProfit)
	}

	if got := len(e.pub.byType("trade_opened")); got != 1 {
		t.Fatalf("trade_opened events = %d, want 1", got)
	}
}

func TestTick_RejectsPyramiding(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	e.engine.Tick(context.Background(), at)
	e.engine.Tick(context.Background(), at.Add(time.Minute))

	samples, err := e.store.ListSamples(context.Background(), "BTC-USD", 10)
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}

	// Newest first: the second tick's signal hit the open-position check.
	smp := samples[0]
	if smp.DecisionOutcome != decision.OutcomeRejectedByRisk {
		t.Fatalf("outcome = %s, want rejected_by_risk", smp.DecisionOutcome)
	}
	if smp.ExecutedAction != decision.ActionHold {
		t.Fatalf("rejected tick action = %s, want HOLD", smp.ExecutedAction)
	}
	if smp.RejectReason == "" {
		t.Fatal("rejected sample must carry a reason")
	}
	if got := len(e.engine.Status().OpenPositions); got != 1 {
		t.Fatalf("open positions = %d, want 1", got)
	}
}

func TestTick_KillSwitchShortCircuits(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	// Burn past the 3% daily loss budget (300 on 10000 starting equity).
	e.state.ApplyFill(d(-350))

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeRejectedByLimits {
		t.Fatalf("outcome = %s, want rejected_by_limits", smp.DecisionOutcome)
	}
	if smp.StrategySignal != decision.SignalBuy {
		t.Fatalf("strategy signal = %s, want BUY", smp.StrategySignal)
	}
	if len(e.engine.Status().OpenPositions) != 0 {
		t.Fatal("kill switch must block the trade")
	}
	if !e.engine.Status().TradingPaused {
		t.Fatal("status must report trading paused")
	}
}

func TestTick_MLFilterRejection(t *testing.T) {
	e := newTestEnv(t)
	e.engine.filter = denyFilter{}
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeRejectedByFilters {
		t.Fatalf("outcome = %s, want rejected_by_filters", smp.DecisionOutcome)
	}
	if smp.RejectReason != "low win probability" {
		t.Fatalf("reject reason = %q", smp.RejectReason)
	}
}

func TestTick_ExecutionFailure(t *testing.T) {
	e := newTestEnv(t)
	e.engine.broker = failingBroker{err: errors.New("exchange unavailable")}
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeRejectedByExecution {
		t.Fatalf("outcome = %s, want rejected_by_execution", smp.DecisionOutcome)
	}
	if smp.RejectReason != "exchange unavailable" {
		t.Fatalf("reject reason = %q", smp.RejectReason)
	}
	if len(e.engine.Status().OpenPositions) != 0 {
		t.Fatal("failed execution must not track a position")
	}
}

func TestTick_QuietMarketSizingIsCapped(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	snap := bullishSnapshot(at)
	snap.Indicators.ATR = d(0.01)
	e.provider.snap = snap

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeExecuted {
		t.Fatalf("outcome = %s, want executed", smp.DecisionOutcome)
	}
	status := e.engine.Status()
	if len(status.OpenPositions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(status.OpenPositions))
	}
	// Raw ATR sizing would ask for 20000 units (2000000 notional); the
	// notional ceiling keeps the fill at 10% of equity.
	pos := status.OpenPositions[0]
	if !pos.Size.Equal(d(10)) {
		t.Fatalf("size = %s, want 10", pos.Size)
	}
	if !pos.Notional().Equal(d(1000)) {
		t.Fatalf("notional = %s, want 1000", pos.Notional())
	}
}

func TestTick_ExposureRejectionSeesSizedNotional(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	// 4500 of the 5000 exposure budget already deployed elsewhere. The
	// candidate is sized before validation, so its 1000 notional must
	// push the total over the cap.
	e.engine.positions = []model.Position{
		{ID: "p-eth", Symbol: "ETH-USD", Side: model.SideBuy, EntryPrice: d(1500), Size: d(2), EntryTime: at},
		{ID: "p-sol", Symbol: "SOL-USD", Side: model.SideBuy, EntryPrice: d(150), Size: d(10), EntryTime: at},
	}

	e.engine.Tick(context.Background(), at)

	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeRejectedByRisk {
		t.Fatalf("outcome = %s, want rejected_by_risk", smp.DecisionOutcome)
	}
	if smp.RejectReason == "" {
		t.Fatal("exposure rejection must carry a reason")
	}
	if got := len(e.engine.Status().OpenPositions); got != 2 {
		t.Fatalf("open positions = %d, want the 2 pre-existing", got)
	}
}

func TestTick_PerSymbolLimiterSeesSizedNotional(t *testing.T) {
	e := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	e.engine.gate = risk.NewGate(risk.DefaultLimits(), e.state,
		risk.NewExposureLimiter(d(500), d(2000)), logger)

	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)

	e.engine.Tick(context.Background(), at)

	// The candidate's capped notional is 1000, over the 500 per-symbol
	// limit; with an unsized signal the limiter could never fire.
	smp := lastSample(t, e.store)
	if smp.DecisionOutcome != decision.OutcomeRejectedByRisk {
		t.Fatalf("outcome = %s, want rejected_by_risk", smp.DecisionOutcome)
	}
	if len(e.engine.Status().OpenPositions) != 0 {
		t.Fatal("limiter rejection must block the trade")
	}
}

func TestTick_ProviderFailureSkipsTick(t *testing.T) {
	e := newTestEnv(t)
	e.provider.err = errors.New("connection refused")
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	e.engine.Tick(context.Background(), at)

	samples, err := e.store.ListSamples(context.Background(), "BTC-USD", 10)
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("samples = %d, want 0 after fetch failure", len(samples))
	}
}

func TestTick_StopHitClosesPosition(t *testing.T) {
	e := newTestEnv(t)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	e.provider.snap = bullishSnapshot(at)
	e.engine.Tick(context.Background(), at)

	if len(e.engine.Status().OpenPositions) != 1 {
		t.Fatal("expected an open position")
	}

	// Next tick gaps through the 99 stop.
	dropped := neutralSnapshot(at.Add(time.Minute))
	dropped.Price = d(98.5)
	e.provider.snap = dropped
	e.engine.Tick(context.Background(), at.Add(time.Minute))

	if got := len(e.engine.Status().OpenPositions); got != 0 {
		t.Fatalf("open positions = %d, want 0 after stop", got)
	}

	trades, err := e.store.ListTradesBySymbol(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("ListTradesBySymbol: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	// Entry 100, exit 98.5, size 10: pnl -15.
	if !tr.PnL.Equal(d(-15)) {
		t.Fatalf("pnl = %s, want -15", tr.PnL)
	}
	if tr.Reason != "stop loss or take profit reached" {
		t.Fatalf("reason = %q", tr.Reason)
	}
	if !e.engine.Status().Equity.Equal(d(9985)) {
		t.Fatalf("equity = %s, want 9985", e.engine.Status().Equity)
	}
	if got := len(e.pub.byType("trade_closed")); got != 1 {
		t.Fatalf("trade_closed events = %d, want 1", got)
	}
}

func TestTick_DayRolloverResetsState(t *testing.T) {
	e := newTestEnv(t)
	e.state.ApplyFill(d(-350))
	if e.engine.Status().TradingPaused != true {
		t.Fatal("precondition: trading should be paused")
	}

	next := time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC)
	e.provider.snap = neutralSnapshot(next)
	e.engine.Tick(context.Background(), next)

	status := e.engine.Status()
	if status.TradingPaused {
		t.Fatal("rollover must release the kill switch")
	}
	if !status.DailyPnL.IsZero() {
		t.Fatalf("daily pnl = %s, want 0 after rollover", status.DailyPnL)
	}
	if !status.Equity.Equal(d(9650)) {
		t.Fatalf("equity = %s, want 9650 carried across days", status.Equity)
	}
}

func TestRestoreResumesDayState(t *testing.T) {
	e := newTestEnv(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	snap := model.DaySnapshot{
		Day:          day,
		EquityAtOpen: d(10000),
		Equity:       d(9800),
		DailyPnL:     d(-200),
		TradesToday:  7,
	}
	if err := e.store.SaveDaySnapshot(context.Background(), snap); err != nil {
		t.Fatalf("SaveDaySnapshot: %v", err)
	}

	if err := e.engine.Restore(context.Background(), day.Add(14*time.Hour)); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	status := e.engine.Status()
	if !status.Equity.Equal(d(9800)) {
		t.Fatalf("equity = %s, want 9800", status.Equity)
	}
	if status.TradesToday != 7 {
		t.Fatalf("trades today = %d, want 7", status.TradesToday)
	}
}

func TestRestore_NoSnapshotIsFine(t *testing.T) {
	e := newTestEnv(t)
	if err := e.engine.Restore(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("Restore without snapshot: %v", err)
	}
	if !e.engine.Status().Equity.Equal(d(10000)) {
		t.Fatalf("equity = %s, want untouched 10000", e.engine.Status().Equity)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	e.engine.cfg.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.engine.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if e.engine.Status().Running {
		t.Fatal("status must report stopped")
	}
}
