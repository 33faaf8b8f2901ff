package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/broker"
	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/engine"
	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/position"
	"github.com/Gonzalo32/daily-trading/internal/risk"
	"github.com/Gonzalo32/daily-trading/internal/sample"
	"github.com/Gonzalo32/daily-trading/internal/server"
	"github.com/Gonzalo32/daily-trading/internal/store"
	"github.com/Gonzalo32/daily-trading/internal/strategy"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type stubProvider struct{}

func (stubProvider) Snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	return market.Snapshot{Symbol: symbol}, nil
}

// newTestEnv creates a query service over an idle engine with an in-memory
// store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	ms := store.NewMemoryStore()

	state := risk.NewState(d(10000), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	gate := risk.NewGate(risk.DefaultLimits(), state, nil, logger)
	eng := engine.New(
		engine.Config{Symbols: []string{"BTC-USD"}, TickInterval: time.Second},
		stubProvider{},
		strategy.New(strategy.DefaultConfig(), logger),
		strategy.NewRegimeClassifier(logger),
		sample.NewSampler(logger),
		gate,
		position.NewManager(position.DefaultConfig(), logger),
		nil,
		broker.NewPaper(logger),
		ms,
		nil,
		logger,
	)
	svc := server.NewService(eng, ms)

	r := chi.NewRouter()
	r.Get("/api/v1/status", svc.GetStatus)
	r.Get("/api/v1/positions", svc.GetPositions)
	r.Get("/api/v1/samples/outcomes", svc.GetOutcomeCounts)
	r.Get("/api/v1/samples/{symbol}", svc.ListSamples)
	r.Get("/api/v1/trades", svc.ListTrades)
	r.Get("/api/v1/days/{day}", svc.GetDaySnapshot)

	return ms, r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedTrade(t *testing.T, ms *store.MemoryStore, symbol string, pnl float64, closedAt time.Time) {
	t.Helper()
	tr := &model.TradeRecord{
		ID:         "trade-" + symbol + "-" + closedAt.Format("150405"),
		PositionID: "pos-1",
		Symbol:     symbol,
		Side:       model.SideBuy,
		EntryPrice: d(100),
		ExitPrice:  d(100 + pnl/10),
		Size:       d(10),
		PnL:        d(pnl),
		Reason:     "stop loss or take profit reached",
		OpenedAt:   closedAt.Add(-time.Hour),
		ClosedAt:   closedAt,
	}
	if err := ms.InsertTrade(context.Background(), tr); err != nil {
		t.Fatalf("failed to seed trade: %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	_, router := newTestEnv(t)

	w := get(t, router, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Equity.Equal(d(10000)) {
		t.Errorf("equity = %s, want 10000", status.Equity)
	}
	if status.Running {
		t.Error("idle engine must not report running")
	}
	if status.TradingPaused {
		t.Error("fresh day must not be paused")
	}
}

func TestGetPositions_EmptyIsJSONArray(t *testing.T) {
	_, router := newTestEnv(t)

	w := get(t, router, "/api/v1/positions")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestListSamples(t *testing.T) {
	ms, router := newTestEnv(t)

	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		smp := &sample.Sample{
			ID:              "s-" + string(rune('a'+i)),
			Timestamp:       at.Add(time.Duration(i) * time.Minute),
			Symbol:          "BTC-USD",
			StrategySignal:  "NONE",
			ExecutedAction:  "HOLD",
			DecisionOutcome: "no_signal",
			Regime:          "ranging",
			Volatility:      "medium",
			Price:           d(100),
			Volume:          d(5000),
			Reason:          "HOLD: no signal from strategy",
		}
		if err := ms.InsertSample(context.Background(), smp); err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}

	w := get(t, router, "/api/v1/samples/BTC-USD?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var samples []sample.Sample
	if err := json.Unmarshal(w.Body.Bytes(), &samples); err != nil {
		t.Fatalf("decode samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	// Newest first.
	if samples[0].ID != "s-c" {
		t.Errorf("first sample = %s, want s-c", samples[0].ID)
	}
	// The taxonomy triple survives the round trip verbatim.
	if samples[0].DecisionOutcome != "no_signal" {
		t.Errorf("decision_outcome = %q, want no_signal", samples[0].DecisionOutcome)
	}
	if samples[0].ExecutedAction != "HOLD" {
		t.Errorf("executed_action = %q, want HOLD", samples[0].ExecutedAction)
	}
	if samples[0].StrategySignal != "NONE" {
		t.Errorf("strategy_signal = %q, want NONE", samples[0].StrategySignal)
	}

	w = get(t, router, "/api/v1/samples/BTC-USD?limit=bogus")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus limit: expected 400, got %d", w.Code)
	}
}

func TestGetOutcomeCounts(t *testing.T) {
	ms, router := newTestEnv(t)

	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	outcomes := []string{"no_signal", "no_signal", "executed"}
	for i, outcome := range outcomes {
		smp := &sample.Sample{
			ID:              "s-" + string(rune('a'+i)),
			Timestamp:       at,
			Symbol:          "BTC-USD",
			StrategySignal:  "NONE",
			ExecutedAction:  "HOLD",
			DecisionOutcome: decision.Outcome(outcome),
			Price:           d(100),
			Volume:          d(5000),
		}
		if err := ms.InsertSample(context.Background(), smp); err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}

	w := get(t, router, "/api/v1/samples/outcomes")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp server.OutcomeCountsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if resp.Counts["no_signal"] != 2 {
		t.Errorf("no_signal = %d, want 2", resp.Counts["no_signal"])
	}
}

func TestListTrades_BySymbol(t *testing.T) {
	ms, router := newTestEnv(t)
	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	seedTrade(t, ms, "BTC-USD", 150, at)
	seedTrade(t, ms, "BTC-USD", -50, at.Add(time.Hour))
	seedTrade(t, ms, "ETH-USD", 75, at)

	w := get(t, router, "/api/v1/trades?symbol=BTC-USD")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var summary server.TradeSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Count != 2 {
		t.Fatalf("count = %d, want 2", summary.Count)
	}
	if !summary.TotalPnL.Equal(d(100)) {
		t.Errorf("total pnl = %s, want 100", summary.TotalPnL)
	}
	if summary.Wins != 1 || summary.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 1/1", summary.Wins, summary.Losses)
	}
}

func TestListTrades_ByDay(t *testing.T) {
	ms, router := newTestEnv(t)
	seedTrade(t, ms, "BTC-USD", 150, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC))
	seedTrade(t, ms, "BTC-USD", 80, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC))

	w := get(t, router, "/api/v1/trades?day=2025-03-10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var summary server.TradeSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Count != 1 {
		t.Fatalf("count = %d, want 1", summary.Count)
	}
	if !summary.TotalPnL.Equal(d(150)) {
		t.Errorf("total pnl = %s, want 150", summary.TotalPnL)
	}
}

func TestListTrades_BadFilters(t *testing.T) {
	_, router := newTestEnv(t)

	if w := get(t, router, "/api/v1/trades"); w.Code != http.StatusBadRequest {
		t.Errorf("no filter: expected 400, got %d", w.Code)
	}
	if w := get(t, router, "/api/v1/trades?symbol=BTC-USD&day=2025-03-10"); w.Code != http.StatusBadRequest {
		t.Errorf("both filters: expected 400, got %d", w.Code)
	}
	if w := get(t, router, "/api/v1/trades?day=yesterday"); w.Code != http.StatusBadRequest {
		t.Errorf("bad day: expected 400, got %d", w.Code)
	}
}

func TestGetDaySnapshot(t *testing.T) {
	ms, router := newTestEnv(t)

	if w := get(t, router, "/api/v1/days/2025-03-10"); w.Code != http.StatusNotFound {
		t.Fatalf("missing day: expected 404, got %d", w.Code)
	}

	snap := model.DaySnapshot{
		Day:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		EquityAtOpen: d(10000),
		Equity:       d(9800),
		DailyPnL:     d(-200),
		TradesToday:  4,
	}
	if err := ms.SaveDaySnapshot(context.Background(), snap); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	w := get(t, router, "/api/v1/days/2025-03-10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got model.DaySnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !got.DailyPnL.Equal(d(-200)) {
		t.Errorf("daily pnl = %s, want -200", got.DailyPnL)
	}
	if got.TradesToday != 4 {
		t.Errorf("trades today = %d, want 4", got.TradesToday)
	}
}
