// Package server provides the HTTP surface of the trading engine: status,
// open positions, the decision sample stream, and the trade ledger.
//
// All monetary values use shopspring/decimal — never float64 for money.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/engine"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
	"github.com/Gonzalo32/daily-trading/internal/store"
)

// Service handles read-only engine queries. The engine's control loop owns
// all trading state; handlers only observe it.
type Service struct {
	engine *engine.Engine
	store  store.Store
}

// NewService creates the query service.
func NewService(eng *engine.Engine, st store.Store) *Service {
	return &Service{engine: eng, store: st}
}

// --- Response types ---

// OutcomeCountsResponse summarizes the decision stream by outcome.
type OutcomeCountsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// TradeSummary aggregates the trade ledger returned by the trades endpoint.
type TradeSummary struct {
	Trades   []model.TradeRecord `json:"trades"`
	Count    int                 `json:"count"`
	TotalPnL decimal.Decimal     `json:"total_pnl"`
	Wins     int                 `json:"wins"`
	Losses   int                 `json:"losses"`
}

// --- HTTP Handlers ---

// GetStatus handles GET /api/v1/status
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Status())
}

// GetPositions handles GET /api/v1/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	open := s.engine.Status().OpenPositions
	if open == nil {
		open = []model.Position{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(open)
}

// ListSamples handles GET /api/v1/samples/{symbol}?limit=N
func (s *Service) ListSamples(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	samples, err := s.store.ListSamples(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, "failed to list samples", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []sample.Sample{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samples)
}

// GetOutcomeCounts handles GET /api/v1/samples/outcomes
func (s *Service) GetOutcomeCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountSamplesByOutcome(r.Context())
	if err != nil {
		writeError(w, "failed to count samples", http.StatusInternalServerError)
		return
	}

	resp := OutcomeCountsResponse{Counts: make(map[string]int, len(counts))}
	for outcome, n := range counts {
		resp.Counts[string(outcome)] = n
		resp.Total += n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListTrades handles GET /api/v1/trades?symbol=X or ?day=YYYY-MM-DD
// Exactly one of the two filters is required.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	day := r.URL.Query().Get("day")

	var trades []model.TradeRecord
	var err error

	switch {
	case symbol != "" && day != "":
		writeError(w, "filter by symbol or day, not both", http.StatusBadRequest)
		return
	case symbol != "":
		trades, err = s.store.ListTradesBySymbol(r.Context(), symbol)
	case day != "":
		var parsed time.Time
		parsed, err = time.Parse("2006-01-02", day)
		if err != nil {
			writeError(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		trades, err = s.store.ListTradesByDay(r.Context(), parsed)
	default:
		writeError(w, "symbol or day query parameter is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}

	summary := TradeSummary{Trades: trades, Count: len(trades), TotalPnL: decimal.Zero}
	if summary.Trades == nil {
		summary.Trades = []model.TradeRecord{}
	}
	for _, t := range trades {
		summary.TotalPnL = summary.TotalPnL.Add(t.PnL)
		if t.PnL.IsPositive() {
			summary.Wins++
		} else if t.PnL.IsNegative() {
			summary.Losses++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetDaySnapshot handles GET /api/v1/days/{day}
func (s *Service) GetDaySnapshot(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "day")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	snap, err := s.store.GetDaySnapshot(r.Context(), day)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no snapshot for day", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
