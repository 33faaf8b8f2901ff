// Package sample builds the per-tick audit record: relative technical
// features, the decision space, the tick's decision, and market context.
// One sample is produced for every tick whether or not a trade executed;
// the persisted stream doubles as training data for the ML filter.
//
// Features are price-scale independent ratios, kept as float64 on purpose:
// they feed models, not accounting.
package sample

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Features is the fixed relative feature set. Any feature whose denominator
// is not positive is 0, never a fault.
type Features struct {
	EMADiffPct     float64 `json:"ema_diff_pct" db:"ema_diff_pct"`
	RSINormalized  float64 `json:"rsi_normalized" db:"rsi_normalized"`
	ATRPct         float64 `json:"atr_pct" db:"atr_pct"`
	PriceToFastPct float64 `json:"price_to_fast_pct" db:"price_to_fast_pct"`
	PriceToSlowPct float64 `json:"price_to_slow_pct" db:"price_to_slow_pct"`
	TrendDirection float64 `json:"trend_direction" db:"trend_direction"`
	TrendStrength  float64 `json:"trend_strength" db:"trend_strength"`
}

// Sample is one flat row of the decision stream. Field names are stable:
// downstream model training matches them verbatim.
type Sample struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Symbol    string    `json:"symbol" db:"symbol"`

	Features Features `json:"features"`

	DecisionBuyPossible  bool `json:"decision_buy_possible" db:"decision_buy_possible"`
	DecisionSellPossible bool `json:"decision_sell_possible" db:"decision_sell_possible"`
	DecisionHoldPossible bool `json:"decision_hold_possible" db:"decision_hold_possible"`

	StrategySignal  decision.SignalAction `json:"strategy_signal" db:"strategy_signal"`
	ExecutedAction  decision.Action       `json:"executed_action" db:"executed_action"`
	DecisionOutcome decision.Outcome      `json:"decision_outcome" db:"decision_outcome"`
	RejectReason    string                `json:"reject_reason,omitempty" db:"reject_reason"`
	WasExecuted     bool                  `json:"was_executed" db:"was_executed"`

	Regime     string          `json:"regime" db:"regime"`
	Volatility string          `json:"volatility" db:"volatility"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Volume     decimal.Decimal `json:"volume" db:"volume"`
	Reason     string          `json:"reason" db:"reason"`
}

// Sampler builds samples. It never re-derives the decision fields; it
// copies them from the TickDecision and re-validates as a final safety net
// before the row leaves the process.
type Sampler struct {
	logger *slog.Logger
}

func NewSampler(logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{logger: logger}
}

// Build assembles the sample for one tick. signal may be nil when the
// strategy produced nothing. An error means the decision was inconsistent
// beyond repair and the sample must not be persisted.
func (s *Sampler) Build(
	snap market.Snapshot,
	space model.DecisionSpace,
	signal *model.Signal,
	td decision.TickDecision,
	regime model.RegimeInfo,
) (Sample, error) {
	td, err := s.repair(td)
	if err != nil {
		return Sample{}, err
	}

	out := Sample{
		Timestamp:            snap.Timestamp,
		Symbol:               snap.Symbol,
		Features:             ExtractFeatures(snap.Indicators, snap.Price),
		DecisionBuyPossible:  space.Buy,
		DecisionSellPossible: space.Sell,
		DecisionHoldPossible: true, // holding is always an option
		StrategySignal:       td.Signal,
		ExecutedAction:       td.Action,
		DecisionOutcome:      td.Outcome,
		RejectReason:         td.RejectReason,
		WasExecuted:          td.Executed(),
		Regime:               regime.Regime,
		Volatility:           regime.VolatilityLevel,
		Price:                snap.Price,
		Volume:               snap.Volume,
		Reason:               buildReason(signal, td),
	}
	if out.Regime == "" {
		out.Regime = "unknown"
	}
	if out.Volatility == "" {
		out.Volatility = "medium"
	}
	return out, nil
}

// repair re-validates a decision and applies the only two corrections that
// are safe to make mechanically. Anything else is logged as an error and
// fails the build.
func (s *Sampler) repair(td decision.TickDecision) (decision.TickDecision, error) {
	if err := td.Validate(); err == nil {
		return td, nil
	}

	switch {
	case td.Action == decision.ActionHold && td.Outcome == decision.OutcomeExecuted:
		s.logger.Warn("correcting inconsistent decision",
			"from", td.Outcome, "to", decision.OutcomeNoSignal,
			"executed_action", td.Action)
		td.Outcome = decision.OutcomeNoSignal
		td.Signal = decision.SignalNone
		td.RejectReason = ""
	case td.Action != decision.ActionHold && td.Outcome != decision.OutcomeExecuted:
		s.logger.Warn("correcting inconsistent decision",
			"from", td.Outcome, "to", decision.OutcomeExecuted,
			"executed_action", td.Action)
		td.Outcome = decision.OutcomeExecuted
		td.Signal = decision.SignalAction(td.Action)
		td.RejectReason = ""
	}

	if err := td.Validate(); err != nil {
		s.logger.Error("unrepairable decision, skipping sample",
			"executed_action", td.Action,
			"decision_outcome", td.Outcome,
			"error", err)
		return td, fmt.Errorf("sample: inconsistent decision: %w", err)
	}
	return td, nil
}

// ExtractFeatures computes the relative feature set from raw indicators
// and the current price.
func ExtractFeatures(ind model.Indicators, price decimal.Decimal) Features {
	fast := ind.FastMA.InexactFloat64()
	slow := ind.SlowMA.InexactFloat64()
	rsi := ind.RSI.InexactFloat64()
	atr := ind.ATR.InexactFloat64()
	px := price.InexactFloat64()

	var f Features

	if slow > 0 {
		f.EMADiffPct = (fast - slow) / slow * 100
		f.PriceToSlowPct = (px - slow) / slow * 100
	}
	f.RSINormalized = (rsi - 50) / 50
	if px > 0 {
		f.ATRPct = atr / px * 100
	}
	if fast > 0 {
		f.PriceToFastPct = (px - fast) / fast * 100
	}

	switch {
	case fast > slow:
		f.TrendDirection = 1
	case fast < slow:
		f.TrendDirection = -1
	}
	f.TrendStrength = abs(f.EMADiffPct) / 100

	return f
}

func buildReason(signal *model.Signal, td decision.TickDecision) string {
	switch {
	case td.Action == decision.ActionHold && signal == nil:
		return "HOLD: no signal from strategy"
	case td.Action == decision.ActionHold:
		return fmt.Sprintf("HOLD: signal %s rejected or not executed", signal.Action)
	case signal != nil && signal.Reason != "":
		return signal.Reason
	default:
		return fmt.Sprintf("%s executed", td.Action)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
