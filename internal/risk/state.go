// Package risk implements the pre-trade gate: daily loss and trade-count
// limits, position-count limits, capital exposure, symbol correlation, and
// ATR-based position sizing with protective stop/target levels.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Limits is the static configuration of the risk gate.
type Limits struct {
	RiskPerTradePct decimal.Decimal // fraction of equity risked per trade
	MaxDailyLossPct decimal.Decimal // kill-switch threshold
	MaxDailyGainPct decimal.Decimal // stop trading after a good day too
	MaxDailyTrades  int
	MaxPositions    int
	MaxExposurePct  decimal.Decimal // fraction of equity deployable at once
	MaxPositionPct  decimal.Decimal // notional ceiling of a single position
	ATRFallbackPct  decimal.Decimal // of price, when ATR is absent or <= 0
	TakeProfitRatio decimal.Decimal // target distance as multiple of ATR
}

// DefaultLimits mirrors the stock configuration of the bot.
func DefaultLimits() Limits {
	return Limits{
		RiskPerTradePct: decimal.NewFromFloat(0.02),
		MaxDailyLossPct: decimal.NewFromFloat(0.03),
		MaxDailyGainPct: decimal.NewFromFloat(0.05),
		MaxDailyTrades:  50,
		MaxPositions:    3,
		MaxExposurePct:  decimal.NewFromFloat(0.5),
		MaxPositionPct:  decimal.NewFromFloat(0.1),
		ATRFallbackPct:  decimal.NewFromFloat(0.015),
		TakeProfitRatio: decimal.NewFromInt(2),
	}
}

// State is the process-wide risk accounting, reset at each day rollover.
// It is mutated only from the engine's single control loop.
type State struct {
	Day          time.Time
	Equity       decimal.Decimal
	EquityAtOpen decimal.Decimal
	DailyPnL     decimal.Decimal
	TradesToday  int
	PeakEquity   decimal.Decimal
	MaxDrawdown  decimal.Decimal // fraction of peak equity
}

// NewState starts a fresh day at the given equity.
func NewState(equity decimal.Decimal, now time.Time) *State {
	return &State{
		Day:          day(now),
		Equity:       equity,
		EquityAtOpen: equity,
		PeakEquity:   equity,
	}
}

// Rollover resets the daily metrics if now belongs to a later trading day
// than the state's current one. Returns true if a rollover happened.
func (s *State) Rollover(now time.Time) bool {
	d := day(now)
	if !d.After(s.Day) {
		return false
	}
	s.Day = d
	s.EquityAtOpen = s.Equity
	s.DailyPnL = decimal.Zero
	s.TradesToday = 0
	return true
}

// ApplyFill records a realized PnL and advances the trade counter,
// equity, peak equity, and max drawdown.
func (s *State) ApplyFill(pnl decimal.Decimal) {
	s.DailyPnL = s.DailyPnL.Add(pnl)
	s.Equity = s.Equity.Add(pnl)
	s.TradesToday++

	if s.Equity.GreaterThan(s.PeakEquity) {
		s.PeakEquity = s.Equity
	}
	if s.PeakEquity.IsPositive() {
		dd := s.PeakEquity.Sub(s.Equity).Div(s.PeakEquity)
		if dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}
}

// Snapshot converts the state into its persistable form.
func (s *State) Snapshot() model.DaySnapshot {
	return model.DaySnapshot{
		Day:          s.Day,
		EquityAtOpen: s.EquityAtOpen,
		Equity:       s.Equity,
		DailyPnL:     s.DailyPnL,
		TradesToday:  s.TradesToday,
	}
}

// Restore reinstates a previously persisted snapshot, so a mid-day restart
// resumes with the loss budget already spent.
func (s *State) Restore(snap model.DaySnapshot) {
	s.Day = day(snap.Day)
	s.EquityAtOpen = snap.EquityAtOpen
	s.Equity = snap.Equity
	s.DailyPnL = snap.DailyPnL
	s.TradesToday = snap.TradesToday
	if s.Equity.GreaterThan(s.PeakEquity) {
		s.PeakEquity = s.Equity
	}
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
