// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Dimensionless analytics (features, signal strength) use float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Indicators is the fixed technical indicator set attached to every market
// data snapshot. The engine never computes indicators itself; they arrive
// pre-computed from the data provider.
type Indicators struct {
	FastMA     decimal.Decimal `json:"fast_ma"`
	SlowMA     decimal.Decimal `json:"slow_ma"`
	RSI        decimal.Decimal `json:"rsi"`
	ATR        decimal.Decimal `json:"atr"`
	MACD       decimal.Decimal `json:"macd"`
	MACDSignal decimal.Decimal `json:"macd_signal"`
}

// Signal is a candidate trade produced by the strategy. Size is zero until
// the risk gate has sized the trade.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Action     Side            `json:"action"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Size       decimal.Decimal `json:"size"`
	Strength   float64         `json:"strength"`
	Reason     string          `json:"reason"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notional returns the quote-currency value of the sized signal.
func (s Signal) Notional() decimal.Decimal {
	return s.Size.Mul(s.Price)
}

// Position is one open trade. StopLoss and TakeProfit are mutated only by
// the position lifecycle manager; everything else is fixed at entry.
type Position struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	Size        decimal.Decimal `json:"size"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	InitialStop decimal.Decimal `json:"initial_stop"` // basis of the risk unit R
}

// RiskUnit returns |entry − initial stop|, the denominator of every
// R-multiple computed for this position.
func (p Position) RiskUnit() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStop).Abs()
}

// UnrealizedPnL returns the profit at the given mark price, scaled by
// position size. Positive is favorable for either side.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideSell {
		return p.EntryPrice.Sub(price).Mul(p.Size)
	}
	return price.Sub(p.EntryPrice).Mul(p.Size)
}

// Notional returns the quote-currency value of the position at entry.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// TradeRecord is an immutable record of a closed trade.
// Once created, these are never modified or deleted.
type TradeRecord struct {
	ID         string          `json:"id" db:"id"`
	PositionID string          `json:"position_id" db:"position_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       Side            `json:"side" db:"side"`
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price" db:"exit_price"`
	Size       decimal.Decimal `json:"size" db:"size"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"`
	Reason     string          `json:"reason" db:"reason"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at" db:"closed_at"`
}

// DaySnapshot captures the risk state during one trading day so a mid-day
// restart resumes with the daily loss budget already spent.
type DaySnapshot struct {
	Day          time.Time       `json:"day"`
	EquityAtOpen decimal.Decimal `json:"equity_at_open"`
	Equity       decimal.Decimal `json:"equity"`
	DailyPnL     decimal.Decimal `json:"daily_pnl"`
	TradesToday  int             `json:"trades_today"`
}

// RegimeInfo is the daily market context attached to every decision sample.
type RegimeInfo struct {
	Regime          string  `json:"regime"`
	Confidence      float64 `json:"confidence"`
	VolatilityLevel string  `json:"volatility_level"`
}

// DecisionSpace records which actions the strategy considered feasible on a
// tick, independent of what was actually decided. Hold is always feasible.
type DecisionSpace struct {
	Buy  bool `json:"buy"`
	Sell bool `json:"sell"`
	Hold bool `json:"hold"`
}
