// Package strategy generates candidate trade signals from indicator
// snapshots and classifies the daily market regime.
//
// Signal strength and regime confidence are unitless scores in [0, 1],
// computed in float64. Prices and protective levels stay decimal.
package strategy

import (
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Config tunes signal generation.
type Config struct {
	RSIOverbought    float64
	RSIOversold      float64
	MinStrength      float64
	MaxVolatility    float64 // ATR/price ceiling above which signals are suppressed
	MinVolume        decimal.Decimal
	MaxConsecutive   int // identical consecutive signals before suppression
	StopLossPct      decimal.Decimal
	TakeProfitRatio  decimal.Decimal
	Continuous       bool // continuously traded market, no session hours
	TradingStartHour int
	TradingEndHour   int
}

// DefaultConfig mirrors the stock tuning.
func DefaultConfig() Config {
	return Config{
		RSIOverbought:    70,
		RSIOversold:      30,
		MinStrength:      0.3,
		MaxVolatility:    0.05,
		MinVolume:        decimal.NewFromInt(1000),
		MaxConsecutive:   3,
		StopLossPct:      decimal.NewFromFloat(0.01),
		TakeProfitRatio:  decimal.NewFromInt(2),
		Continuous:       true,
		TradingStartHour: 9,
		TradingEndHour:   22,
	}
}

// Strategy is the moving-average crossover signal generator. Not safe for
// concurrent use; the engine's control loop is the only caller.
type Strategy struct {
	cfg    Config
	logger *slog.Logger

	lastAction  model.Side
	consecutive int
}

func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{cfg: cfg, logger: logger}
}

// GenerateSignal evaluates one snapshot. A nil return means no signal, the
// normal outcome for most ticks.
func (s *Strategy) GenerateSignal(snap market.Snapshot) *model.Signal {
	sig := s.analyze(snap)
	if sig == nil {
		return nil
	}
	if !s.passesFilters(sig, snap) {
		return nil
	}

	if sig.Action == s.lastAction {
		s.consecutive++
	} else {
		s.lastAction = sig.Action
		s.consecutive = 1
	}

	s.logger.Info("signal generated",
		"symbol", sig.Symbol,
		"action", sig.Action,
		"strength", sig.Strength,
		"reason", sig.Reason)
	return sig
}

// DecisionSpace reports which actions the current snapshot makes feasible,
// independent of whether a signal clears the strength and filter bars.
func (s *Strategy) DecisionSpace(snap market.Snapshot) model.DecisionSpace {
	fast := snap.Indicators.FastMA.InexactFloat64()
	slow := snap.Indicators.SlowMA.InexactFloat64()
	rsi := snap.Indicators.RSI.InexactFloat64()

	return model.DecisionSpace{
		Buy:  fast > slow && rsi < s.cfg.RSIOverbought,
		Sell: fast < slow && rsi > s.cfg.RSIOversold,
		Hold: true,
	}
}

// Reset clears the consecutive-signal suppression state, typically at day
// rollover.
func (s *Strategy) Reset() {
	s.lastAction = ""
	s.consecutive = 0
}

func (s *Strategy) analyze(snap market.Snapshot) *model.Signal {
	fast := snap.Indicators.FastMA.InexactFloat64()
	slow := snap.Indicators.SlowMA.InexactFloat64()
	rsi := snap.Indicators.RSI.InexactFloat64()
	macd := snap.Indicators.MACD.InexactFloat64()
	macdSig := snap.Indicators.MACDSignal.InexactFloat64()

	if slow <= 0 {
		return nil
	}

	if fast > slow && rsi < s.cfg.RSIOverbought && macd > macdSig && macd > 0 {
		strength := s.strength(fast, slow, rsi, macd, macdSig, true)
		if strength > s.cfg.MinStrength {
			return s.signal(snap, model.SideBuy, strength, "bullish crossover with RSI and MACD confirmation")
		}
	}

	if fast < slow && rsi > s.cfg.RSIOversold && macd < macdSig && macd < 0 {
		strength := s.strength(fast, slow, rsi, macd, macdSig, false)
		if strength > s.cfg.MinStrength {
			return s.signal(snap, model.SideSell, strength, "bearish crossover with RSI and MACD confirmation")
		}
	}

	return nil
}

func (s *Strategy) signal(snap market.Snapshot, side model.Side, strength float64, reason string) *model.Signal {
	one := decimal.NewFromInt(1)
	targetPct := s.cfg.StopLossPct.Mul(s.cfg.TakeProfitRatio)

	sig := &model.Signal{
		Symbol:    snap.Symbol,
		Action:    side,
		Price:     snap.Price,
		Strength:  strength,
		Reason:    reason,
		Timestamp: snap.Timestamp,
	}
	// Preliminary protective levels; the risk gate replaces them with
	// ATR-based ones when it sizes the trade.
	if side == model.SideSell {
		sig.StopLoss = snap.Price.Mul(one.Add(s.cfg.StopLossPct))
		sig.TakeProfit = snap.Price.Mul(one.Sub(targetPct))
	} else {
		sig.StopLoss = snap.Price.Mul(one.Sub(s.cfg.StopLossPct))
		sig.TakeProfit = snap.Price.Mul(one.Add(targetPct))
	}
	return sig
}

// strength blends the MA separation, RSI headroom, and MACD momentum into
// one score. Weights 0.4/0.3/0.3.
func (s *Strategy) strength(fast, slow, rsi, macd, macdSig float64, bullish bool) float64 {
	maDiff := math.Abs(fast-slow) / slow * 100

	var rsiFactor float64
	if bullish {
		rsiFactor = (s.cfg.RSIOverbought - rsi) / s.cfg.RSIOverbought
	} else {
		rsiFactor = (rsi - s.cfg.RSIOversold) / (100 - s.cfg.RSIOversold)
	}

	var macdFactor float64
	if macdSig != 0 {
		macdFactor = math.Abs(macd / macdSig)
	}

	return maDiff*0.4 + rsiFactor*0.3 + macdFactor*0.3
}

func (s *Strategy) passesFilters(sig *model.Signal, snap market.Snapshot) bool {
	if sig.Action == s.lastAction && s.consecutive >= s.cfg.MaxConsecutive {
		s.logger.Info("suppressing repeated signal", "action", sig.Action, "consecutive", s.consecutive)
		return false
	}

	if snap.Price.IsPositive() {
		volatility := snap.Indicators.ATR.Div(snap.Price)
		if volatility.GreaterThan(decimal.NewFromFloat(s.cfg.MaxVolatility)) {
			s.logger.Info("suppressing signal in high volatility", "volatility", volatility.StringFixed(4))
			return false
		}
	}

	if snap.Volume.LessThan(s.cfg.MinVolume) {
		s.logger.Info("suppressing signal on thin volume", "volume", snap.Volume)
		return false
	}

	if !s.cfg.Continuous && !s.withinSession(snap.Timestamp) {
		s.logger.Info("suppressing signal outside session hours")
		return false
	}

	return true
}

func (s *Strategy) withinSession(t time.Time) bool {
	h := t.Hour()
	return h >= s.cfg.TradingStartHour && h < s.cfg.TradingEndHour
}
