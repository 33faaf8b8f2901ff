package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Rejection describes why a candidate trade was turned down. Source selects
// the decision outcome class, Detail is the human-readable specifics.
type Rejection struct {
	Source string
	Detail string
}

// Gate validates candidate trades against the configured limits and sizes
// the ones that pass. It never returns an error: every failed check is a
// normal Rejection, not a fault.
type Gate struct {
	limits  Limits
	state   *State
	limiter *ExposureLimiter
	logger  *slog.Logger
}

// NewGate builds a gate over the given state. limiter may be nil to disable
// correlated-exposure checks.
func NewGate(limits Limits, state *State, limiter *ExposureLimiter, logger *slog.Logger) *Gate {
	return &Gate{limits: limits, state: state, limiter: limiter, logger: logger}
}

// State exposes the gate's risk accounting to the engine.
func (g *Gate) State() *State { return g.state }

// DailyGuard reports whether trading is still allowed today. It flips to
// false once the absolute daily PnL reaches the configured fraction of
// equity and stays false until the next day rollover.
func (g *Gate) DailyGuard() bool {
	budget := g.state.Equity.Mul(g.limits.MaxDailyLossPct)
	return g.state.DailyPnL.Abs().LessThan(budget)
}

// ValidateTrade checks a candidate signal against every limit. A nil
// return means approved. The call mutates nothing: calling it twice with
// the same state and signal returns the same result.
func (g *Gate) ValidateTrade(signal model.Signal, open []model.Position) *Rejection {
	if rej := g.checkDailyLimits(); rej != nil {
		g.warn(signal, rej)
		return rej
	}

	if len(open) >= g.limits.MaxPositions {
		rej := &Rejection{
			Source: "position",
			Detail: fmt.Sprintf("max open positions reached (%d)", g.limits.MaxPositions),
		}
		g.warn(signal, rej)
		return rej
	}

	exposure := signal.Notional()
	exposures := make(map[string]decimal.Decimal, len(open))
	for _, p := range open {
		if p.Symbol == signal.Symbol {
			rej := &Rejection{
				Source: "correlation",
				Detail: fmt.Sprintf("position already open on %s", signal.Symbol),
			}
			g.warn(signal, rej)
			return rej
		}
		exposure = exposure.Add(p.Notional())
		exposures[p.Symbol] = exposures[p.Symbol].Add(p.Notional())
	}

	maxExposure := g.state.Equity.Mul(g.limits.MaxExposurePct)
	if exposure.GreaterThan(maxExposure) {
		rej := &Rejection{
			Source: "exposure",
			Detail: fmt.Sprintf("total exposure %s exceeds limit %s", exposure.StringFixed(2), maxExposure.StringFixed(2)),
		}
		g.warn(signal, rej)
		return rej
	}

	if g.limiter != nil {
		if err := g.limiter.CheckLimit(signal.Symbol, signal.Notional(), exposures); err != nil {
			rej := &Rejection{Source: "exposure", Detail: err.Error()}
			g.warn(signal, rej)
			return rej
		}
	}

	return nil
}

func (g *Gate) checkDailyLimits() *Rejection {
	lossBudget := g.state.Equity.Mul(g.limits.MaxDailyLossPct)
	if g.state.DailyPnL.IsNegative() && g.state.DailyPnL.Abs().GreaterThanOrEqual(lossBudget) {
		return &Rejection{
			Source: "daily_limit",
			Detail: fmt.Sprintf("daily loss %s reached budget %s", g.state.DailyPnL.StringFixed(2), lossBudget.StringFixed(2)),
		}
	}

	gainBudget := g.state.Equity.Mul(g.limits.MaxDailyGainPct)
	if g.state.DailyPnL.GreaterThanOrEqual(gainBudget) && gainBudget.IsPositive() {
		return &Rejection{
			Source: "daily_limit",
			Detail: fmt.Sprintf("daily gain %s reached budget %s", g.state.DailyPnL.StringFixed(2), gainBudget.StringFixed(2)),
		}
	}

	if g.state.TradesToday >= g.limits.MaxDailyTrades {
		return &Rejection{
			Source: "max_trades",
			Detail: fmt.Sprintf("daily trade cap reached (%d)", g.limits.MaxDailyTrades),
		}
	}
	return nil
}

// SizeAndProtect sizes a candidate signal and attaches its protective
// levels: size = (equity x risk%) / ATR, capped so the position's notional
// never exceeds MaxPositionPct of equity, stop one ATR against the entry,
// target TakeProfitRatio ATRs in favor. When ATR is absent or non-positive
// it falls back to a fixed fraction of price so sizing stays defined even
// when indicator computation degrades.
func (g *Gate) SizeAndProtect(signal model.Signal, atr decimal.Decimal) model.Signal {
	if atr.LessThanOrEqual(decimal.Zero) {
		atr = signal.Price.Mul(g.limits.ATRFallbackPct)
	}

	riskBudget := g.state.Equity.Mul(g.limits.RiskPerTradePct)
	signal.Size = riskBudget.Div(atr)

	// A quiet market makes the ATR divisor tiny; without a notional
	// ceiling one calm tick could deploy the whole account.
	if signal.Price.IsPositive() {
		maxSize := g.state.Equity.Mul(g.limits.MaxPositionPct).Div(signal.Price)
		if signal.Size.GreaterThan(maxSize) {
			signal.Size = maxSize
		}
	}

	targetDist := atr.Mul(g.limits.TakeProfitRatio)
	if signal.Action == model.SideSell {
		signal.StopLoss = signal.Price.Add(atr)
		signal.TakeProfit = signal.Price.Sub(targetDist)
	} else {
		signal.StopLoss = signal.Price.Sub(atr)
		signal.TakeProfit = signal.Price.Add(targetDist)
	}
	return signal
}

func (g *Gate) warn(signal model.Signal, rej *Rejection) {
	if g.logger == nil {
		return
	}
	g.logger.Warn("trade rejected",
		"symbol", signal.Symbol,
		"action", signal.Action,
		"source", rej.Source,
		"detail", rej.Detail)
}
