// Package position implements the lifecycle state machine for open trades:
// hard stop/target enforcement, time-based stops, end-of-session close,
// break-even migration, and ATR trailing stops, with per-position
// excursion tracking.
package position

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Action is what the manager wants done with a position this tick.
type Action string

const (
	ActionHold        Action = "hold"
	ActionClose       Action = "close"
	ActionUpdateStops Action = "update_stops"
)

// Verdict is the result of one evaluation. NewStopLoss is set only for
// update_stops.
type Verdict struct {
	Action      Action
	Reason      string
	NewStopLoss decimal.Decimal
}

// Config tunes the lifecycle rules.
type Config struct {
	TrailingEnabled    bool
	TrailingStartR     decimal.Decimal // R-multiple that arms the trailing stop
	TrailingATRMult    decimal.Decimal // stop distance from the extreme, in ATRs
	BreakevenEnabled   bool
	BreakevenTriggerR  decimal.Decimal
	BreakevenBuffer    decimal.Decimal // fraction of entry price
	MaxDuration        time.Duration
	StaleWindow        time.Duration // one "no movement" period
	StaleWindowLimit   int           // consecutive periods before a stale close
	StaleMinR          decimal.Decimal
	Continuous         bool // continuously traded market, no session close
	SessionEndHour     int  // local hour the session closes
	SessionCloseWindow time.Duration
	Accelerated        bool // data-collection mode, forces early exits
	ForcedTimeStop     time.Duration
}

// DefaultConfig mirrors the stock tuning for a continuously traded market.
func DefaultConfig() Config {
	return Config{
		TrailingEnabled:    true,
		TrailingStartR:     decimal.NewFromFloat(1.5),
		TrailingATRMult:    decimal.NewFromInt(1),
		BreakevenEnabled:   true,
		BreakevenTriggerR:  decimal.NewFromInt(1),
		BreakevenBuffer:    decimal.NewFromFloat(0.001),
		MaxDuration:        4 * time.Hour,
		StaleWindow:        5 * time.Minute,
		StaleWindowLimit:   12,
		StaleMinR:          decimal.NewFromFloat(0.5),
		Continuous:         true,
		SessionEndHour:     22,
		SessionCloseWindow: 30 * time.Minute,
		ForcedTimeStop:     30 * time.Second,
	}
}

// tracking is the manager-owned side data for one open position.
type tracking struct {
	highestPrice     decimal.Decimal
	lowestPrice      decimal.Decimal
	maxFavorable     decimal.Decimal // best per-unit unrealized profit
	maxAdverse       decimal.Decimal // worst per-unit unrealized drawdown, <= 0
	breakevenApplied bool
	trailingActive   bool
	lastPrice        decimal.Decimal
	lastMovement     time.Time
	staleWindows     int
}

// Stats is a read-only view of a position's tracking data.
type Stats struct {
	HighestPrice     decimal.Decimal
	LowestPrice      decimal.Decimal
	MaxFavorable     decimal.Decimal
	MaxAdverse       decimal.Decimal
	BreakevenApplied bool
	TrailingActive   bool
	StaleWindows     int
}

// Manager evaluates open positions once per tick. It is the only component
// allowed to move a position's stop, and it only ever moves stops in the
// trade's favor. Not safe for concurrent use; the engine's single control
// loop is the only caller.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	tracking map[string]*tracking
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		tracking: make(map[string]*tracking),
	}
}

// Evaluate runs the rule chain for one position at the current price.
// Rules are checked in strict priority order and the first match wins; a
// hard stop can therefore never be overridden by adaptive logic further
// down the chain. Stop updates are applied to the position in place.
func (m *Manager) Evaluate(p *model.Position, price, atr decimal.Decimal, now time.Time) Verdict {
	tr, ok := m.tracking[p.ID]
	if !ok {
		tr = &tracking{
			highestPrice: p.EntryPrice,
			lowestPrice:  p.EntryPrice,
			lastPrice:    p.EntryPrice,
			lastMovement: p.EntryTime,
		}
		m.tracking[p.ID] = tr
	}

	age := now.Sub(p.EntryTime)
	perUnitPnL := perUnitPnL(p, price)
	r := rMultiple(perUnitPnL, p.RiskUnit())
	m.updateTracking(tr, p, price, perUnitPnL, now)

	if m.cfg.Accelerated && age >= m.cfg.ForcedTimeStop {
		return m.close(p, fmt.Sprintf("forced time stop after %s", age.Round(time.Second)))
	}

	if hitOriginalStops(p, price) {
		return m.close(p, "stop loss or take profit reached")
	}

	if age > m.cfg.MaxDuration {
		return m.close(p, fmt.Sprintf("max duration exceeded (%s)", age.Round(time.Minute)))
	}
	if tr.staleWindows > m.cfg.StaleWindowLimit && r.LessThan(m.cfg.StaleMinR) {
		return m.close(p, "stale position with no progress")
	}

	if m.endOfSession(now) {
		return m.close(p, "end of session close")
	}

	if m.cfg.BreakevenEnabled && !tr.breakevenApplied && r.GreaterThanOrEqual(m.cfg.BreakevenTriggerR) {
		newStop := breakevenStop(p, m.cfg.BreakevenBuffer)
		tr.breakevenApplied = true
		p.StopLoss = newStop
		m.info(p, "break-even applied", "r_multiple", r.StringFixed(2), "new_stop", newStop.StringFixed(4))
		return Verdict{
			Action:      ActionUpdateStops,
			Reason:      fmt.Sprintf("break-even applied at %sR", r.StringFixed(1)),
			NewStopLoss: newStop,
		}
	}

	if m.cfg.TrailingEnabled && tr.breakevenApplied && r.GreaterThanOrEqual(m.cfg.TrailingStartR) {
		if atr.LessThanOrEqual(decimal.Zero) {
			atr = p.RiskUnit()
		}
		if newStop, ok := trailingStop(p, tr, atr, m.cfg.TrailingATRMult); ok {
			tr.trailingActive = true
			p.StopLoss = newStop
			m.info(p, "trailing stop updated", "new_stop", newStop.StringFixed(4))
			return Verdict{
				Action:      ActionUpdateStops,
				Reason:      "trailing stop tightened",
				NewStopLoss: newStop,
			}
		}
	}

	return Verdict{Action: ActionHold, Reason: "position progressing normally"}
}

// updateTracking runs the per-tick bookkeeping regardless of which rule
// fires afterwards.
func (m *Manager) updateTracking(tr *tracking, p *model.Position, price, perUnitPnL decimal.Decimal, now time.Time) {
	if price.GreaterThan(tr.highestPrice) {
		tr.highestPrice = price
	}
	if price.LessThan(tr.lowestPrice) {
		tr.lowestPrice = price
	}
	if perUnitPnL.GreaterThan(tr.maxFavorable) {
		tr.maxFavorable = perUnitPnL
	}
	if perUnitPnL.LessThan(tr.maxAdverse) {
		tr.maxAdverse = perUnitPnL
	}

	if !price.Equal(tr.lastPrice) {
		tr.lastPrice = price
		tr.lastMovement = now
		tr.staleWindows = 0
	} else if now.Sub(tr.lastMovement) >= m.cfg.StaleWindow {
		tr.staleWindows++
		tr.lastMovement = now
	}
}

// Forget discards the tracking data of a closed position.
func (m *Manager) Forget(positionID string) {
	delete(m.tracking, positionID)
}

// Stats returns the tracking data for an open position, or false if the
// position has never been evaluated.
func (m *Manager) Stats(positionID string) (Stats, bool) {
	tr, ok := m.tracking[positionID]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		HighestPrice:     tr.highestPrice,
		LowestPrice:      tr.lowestPrice,
		MaxFavorable:     tr.maxFavorable,
		MaxAdverse:       tr.maxAdverse,
		BreakevenApplied: tr.breakevenApplied,
		TrailingActive:   tr.trailingActive,
		StaleWindows:     tr.staleWindows,
	}, true
}

func (m *Manager) endOfSession(now time.Time) bool {
	if m.cfg.Continuous {
		return false
	}
	sessionEnd := time.Date(now.Year(), now.Month(), now.Day(), m.cfg.SessionEndHour, 0, 0, 0, now.Location())
	until := sessionEnd.Sub(now)
	return until <= m.cfg.SessionCloseWindow && until > -time.Hour
}

func (m *Manager) close(p *model.Position, reason string) Verdict {
	m.info(p, "close decision", "reason", reason)
	return Verdict{Action: ActionClose, Reason: reason}
}

func (m *Manager) info(p *model.Position, msg string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Info(msg, append([]any{"position_id", p.ID, "symbol", p.Symbol}, args...)...)
}

func perUnitPnL(p *model.Position, price decimal.Decimal) decimal.Decimal {
	if p.Side == model.SideSell {
		return p.EntryPrice.Sub(price)
	}
	return price.Sub(p.EntryPrice)
}

// rMultiple treats a zero risk unit as zero R rather than faulting.
func rMultiple(perUnitPnL, riskUnit decimal.Decimal) decimal.Decimal {
	if riskUnit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return perUnitPnL.Div(riskUnit)
}

func hitOriginalStops(p *model.Position, price decimal.Decimal) bool {
	if p.Side == model.SideSell {
		return price.GreaterThanOrEqual(p.StopLoss) || price.LessThanOrEqual(p.TakeProfit)
	}
	return price.LessThanOrEqual(p.StopLoss) || price.GreaterThanOrEqual(p.TakeProfit)
}

func breakevenStop(p *model.Position, buffer decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if p.Side == model.SideSell {
		return p.EntryPrice.Mul(one.Sub(buffer))
	}
	return p.EntryPrice.Mul(one.Add(buffer))
}

// trailingStop proposes a new stop anchored to the best price seen since
// entry. It returns false unless the proposal tightens the current stop;
// the stop never loosens.
func trailingStop(p *model.Position, tr *tracking, atr, mult decimal.Decimal) (decimal.Decimal, bool) {
	dist := atr.Mul(mult)
	if p.Side == model.SideSell {
		newStop := tr.lowestPrice.Add(dist)
		if newStop.LessThan(p.StopLoss) {
			return newStop, true
		}
		return decimal.Zero, false
	}
	newStop := tr.highestPrice.Sub(dist)
	if newStop.GreaterThan(p.StopLoss) {
		return newStop, true
	}
	return decimal.Zero, false
}
