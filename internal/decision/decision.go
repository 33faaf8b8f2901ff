// Package decision defines the closed vocabulary used to classify every
// tick of the trading engine: what the strategy proposed, what was actually
// done, and why.
//
// Every decision is built through one of the three constructors, which
// guarantee the taxonomy invariants by construction. Validate exists so
// downstream consumers can refuse records that arrive through any other
// path.
package decision

import (
	"errors"
	"fmt"
	"time"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Action is what the engine actually did on a tick.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// SignalAction is what the strategy proposed, before any gate ran.
type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalNone SignalAction = "NONE"
)

// NormalizeSignal collapses any raw signal value to exactly one of
// {BUY, SELL, NONE}.
func NormalizeSignal(raw string) SignalAction {
	switch SignalAction(raw) {
	case SignalBuy:
		return SignalBuy
	case SignalSell:
		return SignalSell
	}
	return SignalNone
}

// Outcome classifies how a tick resolved. The set is closed: downstream
// analytics and model training group on these exact strings.
type Outcome string

const (
	OutcomeNoSignal            Outcome = "no_signal"
	OutcomeExecuted            Outcome = "executed"
	OutcomeRejectedByRisk      Outcome = "rejected_by_risk"
	OutcomeRejectedByLimits    Outcome = "rejected_by_limits"
	OutcomeRejectedByFilters   Outcome = "rejected_by_filters"
	OutcomeRejectedByExecution Outcome = "rejected_by_execution"
)

// Rejected reports whether the outcome is one of the rejection classes.
func (o Outcome) Rejected() bool {
	switch o {
	case OutcomeRejectedByRisk, OutcomeRejectedByLimits,
		OutcomeRejectedByFilters, OutcomeRejectedByExecution:
		return true
	}
	return false
}

var (
	ErrHoldExecuted   = errors.New("decision: HOLD cannot carry an executed outcome")
	ErrTradeNotMarked = errors.New("decision: BUY/SELL action requires an executed outcome")
	ErrSignalMismatch = errors.New("decision: absent signal requires HOLD and no_signal")
	ErrMissingReason  = errors.New("decision: rejected outcome requires a reject reason")
	ErrEmptyDetail    = errors.New("decision: rejection detail must not be empty")
	ErrUnknownOutcome = errors.New("decision: unknown outcome")
	ErrUnknownAction  = errors.New("decision: unknown action")
)

// TickDecision is the immutable record of one evaluation cycle.
type TickDecision struct {
	Signal       SignalAction `json:"strategy_signal_action"`
	Action       Action       `json:"executed_action"`
	Outcome      Outcome      `json:"decision_outcome"`
	RejectReason string       `json:"reject_reason,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Executed reports whether a trade was placed on this tick. It is strictly
// derived from the outcome, never stored separately.
func (d TickDecision) Executed() bool {
	return d.Outcome == OutcomeExecuted
}

// NoSignal builds the decision for a tick where the strategy produced no
// candidate trade.
func NoSignal(now time.Time) TickDecision {
	return TickDecision{
		Signal:    SignalNone,
		Action:    ActionHold,
		Outcome:   OutcomeNoSignal,
		Timestamp: now,
	}
}

// Executed builds the decision for a trade that was placed. side must be
// BUY or SELL; a HOLD can never execute.
func Executed(side model.Side, now time.Time) (TickDecision, error) {
	action, err := fromSide(side)
	if err != nil {
		return TickDecision{}, err
	}
	return TickDecision{
		Signal:    SignalAction(action),
		Action:    action,
		Outcome:   OutcomeExecuted,
		Timestamp: now,
	}, nil
}

// Rejected builds the decision for a candidate trade that some gate turned
// down. side is the signal that was proposed, source names the gate
// ("risk", "ml", "daily_limit", ...) and selects the rejection outcome,
// detail says what specifically failed. The executed action is always HOLD:
// nothing was traded.
func Rejected(side model.Side, source, detail string, now time.Time) (TickDecision, error) {
	signal, err := fromSide(side)
	if err != nil {
		return TickDecision{}, err
	}
	if detail == "" {
		return TickDecision{}, fmt.Errorf("%w (source %q)", ErrEmptyDetail, source)
	}
	outcome, known := mapRejectionSource(source)
	reason := detail
	if !known {
		// Preserve the unrecognized source so the anomaly stays visible
		// in the audit trail.
		reason = fmt.Sprintf("%s: %s", source, detail)
	}
	return TickDecision{
		Signal:       SignalAction(signal),
		Action:       ActionHold,
		Outcome:      outcome,
		RejectReason: reason,
		Timestamp:    now,
	}, nil
}

// mapRejectionSource maps a rejection source onto an outcome class.
// Unrecognized sources default to rejected_by_risk, the most conservative
// class, rather than growing the vocabulary.
func mapRejectionSource(source string) (Outcome, bool) {
	switch source {
	case "ml", "filter":
		return OutcomeRejectedByFilters, true
	case "risk", "exposure", "position", "correlation":
		return OutcomeRejectedByRisk, true
	case "limits", "daily_limit", "max_trades":
		return OutcomeRejectedByLimits, true
	case "execution", "order", "error":
		return OutcomeRejectedByExecution, true
	}
	return OutcomeRejectedByRisk, false
}

func fromSide(side model.Side) (Action, error) {
	switch side {
	case model.SideBuy:
		return ActionBuy, nil
	case model.SideSell:
		return ActionSell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, side)
}

// Validate checks the taxonomy invariants on a raw (action, outcome,
// signal, reason) combination. Pure function; decisions built through the
// constructors always pass.
func Validate(action Action, outcome Outcome, signal SignalAction, rejectReason string) error {
	switch action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	switch outcome {
	case OutcomeNoSignal, OutcomeExecuted,
		OutcomeRejectedByRisk, OutcomeRejectedByLimits,
		OutcomeRejectedByFilters, OutcomeRejectedByExecution:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}

	if action == ActionHold && outcome == OutcomeExecuted {
		return ErrHoldExecuted
	}
	if action != ActionHold && outcome != OutcomeExecuted {
		return fmt.Errorf("%w (action %s, outcome %s)", ErrTradeNotMarked, action, outcome)
	}
	if signal == SignalNone && (action != ActionHold || outcome != OutcomeNoSignal) {
		return fmt.Errorf("%w (action %s, outcome %s)", ErrSignalMismatch, action, outcome)
	}
	if outcome.Rejected() && rejectReason == "" {
		return ErrMissingReason
	}
	return nil
}

// Validate re-checks the invariants on an already-built decision.
func (d TickDecision) Validate() error {
	return Validate(d.Action, d.Outcome, d.Signal, d.RejectReason)
}
