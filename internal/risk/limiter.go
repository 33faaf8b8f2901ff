package risk

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerSymbolLimitExceeded is returned when a trade would push a single
	// symbol's notional beyond the per-symbol maximum.
	ErrPerSymbolLimitExceeded = errors.New("risk: per-symbol exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push the
	// aggregate notional across correlated symbols beyond the correlated
	// maximum.
	ErrCorrelatedLimitExceeded = errors.New("risk: correlated exposure limit exceeded")
)

// ExposureLimiter enforces notional limits with correlation awareness.
//
// Correlation detection uses base-currency matching: BTC-USD and BTC-EUR
// move together, so their exposure is aggregated into one group. This is a
// deliberate simplification of a full correlation matrix; for an intraday
// bot trading a handful of pairs it captures the dominant effect.
type ExposureLimiter struct {
	// MaxPerSymbol is the maximum notional deployed on any single symbol.
	MaxPerSymbol decimal.Decimal

	// MaxCorrelated is the maximum aggregate notional across all symbols
	// sharing the same base currency.
	MaxCorrelated decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-symbol and
// correlated notional limits.
func NewExposureLimiter(maxPerSymbol, maxCorrelated decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{MaxPerSymbol: maxPerSymbol, MaxCorrelated: maxCorrelated}
}

// CheckLimit validates whether adding notionalDelta on targetSymbol keeps
// the book within limits. existingExposures maps symbol to current open
// notional. Returns nil if the trade fits, or an error naming the limit.
func (l *ExposureLimiter) CheckLimit(
	targetSymbol string,
	notionalDelta decimal.Decimal,
	existingExposures map[string]decimal.Decimal,
) error {
	newPosition := existingExposures[targetSymbol].Add(notionalDelta)
	if newPosition.Abs().GreaterThan(l.MaxPerSymbol) {
		return ErrPerSymbolLimitExceeded
	}

	targetBase := baseCurrency(targetSymbol)
	totalCorrelated := newPosition.Abs()
	for symbol, exposure := range existingExposures {
		if symbol == targetSymbol {
			continue // already counted via newPosition above
		}
		if baseCurrency(symbol) == targetBase {
			totalCorrelated = totalCorrelated.Add(exposure.Abs())
		}
	}
	if totalCorrelated.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}

// baseCurrency returns the part of a BASE-QUOTE symbol before the dash, or
// the whole symbol when it has no dash.
func baseCurrency(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
