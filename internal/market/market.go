// Package market defines market data snapshots, symbol parsing, and the
// data provider the engine polls for them.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

// symbolRegex matches: {BASE}-{QUOTE}
// Example: BTC-USD
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	ErrInvalidSymbol = errors.New("market: invalid symbol format")
	ErrStaleSnapshot = errors.New("market: snapshot is stale")
)

// Symbol is a parsed trading pair.
type Symbol struct {
	Raw   string `json:"raw"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParseSymbol parses and validates a trading pair symbol.
// Format: {BASE}-{QUOTE}, e.g. BTC-USD.
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(s)
	if matches == nil {
		return Symbol{}, fmt.Errorf("%w: %s (expected BASE-QUOTE)", ErrInvalidSymbol, raw)
	}
	return Symbol{Raw: s, Base: matches[1], Quote: matches[2]}, nil
}

// Snapshot is one observation of a symbol: price plus the pre-computed
// indicator set the strategy and sampler consume.
type Snapshot struct {
	Symbol     string           `json:"symbol"`
	Price      decimal.Decimal  `json:"price"`
	Volume     decimal.Decimal  `json:"volume"`
	Indicators model.Indicators `json:"indicators"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Validate rejects snapshots older than maxAge. A zero maxAge disables the
// staleness check.
func (s Snapshot) Validate(maxAge time.Duration, now time.Time) error {
	if maxAge > 0 && now.Sub(s.Timestamp) > maxAge {
		return fmt.Errorf("%w: %s observed at %s", ErrStaleSnapshot, s.Symbol, s.Timestamp.Format(time.RFC3339))
	}
	return nil
}
