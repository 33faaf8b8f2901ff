// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Samples and trades are
// append-only; day snapshots are upserted.
type Store interface {
	// --- Decision sample stream (append-only, one row per tick) ---

	// InsertSample appends one decision sample.
	InsertSample(ctx context.Context, s *sample.Sample) error

	// ListSamples returns the most recent samples for a symbol, newest
	// first, up to limit.
	ListSamples(ctx context.Context, symbol string, limit int) ([]sample.Sample, error)

	// CountSamplesByOutcome returns per-outcome sample counts, the basic
	// health metric of the decision stream.
	CountSamplesByOutcome(ctx context.Context) (map[decision.Outcome]int, error)

	// --- Immutable trade ledger ---

	// InsertTrade appends a closed-trade record.
	InsertTrade(ctx context.Context, t *model.TradeRecord) error

	// ListTradesByDay returns all trades closed on the given UTC day.
	ListTradesByDay(ctx context.Context, day time.Time) ([]model.TradeRecord, error)

	// ListTradesBySymbol returns all trades for a symbol, oldest first.
	ListTradesBySymbol(ctx context.Context, symbol string) ([]model.TradeRecord, error)

	// --- Daily risk snapshot ---

	// SaveDaySnapshot upserts the risk snapshot for its day.
	SaveDaySnapshot(ctx context.Context, snap model.DaySnapshot) error

	// GetDaySnapshot returns the snapshot for the given UTC day, or
	// ErrNotFound.
	GetDaySnapshot(ctx context.Context, day time.Time) (*model.DaySnapshot, error)
}
