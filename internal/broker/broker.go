// Package broker defines the order-execution boundary and a paper
// implementation that fills instantly at the requested price.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/model"
)

var (
	// ErrAlreadyClosed is returned for a close on a position the broker no
	// longer holds. Callers treat it as a no-op so retried closes are
	// never double-counted in PnL.
	ErrAlreadyClosed = errors.New("broker: position already closed")

	// ErrInvalidOrder is returned for orders with a non-positive size or price.
	ErrInvalidOrder = errors.New("broker: invalid order")
)

// CloseResult reports the terms of a filled close.
type CloseResult struct {
	ExitPrice decimal.Decimal
	PnL       decimal.Decimal
}

// Broker executes sized orders. Implementations are the only place PnL is
// realized.
type Broker interface {
	Open(ctx context.Context, signal model.Signal) (model.Position, error)
	Close(ctx context.Context, p model.Position, price decimal.Decimal) (CloseResult, error)
}

// Paper is an in-process broker for paper trading and accelerated data
// collection. Fills are immediate at the signal price.
type Paper struct {
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

func NewPaper(logger *slog.Logger) *Paper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paper{logger: logger, held: make(map[string]struct{})}
}

// Open fills the order at signal price and returns the resulting position.
func (b *Paper) Open(_ context.Context, signal model.Signal) (model.Position, error) {
	if signal.Size.LessThanOrEqual(decimal.Zero) || signal.Price.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, fmt.Errorf("%w: size=%s price=%s", ErrInvalidOrder, signal.Size, signal.Price)
	}

	p := model.Position{
		ID:          uuid.NewString(),
		Symbol:      signal.Symbol,
		Side:        signal.Action,
		EntryPrice:  signal.Price,
		EntryTime:   time.Now().UTC(),
		Size:        signal.Size,
		StopLoss:    signal.StopLoss,
		TakeProfit:  signal.TakeProfit,
		InitialStop: signal.StopLoss,
	}

	b.mu.Lock()
	b.held[p.ID] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("order filled",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"side", p.Side,
		"size", p.Size,
		"price", p.EntryPrice)
	return p, nil
}

// Close fills at the given price and realizes PnL. Closing a position the
// broker no longer holds returns ErrAlreadyClosed.
func (b *Paper) Close(_ context.Context, p model.Position, price decimal.Decimal) (CloseResult, error) {
	b.mu.Lock()
	_, ok := b.held[p.ID]
	if ok {
		delete(b.held, p.ID)
	}
	b.mu.Unlock()

	if !ok {
		return CloseResult{}, fmt.Errorf("%w: %s", ErrAlreadyClosed, p.ID)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		// Refuse the fill but keep holding so a corrected retry works.
		b.mu.Lock()
		b.held[p.ID] = struct{}{}
		b.mu.Unlock()
		return CloseResult{}, fmt.Errorf("%w: close price %s", ErrInvalidOrder, price)
	}

	res := CloseResult{ExitPrice: price, PnL: p.UnrealizedPnL(price)}
	b.logger.Info("position closed",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"exit_price", res.ExitPrice,
		"pnl", res.PnL)
	return res, nil
}
