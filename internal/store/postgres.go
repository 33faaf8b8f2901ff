package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision;
// ML features are DOUBLE PRECISION since they are unitless ratios.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertSample(ctx context.Context, smp *sample.Sample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decision_samples (
			id, timestamp, symbol,
			ema_diff_pct, rsi_normalized, atr_pct,
			price_to_fast_pct, price_to_slow_pct,
			trend_direction, trend_strength,
			decision_buy_possible, decision_sell_possible, decision_hold_possible,
			strategy_signal, executed_action, decision_outcome, reject_reason, was_executed,
			regime, volatility, price, volume, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		         $21::NUMERIC, $22::NUMERIC, $23)`,
		smp.ID, smp.Timestamp, smp.Symbol,
		smp.Features.EMADiffPct, smp.Features.RSINormalized, smp.Features.ATRPct,
		smp.Features.PriceToFastPct, smp.Features.PriceToSlowPct,
		smp.Features.TrendDirection, smp.Features.TrendStrength,
		smp.DecisionBuyPossible, smp.DecisionSellPossible, smp.DecisionHoldPossible,
		string(smp.StrategySignal), string(smp.ExecutedAction), string(smp.DecisionOutcome),
		smp.RejectReason, smp.WasExecuted,
		smp.Regime, smp.Volatility,
		smp.Price.String(), smp.Volume.String(), smp.Reason,
	)
	return err
}

func (s *PostgresStore) ListSamples(ctx context.Context, symbol string, limit int) ([]sample.Sample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, symbol,
		        ema_diff_pct, rsi_normalized, atr_pct,
		        price_to_fast_pct, price_to_slow_pct,
		        trend_direction, trend_strength,
		        decision_buy_possible, decision_sell_possible, decision_hold_possible,
		        strategy_signal, executed_action, decision_outcome, reject_reason, was_executed,
		        regime, volatility, price::TEXT, volume::TEXT, reason
		 FROM decision_samples
		 WHERE symbol = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []sample.Sample
	for rows.Next() {
		var smp sample.Sample
		var signal, action, outcome, priceS, volumeS string

		if err := rows.Scan(&smp.ID, &smp.Timestamp, &smp.Symbol,
			&smp.Features.EMADiffPct, &smp.Features.RSINormalized, &smp.Features.ATRPct,
			&smp.Features.PriceToFastPct, &smp.Features.PriceToSlowPct,
			&smp.Features.TrendDirection, &smp.Features.TrendStrength,
			&smp.DecisionBuyPossible, &smp.DecisionSellPossible, &smp.DecisionHoldPossible,
			&signal, &action, &outcome, &smp.RejectReason, &smp.WasExecuted,
			&smp.Regime, &smp.Volatility, &priceS, &volumeS, &smp.Reason); err != nil {
			return nil, err
		}

		smp.StrategySignal = decision.SignalAction(signal)
		smp.ExecutedAction = decision.Action(action)
		smp.DecisionOutcome = decision.Outcome(outcome)
		smp.Price, _ = decimal.NewFromString(priceS)
		smp.Volume, _ = decimal.NewFromString(volumeS)

		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

func (s *PostgresStore) CountSamplesByOutcome(ctx context.Context) (map[decision.Outcome]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT decision_outcome, COUNT(*)
		 FROM decision_samples
		 GROUP BY decision_outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[decision.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[decision.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, position_id, symbol, side, entry_price, exit_price, size, pnl, reason, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		t.ID, t.PositionID, t.Symbol, string(t.Side),
		t.EntryPrice.String(), t.ExitPrice.String(), t.Size.String(), t.PnL.String(),
		t.Reason, t.OpenedAt, t.ClosedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByDay(ctx context.Context, day time.Time) ([]model.TradeRecord, error) {
	day = truncateDay(day)
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, symbol, side,
		        entry_price::TEXT, exit_price::TEXT, size::TEXT, pnl::TEXT,
		        reason, opened_at, closed_at
		 FROM trades
		 WHERE closed_at >= $1 AND closed_at < $2
		 ORDER BY closed_at`, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesBySymbol(ctx context.Context, symbol string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, symbol, side,
		        entry_price::TEXT, exit_price::TEXT, size::TEXT, pnl::TEXT,
		        reason, opened_at, closed_at
		 FROM trades
		 WHERE symbol = $1
		 ORDER BY closed_at`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SaveDaySnapshot(ctx context.Context, snap model.DaySnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO day_snapshots (day, equity_at_open, equity, daily_pnl, trades_today)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (day) DO UPDATE SET
		     equity_at_open = EXCLUDED.equity_at_open,
		     equity = EXCLUDED.equity,
		     daily_pnl = EXCLUDED.daily_pnl,
		     trades_today = EXCLUDED.trades_today`,
		truncateDay(snap.Day),
		snap.EquityAtOpen.String(), snap.Equity.String(), snap.DailyPnL.String(),
		snap.TradesToday,
	)
	return err
}

func (s *PostgresStore) GetDaySnapshot(ctx context.Context, day time.Time) (*model.DaySnapshot, error) {
	var snap model.DaySnapshot
	var equityAtOpen, equity, dailyPnL string

	err := s.pool.QueryRow(ctx,
		`SELECT day, equity_at_open::TEXT, equity::TEXT, daily_pnl::TEXT, trades_today
		 FROM day_snapshots WHERE day = $1`, truncateDay(day)).
		Scan(&snap.Day, &equityAtOpen, &equity, &dailyPnL, &snap.TradesToday)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get day snapshot %s: %w", day.Format("2006-01-02"), err)
	}

	snap.EquityAtOpen, _ = decimal.NewFromString(equityAtOpen)
	snap.Equity, _ = decimal.NewFromString(equity)
	snap.DailyPnL, _ = decimal.NewFromString(dailyPnL)

	return &snap, nil
}

// scanTrades reads pgx rows into TradeRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.TradeRecord, error) {
	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side, entryS, exitS, sizeS, pnlS string

		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &side,
			&entryS, &exitS, &sizeS, &pnlS,
			&t.Reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		t.EntryPrice, _ = decimal.NewFromString(entryS)
		t.ExitPrice, _ = decimal.NewFromString(exitS)
		t.Size, _ = decimal.NewFromString(sizeS)
		t.PnL, _ = decimal.NewFromString(pnlS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
