package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Gonzalo32/daily-trading/internal/broker"
	"github.com/Gonzalo32/daily-trading/internal/config"
	"github.com/Gonzalo32/daily-trading/internal/engine"
	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/metrics"
	"github.com/Gonzalo32/daily-trading/internal/mlfilter"
	"github.com/Gonzalo32/daily-trading/internal/position"
	"github.com/Gonzalo32/daily-trading/internal/risk"
	"github.com/Gonzalo32/daily-trading/internal/sample"
	"github.com/Gonzalo32/daily-trading/internal/server"
	"github.com/Gonzalo32/daily-trading/internal/store"
	"github.com/Gonzalo32/daily-trading/internal/strategy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk ---
	limits := risk.DefaultLimits()
	limits.RiskPerTradePct = decimal.NewFromFloat(cfg.RiskPerTradePct)
	limits.MaxDailyLossPct = decimal.NewFromFloat(cfg.MaxDailyLossPct)
	limits.MaxDailyGainPct = decimal.NewFromFloat(cfg.MaxDailyGainPct)
	limits.MaxDailyTrades = cfg.MaxDailyTrades
	limits.MaxPositions = cfg.MaxPositions
	limits.MaxExposurePct = decimal.NewFromFloat(cfg.MaxExposurePct)
	limits.MaxPositionPct = decimal.NewFromFloat(cfg.MaxPositionPct)

	state := risk.NewState(cfg.InitialCapital, time.Now().UTC())

	// Exposure caps: 20% of capital per symbol, 40% per base currency.
	limiter := risk.NewExposureLimiter(
		cfg.InitialCapital.Mul(decimal.NewFromFloat(0.2)),
		cfg.InitialCapital.Mul(decimal.NewFromFloat(0.4)),
	)
	gate := risk.NewGate(limits, state, limiter, logger)

	// --- Strategy ---
	stratCfg := strategy.DefaultConfig()
	stratCfg.Continuous = cfg.Continuous
	stratCfg.TradingStartHour = cfg.TradingStartHour
	stratCfg.TradingEndHour = cfg.TradingEndHour
	strat := strategy.New(stratCfg, logger)

	// --- Position lifecycle ---
	posCfg := position.DefaultConfig()
	posCfg.Accelerated = cfg.Accelerated
	posCfg.Continuous = cfg.Continuous
	posCfg.SessionEndHour = cfg.TradingEndHour
	manager := position.NewManager(posCfg, logger)

	// --- ML filter ---
	var filter mlfilter.Filter = mlfilter.Noop{}
	if cfg.MLScorerURL != "" {
		filter = mlfilter.NewHTTPFilter(cfg.MLScorerURL, 5*time.Second, logger)
		slog.Info("ML signal filter enabled", "url", cfg.MLScorerURL)
	}

	// --- WebSocket hub ---
	wsHub := server.NewWSHub()
	go wsHub.Run()

	// --- Engine ---
	provider := market.NewHTTPProvider(cfg.MarketDataURL, 10*time.Second, cfg.SnapshotMaxAge)
	eng := engine.New(
		engine.Config{Symbols: cfg.Symbols, TickInterval: cfg.TickInterval},
		provider,
		strat,
		strategy.NewRegimeClassifier(logger),
		sample.NewSampler(logger),
		gate,
		manager,
		filter,
		broker.NewPaper(logger),
		st,
		wsHub,
		logger,
	)

	if err := eng.Restore(context.Background(), time.Now().UTC()); err != nil {
		slog.Error("day snapshot restore failed", "err", err)
		os.Exit(1)
	}

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(engineCtx)
	}()

	// --- Query service ---
	svc := server.NewService(eng, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"daily-trading"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time engine events.
		r.Get("/ws", wsHub.HandleWS)

		// Engine state.
		r.Get("/status", svc.GetStatus)
		r.Get("/positions", svc.GetPositions)

		// Decision sample stream.
		r.Get("/samples/outcomes", svc.GetOutcomeCounts)
		r.Get("/samples/{symbol}", svc.ListSamples)

		// Trade ledger and daily snapshots.
		r.Get("/trades", svc.ListTrades)
		r.Get("/days/{day}", svc.GetDaySnapshot)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("daily-trading listening", "port", cfg.Port, "symbols", cfg.Symbols)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down daily-trading...")

	// Stop the tick loop first so no trade lands mid-shutdown.
	stopEngine()
	select {
	case <-engineDone:
	case <-time.After(10 * time.Second):
		slog.Warn("engine did not stop in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("daily-trading stopped")
}
