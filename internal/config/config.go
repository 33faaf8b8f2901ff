// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration. Every field has a default so
// the bot runs out of the box in paper-trading mode.
type Config struct {
	Port string `json:"port"`

	// Infrastructure. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string `json:"database_url"`
	RedisURL    string `json:"redis_url"`

	// Upstream services.
	MarketDataURL string `json:"market_data_url"`
	MLScorerURL   string `json:"ml_scorer_url"` // empty disables the ML filter

	// Trading loop.
	Symbols        []string        `json:"symbols"`
	TickInterval   time.Duration   `json:"tick_interval"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	SnapshotMaxAge time.Duration   `json:"snapshot_max_age"`

	// Risk limits.
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
	MaxDailyGainPct float64 `json:"max_daily_gain_pct"`
	MaxDailyTrades  int     `json:"max_daily_trades"`
	MaxPositions    int     `json:"max_positions"`
	MaxExposurePct  float64 `json:"max_exposure_pct"`
	MaxPositionPct  float64 `json:"max_position_pct"`

	// Position lifecycle.
	Accelerated bool `json:"accelerated"` // data-collection mode, forced early exits

	// Market session. Continuous markets ignore the session hours.
	Continuous       bool `json:"continuous"`
	TradingStartHour int  `json:"trading_start_hour"`
	TradingEndHour   int  `json:"trading_end_hour"`
}

// Load returns the defaults overridden by the environment. A .env file in
// the working directory is applied first if present.
func Load() *Config {
	cfg := &Config{
		Port:          "8080",
		MarketDataURL: "http://localhost:9000",

		Symbols:        []string{"BTC-USD"},
		TickInterval:   30 * time.Second,
		InitialCapital: decimal.NewFromInt(10000),
		SnapshotMaxAge: 2 * time.Minute,

		RiskPerTradePct: 0.02,
		MaxDailyLossPct: 0.03,
		MaxDailyGainPct: 0.05,
		MaxDailyTrades:  50,
		MaxPositions:    3,
		MaxExposurePct:  0.5,
		MaxPositionPct:  0.1,

		Continuous:       true,
		TradingStartHour: 9,
		TradingEndHour:   22,
	}

	_ = godotenv.Load()
	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PORT"); val != "" {
		c.Port = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.DatabaseURL = val
	}
	if val := os.Getenv("REDIS_URL"); val != "" {
		c.RedisURL = val
	}
	if val := os.Getenv("MARKET_DATA_URL"); val != "" {
		c.MarketDataURL = val
	}
	if val := os.Getenv("ML_SCORER_URL"); val != "" {
		c.MLScorerURL = val
	}

	if val := os.Getenv("SYMBOLS"); val != "" {
		var symbols []string
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			c.Symbols = symbols
		}
	}
	if val := os.Getenv("TICK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.TickInterval = d
		}
	}
	if val := os.Getenv("INITIAL_CAPITAL"); val != "" {
		if capital, err := decimal.NewFromString(val); err == nil && capital.IsPositive() {
			c.InitialCapital = capital
		}
	}
	if val := os.Getenv("SNAPSHOT_MAX_AGE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.SnapshotMaxAge = d
		}
	}

	if val := os.Getenv("RISK_PER_TRADE_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
			c.RiskPerTradePct = v
		}
	}
	if val := os.Getenv("MAX_DAILY_LOSS_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
			c.MaxDailyLossPct = v
		}
	}
	if val := os.Getenv("MAX_DAILY_GAIN_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
			c.MaxDailyGainPct = v
		}
	}
	if val := os.Getenv("MAX_DAILY_TRADES"); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v > 0 {
			c.MaxDailyTrades = v
		}
	}
	if val := os.Getenv("MAX_POSITIONS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v > 0 {
			c.MaxPositions = v
		}
	}
	if val := os.Getenv("MAX_EXPOSURE_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
			c.MaxExposurePct = v
		}
	}
	if val := os.Getenv("MAX_POSITION_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
			c.MaxPositionPct = v
		}
	}

	if val := os.Getenv("ACCELERATED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Accelerated = enabled
		}
	}
	if val := os.Getenv("CONTINUOUS_MARKET"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Continuous = enabled
		}
	}
	if val := os.Getenv("TRADING_START_HOUR"); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v >= 0 && v < 24 {
			c.TradingStartHour = v
		}
	}
	if val := os.Getenv("TRADING_END_HOUR"); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v > 0 && v <= 24 {
			c.TradingEndHour = v
		}
	}
}
