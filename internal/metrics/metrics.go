// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts evaluation cycles, partitioned by decision outcome.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_ticks_total",
		Help: "Total evaluation cycles by decision outcome",
	}, []string{"outcome"})

	// TickDuration tracks how long one full evaluation cycle takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_tick_duration_seconds",
		Help:    "Evaluation cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_positions",
		Help: "Number of currently open positions",
	})

	// Equity tracks current account equity.
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_equity",
		Help: "Current account equity in quote currency",
	})

	// DailyPnL tracks realized PnL for the current trading day.
	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_daily_pnl",
		Help: "Realized PnL for the current trading day",
	})

	// KillSwitchEngaged is 1 while the daily loss guard has paused trading.
	KillSwitchEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_kill_switch_engaged",
		Help: "1 while the daily loss guard has paused trading",
	})

	// RiskRejections counts trades rejected before execution, by source.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_risk_rejections_total",
		Help: "Candidate trades rejected before execution",
	}, []string{"source"})

	// StopUpdates counts protective stop moves by kind.
	StopUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_stop_updates_total",
		Help: "Protective stop updates by kind (breakeven, trailing)",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
