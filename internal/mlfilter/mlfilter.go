// Package mlfilter screens candidate signals through an external
// ML-scoring service. The filter fails open: when no scorer is configured,
// or the scorer errors or times out, the signal is approved and the
// degradation is logged. A missing model must never stop the bot from
// trading on its base strategy.
package mlfilter

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
)

// Request is what the scorer receives for one candidate signal.
type Request struct {
	Signal   model.Signal     `json:"signal"`
	Features sample.Features  `json:"features"`
	Regime   model.RegimeInfo `json:"regime_info"`
	Equity   string           `json:"equity"`
	OpenPos  int              `json:"open_positions"`
}

// Result is the scorer's verdict.
type Result struct {
	Approved    bool    `json:"approved"`
	Probability float64 `json:"probability"`
	Reason      string  `json:"reason"`
}

// Filter scores a candidate signal. Implementations must not return an
// error for scorer unavailability; they resolve it fail-open instead.
type Filter interface {
	Approve(ctx context.Context, req Request) Result
}

// Noop approves everything. Used when no scorer endpoint is configured.
type Noop struct{}

func (Noop) Approve(context.Context, Request) Result {
	return Result{Approved: true, Probability: 1, Reason: "no ml filter configured"}
}

// HTTPFilter calls a scoring service at POST {baseURL}/v1/score.
type HTTPFilter struct {
	client *resty.Client
	logger *slog.Logger
}

// NewHTTPFilter builds a filter against the scorer base URL.
func NewHTTPFilter(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPFilter {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &HTTPFilter{client: client, logger: logger}
}

// Approve scores the request. Any transport or server failure approves the
// signal fail-open.
func (f *HTTPFilter) Approve(ctx context.Context, req Request) Result {
	var res Result
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&res).
		Post("/v1/score")
	if err != nil {
		f.logger.Warn("ml scorer unreachable, approving fail-open", "error", err)
		return Result{Approved: true, Probability: 0, Reason: "scorer unreachable"}
	}
	if resp.IsError() {
		f.logger.Warn("ml scorer error, approving fail-open", "status", resp.StatusCode())
		return Result{Approved: true, Probability: 0, Reason: "scorer error"}
	}
	return res
}
