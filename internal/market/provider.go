package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider serves market data snapshots for one symbol at a time.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (Snapshot, error)
}

// HTTPProvider fetches snapshots from a market-data service over HTTP.
// The service is expected to expose GET {baseURL}/v1/snapshot/{symbol}
// returning a Snapshot JSON document.
type HTTPProvider struct {
	client *resty.Client
	maxAge time.Duration
}

// NewHTTPProvider builds a provider against the given base URL. maxAge is
// the oldest snapshot the provider will accept; zero disables the check.
func NewHTTPProvider(baseURL string, timeout, maxAge time.Duration) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond)
	return &HTTPProvider{client: client, maxAge: maxAge}
}

// Snapshot fetches the latest snapshot for symbol.
func (p *HTTPProvider) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	sym, err := ParseSymbol(symbol)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&snap).
		Get("/v1/snapshot/" + sym.Raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("market: fetch snapshot for %s: %w", sym.Raw, err)
	}
	if resp.IsError() {
		return Snapshot{}, fmt.Errorf("market: snapshot request for %s returned %d", sym.Raw, resp.StatusCode())
	}
	if err := snap.Validate(p.maxAge, time.Now()); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
