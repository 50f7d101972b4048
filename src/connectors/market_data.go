package connectors

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

type priceBody struct {
	Price decimal.Decimal `json:"price"`
}

type marketBody struct {
	ID             string `json:"id"`
	Closed         bool   `json:"closed"`
	Resolved       bool   `json:"resolved"`
	WinningOutcome string `json:"winning_outcome"`
}

// MarketDataClient reads prices and resolutions over REST.
type MarketDataClient struct {
	http *resty.Client
}

// NewMarketDataClient builds a client from cfg.
func NewMarketDataClient(cfg Config) *MarketDataClient {
	return &MarketDataClient{
		http: resty.New().
			SetBaseURL(cfg.MarketDataBaseURL).
			SetTimeout(cfg.MarketDataTimeout).
			SetRetryCount(2).
			SetRetryWaitTime(defaultRetryBaseDelay).
			SetRetryMaxWaitTime(defaultRetryMaxBackoff).
			AddRetryCondition(isRetryableResp),
	}
}

// GetCurrentPrice returns the last traded price of outcome in market.
func (c *MarketDataClient) GetCurrentPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error) {
	var out priceBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"market": marketID, "outcome": outcome}).
		SetResult(&out).
		Get("/prices")
	if cerr := classify(resp, err); cerr != nil {
		return decimal.Zero, cerr
	}
	return out.Price, nil
}

// GetResolution reports whether market resolved and which outcome won. An
// unknown market is reported as unresolved.
func (c *MarketDataClient) GetResolution(ctx context.Context, marketID string) (Resolution, error) {
	var out marketBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/markets/" + marketID)
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return Resolution{}, nil
	}
	if cerr := classify(resp, err); cerr != nil {
		return Resolution{}, cerr
	}
	return Resolution{
		Resolved:       out.Resolved || (out.Closed && out.WinningOutcome != ""),
		WinningOutcome: out.WinningOutcome,
	}, nil
}
