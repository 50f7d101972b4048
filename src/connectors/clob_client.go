// REST client for the prediction-market order book (CLOB).
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
	defaultCancelBatch     = 20
)

// -----------------------------
// WIRE STRUCTURES
// -----------------------------
type placeOrderBody struct {
	Market        string `json:"market"`
	Outcome       string `json:"outcome"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	OrderType     string `json:"order_type"`
	ClientOrderID string `json:"client_order_id"`
}

type orderBody struct {
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	SizeMatched decimal.Decimal `json:"size_matched"`
}

func (b orderBody) fill() OrderFill {
	return OrderFill{
		OrderID:    b.OrderID,
		Status:     b.Status,
		FillPrice:  b.AvgPrice,
		FilledSize: b.SizeMatched,
	}
}

type cancelBody struct {
	OrderIDs []string `json:"order_ids"`
}

type cancelResult struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------

// ClobClient talks to the exchange REST API. Requests are signed with
// HMAC-SHA256 and paced by a token bucket shared by all strategies.
type ClobClient struct {
	apiKey      string
	apiSecret   string
	http        *resty.Client
	limiter     *rate.Limiter
	cancelBatch int
}

// NewClobClient builds a client from cfg.
func NewClobClient(cfg Config) *ClobClient {
	if cfg.ExchangeBaseURL == "" {
		logger.Warn("No exchange base URL provided")
	}
	retries := cfg.ExchangeRetries
	if retries < 0 {
		retries = 0
	}
	batch := cfg.ExchangeCancelBatch
	if batch <= 0 {
		batch = defaultCancelBatch
	}
	limit := rate.Inf
	if cfg.ExchangeRatePerSecond > 0 {
		limit = rate.Limit(cfg.ExchangeRatePerSecond)
	}
	burst := cfg.ExchangeBurst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetBaseURL(cfg.ExchangeBaseURL).
		SetTimeout(cfg.ExchangeTimeout).
		SetRetryCount(retries).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &ClobClient{
		apiKey:      cfg.ExchangeAPIKey,
		apiSecret:   cfg.ExchangeAPISecret,
		http:        httpClient,
		limiter:     rate.NewLimiter(limit, burst),
		cancelBatch: batch,
	}
}

func signRequest(timestamp int64, method, path, body, secret string) string {
	base := strconv.FormatInt(timestamp, 10) + method + path + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *ClobClient) doRequest(ctx context.Context, method, path string, query map[string]string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}

	ts := time.Now().Unix()
	req := c.http.R().
		SetContext(ctx).
		SetHeader("LT-API-KEY", c.apiKey).
		SetHeader("LT-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("LT-SIGNATURE", signRequest(ts, method, path, string(raw), c.apiSecret))

	if len(query) > 0 {
		req = req.SetQueryParams(query)
	}
	if raw != nil {
		req = req.SetBody(raw).SetHeader("Content-Type", "application/json")
	}
	if p, ok := body.(placeOrderBody); ok {
		req = req.SetHeader("Idempotency-Key", p.ClientOrderID)
	}

	resp, err := req.Execute(method, path)
	if cerr := classify(resp, err); cerr != nil {
		return cerr
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// PlaceOrder submits a limit order. The idempotency key travels as the
// client order id; resubmitting the same key returns the original order.
func (c *ClobClient) PlaceOrder(ctx context.Context, r PlaceOrderRequest) (OrderFill, error) {
	body := placeOrderBody{
		Market:        r.MarketID,
		Outcome:       r.Outcome,
		Side:          r.Side,
		Price:         r.Price.String(),
		Size:          r.Size.String(),
		OrderType:     r.OrderType,
		ClientOrderID: r.IdempotencyKey,
	}

	var out orderBody
	if err := c.doRequest(ctx, http.MethodPost, "/order", nil, body, &out); err != nil {
		logger.WithFields(map[string]interface{}{
			"connector": "clob",
			"op":        "PlaceOrder",
			"market":    r.MarketID,
			"key":       r.IdempotencyKey,
		}).WithError(err).Warn("Order submission failed")
		return OrderFill{}, err
	}
	return out.fill(), nil
}

// CancelOrders cancels ids in batches. Orders the exchange reports as
// already gone (filled or cancelled) are not errors.
func (c *ClobClient) CancelOrders(ctx context.Context, orderIDs []string) error {
	for start := 0; start < len(orderIDs); start += c.cancelBatch {
		end := start + c.cancelBatch
		if end > len(orderIDs) {
			end = len(orderIDs)
		}

		var out cancelResult
		if err := c.doRequest(ctx, http.MethodDelete, "/orders", nil, cancelBody{OrderIDs: orderIDs[start:end]}, &out); err != nil {
			return err
		}
		if len(out.NotCanceled) > 0 {
			logger.WithFields(map[string]interface{}{
				"connector":    "clob",
				"op":           "CancelOrders",
				"not_canceled": out.NotCanceled,
			}).Info("Some orders were not cancelled")
		}
	}
	return nil
}

// GetOrderFill reads the current state of an order.
func (c *ClobClient) GetOrderFill(ctx context.Context, orderID string) (OrderFill, error) {
	var out orderBody
	if err := c.doRequest(ctx, http.MethodGet, "/order/"+orderID, nil, nil, &out); err != nil {
		return OrderFill{}, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return out.fill(), nil
}

// FindByClientID returns nil when the exchange has no order for the key.
func (c *ClobClient) FindByClientID(ctx context.Context, idempotencyKey string) (*OrderFill, error) {
	var out orderBody
	err := c.doRequest(ctx, http.MethodGet, "/order", map[string]string{"client_order_id": idempotencyKey}, nil, &out)
	if err != nil {
		if exErr, ok := err.(*ExchangeError); ok && exErr.HTTPStatus == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	f := out.fill()
	return &f, nil
}
