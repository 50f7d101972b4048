package connectors

// Test index:
//  1. TestIsRetryableResp verifies retry decisions for various response codes and errors.
//  2. TestSignRequest validates HMAC signature generation inputs and output.
//  3. TestPlaceOrder checks the payload, idempotency header and fill decoding.
//  4. TestPlaceOrderErrors maps exchange refusals, outages and timeouts to the error taxonomy.
//  5. TestCancelOrdersBatches splits cancels into batches.
//  6. TestFindByClientID returns nil for unknown keys.
//  7. TestMarketDataClient covers price and resolution reads.
//  8. TestDryRunExchangeIsIdempotent returns the original fill on resubmission.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltexecutor/src/model"
)

func testConfig(baseURL string) Config {
	return Config{
		ExchangeBaseURL:     baseURL,
		ExchangeAPIKey:      "test-key",
		ExchangeAPISecret:   "test-secret",
		ExchangeTimeout:     2 * time.Second,
		ExchangeRetries:     0,
		ExchangeCancelBatch: 2,
		MarketDataBaseURL:   baseURL,
		MarketDataTimeout:   2 * time.Second,
	}
}

func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "transport error", err: assertError{}, want: true},
		{name: "timeout error", err: context.DeadlineExceeded, want: false},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "gateway timeout", resp: fakeResponse(504), want: false},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func TestSignRequest(t *testing.T) {
	expectedMac := hmac.New(sha256.New, []byte("secret"))
	expectedMac.Write([]byte("1700000000" + "POST" + "/order" + "body"))
	expected := hex.EncodeToString(expectedMac.Sum(nil))

	assert.Equal(t, expected, signRequest(1700000000, "POST", "/order", "body", "secret"))
}

func TestPlaceOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "lt-1-sig", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "test-key", r.Header.Get("LT-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("LT-SIGNATURE"))

		var body placeOrderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m-1", body.Market)
		assert.Equal(t, "0.45", body.Price)
		assert.Equal(t, "lt-1-sig", body.ClientOrderID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"ex-9","status":"MATCHED","avg_price":"0.43","size_matched":"20"}`))
	}))
	defer server.Close()

	client := NewClobClient(testConfig(server.URL))
	fill, err := client.PlaceOrder(context.Background(), PlaceOrderRequest{
		MarketID:       "m-1",
		Outcome:        "Yes",
		Side:           model.SideBuy,
		Price:          decimal.RequireFromString("0.45"),
		Size:           decimal.NewFromInt(20),
		OrderType:      model.OrderTypeGTC,
		IdempotencyKey: "lt-1-sig",
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-9", fill.OrderID)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("0.43")))
	assert.True(t, fill.Filled())
}

func TestPlaceOrderErrors(t *testing.T) {
	t.Run("refusal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"INVALID_ORDER_MIN_SIZE"}`))
		}))
		defer server.Close()

		_, err := NewClobClient(testConfig(server.URL)).PlaceOrder(context.Background(), PlaceOrderRequest{IdempotencyKey: "k"})
		var exErr *ExchangeError
		require.True(t, errors.As(err, &exErr))
		assert.Equal(t, "INVALID_ORDER_MIN_SIZE", exErr.Code)
		assert.Equal(t, "order size below market minimum", exErr.Message)
		assert.ErrorIs(t, err, model.ErrExchange)
		assert.NotErrorIs(t, err, model.ErrExchangeUnavailable)
	})

	t.Run("outage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewClobClient(testConfig(server.URL)).PlaceOrder(context.Background(), PlaceOrderRequest{IdempotencyKey: "k"})
		assert.ErrorIs(t, err, model.ErrExchangeUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewClobClient(testConfig(url)).PlaceOrder(context.Background(), PlaceOrderRequest{IdempotencyKey: "k"})
		assert.ErrorIs(t, err, model.ErrExchangeUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.ExchangeTimeout = 50 * time.Millisecond
		_, err := NewClobClient(cfg).PlaceOrder(context.Background(), PlaceOrderRequest{IdempotencyKey: "k"})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, model.ErrExchange)
	})
}

func TestCancelOrdersBatches(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodDelete, r.Method)
		var body cancelBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.LessOrEqual(t, len(body.OrderIDs), 2)
		_ = json.NewEncoder(w).Encode(cancelResult{Canceled: body.OrderIDs})
	}))
	defer server.Close()

	err := NewClobClient(testConfig(server.URL)).CancelOrders(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFindByClientID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("client_order_id") == "known" {
			_, _ = w.Write([]byte(`{"order_id":"ex-1","status":"MATCHED","avg_price":"0.5","size_matched":"4"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"ORDER_NOT_FOUND"}`))
	}))
	defer server.Close()

	client := NewClobClient(testConfig(server.URL))
	fill, err := client.FindByClientID(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, fill)

	fill, err = client.FindByClientID(context.Background(), "known")
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, "ex-1", fill.OrderID)
}

func TestMarketDataClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/prices":
			assert.Equal(t, "m-1", r.URL.Query().Get("market"))
			_, _ = w.Write([]byte(`{"price":"0.61"}`))
		case "/markets/m-1":
			_, _ = w.Write([]byte(`{"id":"m-1","closed":true,"resolved":true,"winning_outcome":"No"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	md := NewMarketDataClient(testConfig(server.URL))
	price, err := md.GetCurrentPrice(context.Background(), "m-1", "Yes")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.61")))

	res, err := md.GetResolution(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "No", res.WinningOutcome)

	res, err = md.GetResolution(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Resolved)
}

func TestDryRunExchangeIsIdempotent(t *testing.T) {
	ex := NewDryRunExchange()
	req := PlaceOrderRequest{MarketID: "m", Price: decimal.RequireFromString("0.3"), Size: decimal.NewFromInt(10), IdempotencyKey: "k"}

	first, err := ex.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := ex.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	found, err := ex.FindByClientID(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.OrderID, found.OrderID)
}

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}
