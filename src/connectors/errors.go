package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"

	"ltexecutor/src/model"
)

// ErrTimeout marks a request that got no answer in time. For submissions
// the order may or may not rest on the book.
var ErrTimeout = errors.New("exchange request timed out")

// ClobErrorCodes maps exchange error codes to human-readable messages.
var ClobErrorCodes = map[string]string{
	"INVALID_ORDER_MIN_TICK_SIZE":      "price breaks the market tick size",
	"INVALID_ORDER_MIN_SIZE":           "order size below market minimum",
	"INVALID_ORDER_DUPLICATED":         "order already placed",
	"INVALID_ORDER_NOT_ENOUGH_BALANCE": "not enough balance or allowance",
	"INVALID_ORDER_EXPIRATION":         "invalid expiration",
	"INVALID_ORDER_ERROR":              "could not insert order",
	"EXECUTION_ERROR":                  "could not run the execution",
	"FOK_ORDER_NOT_FILLED_ERROR":       "fill-or-kill order could not be fully filled",
	"MARKET_NOT_READY":                 "market not accepting orders",
	"ORDER_NOT_FOUND":                  "order not found",
}

// GetErrorMsg returns a human-readable message for a given exchange error code.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code string) string {
	if msg, ok := ClobErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code: %s", code)
}

// ExchangeError is a definitive refusal by the exchange.
type ExchangeError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *ExchangeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("exchange HTTP %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("exchange HTTP %d %s: %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error { return model.ErrExchange }

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify turns a resty outcome into the engine's error taxonomy. It
// returns nil for 2xx responses.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrTimeout, model.ErrExchange)
		}
		return fmt.Errorf("%w: %v", model.ErrExchangeUnavailable, err)
	}
	if resp == nil {
		return fmt.Errorf("%w: empty response", model.ErrExchangeUnavailable)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d: %w", ErrTimeout, status, model.ErrExchange)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: HTTP %d", model.ErrExchangeUnavailable, status)
	}

	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" && body.Code != "" {
		msg = GetErrorMsg(body.Code)
	}
	if msg == "" {
		msg = string(resp.Body())
	}
	return &ExchangeError{HTTPStatus: status, Code: body.Code, Message: msg}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryableResp retries transport errors other than timeouts (a timed
// out submission is followed up instead of re-sent blindly), throttling and
// server errors.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return !isTimeout(err)
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 && code != http.StatusGatewayTimeout {
		return true
	}
	if code == http.StatusTooManyRequests {
		return true
	}
	return false
}
