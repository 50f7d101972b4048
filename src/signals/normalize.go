package signals

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ltexecutor/src/externalmodel"
	"ltexecutor/src/model"
)

// ErrUnordered marks a raw trade that has no identity or timestamp and so
// cannot be placed in the signal order.
var ErrUnordered = errors.New("trade has no id or timestamp")

// Upstream APIs disagree on field names; the first present key wins.
var (
	idKeys        = []string{"id", "order_hash", "tx_hash"}
	marketKeys    = []string{"condition_id", "market_id", "market"}
	outcomeKeys   = []string{"token_label", "outcome"}
	priceKeys     = []string{"price", "avg_price", "avgPrice"}
	sharesKeys    = []string{"shares_normalized", "shares", "size"}
	usdKeys       = []string{"usdc_size", "usdcSize", "size_usd", "amount_usd"}
	timestampKeys = []string{"timestamp", "created_at", "match_time"}
	winRateKeys   = []string{"trader_win_rate", "win_rate"}
)

// Normalize maps a raw API trade of wallet into a Signal. Only a missing
// id or timestamp is an error; other gaps are left zero for the executor
// to reject as invalid, so the signal still occupies its place in order.
func Normalize(raw map[string]interface{}, wallet string) (model.Signal, error) {
	sig := model.Signal{
		SourceWallet: strings.ToLower(strings.TrimSpace(wallet)),
		MarketID:     firstString(raw, marketKeys),
		Outcome:      firstString(raw, outcomeKeys),
		Side:         strings.ToUpper(firstString(raw, []string{"side"})),
		Price:        firstDecimal(raw, priceKeys),
		Size:         firstDecimal(raw, sharesKeys),
		SizeUSD:      firstDecimal(raw, usdKeys),
	}
	sig.SourceWinRate = normalizeRate(firstDecimal(raw, winRateKeys))

	ts, ok := firstTime(raw, timestampKeys)
	if ok {
		sig.Timestamp = ts
	}

	sig.ID = firstString(raw, idKeys)
	if sig.ID == "" && ok {
		sig.ID = fmt.Sprintf("%s_%d_%s", sig.SourceWallet, ts.Unix(), firstString(raw, []string{"tx_hash"}))
	}
	if sig.ID == "" || !ok {
		return sig, ErrUnordered
	}

	if sig.SizeUSD.IsZero() {
		sig.SizeUSD = sig.Price.Mul(sig.Size)
	}
	return sig, nil
}

// FromSourceTrade maps an ingestion table row into a Signal.
func FromSourceTrade(t externalmodel.SourceTrade) (model.Signal, error) {
	raw := map[string]interface{}{
		"id":           t.ID,
		"order_hash":   t.OrderHash,
		"tx_hash":      t.TxHash,
		"condition_id": t.ConditionID,
		"token_label":  t.TokenLabel,
		"side":         t.Side,
	}
	putFloat(raw, "price", t.Price)
	putFloat(raw, "shares_normalized", t.SharesNormalized)
	putFloat(raw, "shares", t.Shares)
	putFloat(raw, "usdc_size", t.UsdcSize)
	putFloat(raw, "trader_win_rate", t.TraderWinRate)
	if t.Timestamp != nil {
		raw["timestamp"] = *t.Timestamp
	}
	return Normalize(raw, t.WalletAddress)
}

func putFloat(raw map[string]interface{}, key string, v *float64) {
	if v != nil {
		raw[key] = *v
	}
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

func firstDecimal(raw map[string]interface{}, keys []string) decimal.Decimal {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return decimal.NewFromFloat(v)
		case int:
			return decimal.NewFromInt(int64(v))
		case int64:
			return decimal.NewFromInt(v)
		case string:
			if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
				return d
			}
		case decimal.Decimal:
			return v
		}
	}
	return decimal.Zero
}

// firstTime accepts unix seconds or milliseconds (number or numeric string)
// and RFC 3339 strings. Results are UTC.
func firstTime(raw map[string]interface{}, keys []string) (time.Time, bool) {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case time.Time:
			if !v.IsZero() {
				return v.UTC(), true
			}
		case float64:
			if v > 0 {
				return fromUnix(int64(v)), true
			}
		case int64:
			if v > 0 {
				return fromUnix(v), true
			}
		case int:
			if v > 0 {
				return fromUnix(int64(v)), true
			}
		case string:
			s := strings.TrimSpace(v)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
				return fromUnix(n), true
			}
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
		}
	}
	return time.Time{}, false
}

func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// normalizeRate turns 62 into 0.62; fractions pass through.
func normalizeRate(r decimal.Decimal) decimal.Decimal {
	if r.GreaterThan(decimal.NewFromInt(1)) {
		return r.Div(decimal.NewFromInt(100))
	}
	return r
}
