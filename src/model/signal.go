package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is a normalized trade intent observed from a followed source.
type Signal struct {
	ID            string          `json:"id"`
	SourceWallet  string          `json:"source_wallet"`
	MarketID      string          `json:"market_id"`
	Outcome       string          `json:"outcome"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`     // shares
	SizeUSD       decimal.Decimal `json:"size_usd"` // price * shares unless the source reports it
	SourceWinRate decimal.Decimal `json:"source_win_rate"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Watermark marks the last processed signal. Signals are ordered by
// (Timestamp, ID); a signal is after the watermark when its timestamp is
// later, or equal with a greater ID.
type Watermark struct {
	Time     time.Time
	SignalID string
}

// After reports whether sig comes strictly after the watermark.
func (w Watermark) After(sig Signal) bool {
	if sig.Timestamp.After(w.Time) {
		return true
	}
	return sig.Timestamp.Equal(w.Time) && CompareSignalIDs(sig.ID, w.SignalID) > 0
}

// CompareSignalIDs orders ids by length, then byte-wise. Numeric ids
// without leading zeros therefore sort numerically. The read-only trade
// query pages in the same order, so the two must change together.
func CompareSignalIDs(a, b string) int {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	}
	return strings.Compare(a, b)
}
