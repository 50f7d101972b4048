// Package pnl computes realized profit and loss for reporting. Buys of a
// (market, outcome) position queue up as lots; sells consume the oldest
// lots first, and lots still open when the market resolves are valued at
// the resolution price.
package pnl

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
	"ltexecutor/src/utils"
)

// Trade is one executed buy or sell.
type Trade struct {
	MarketID string
	Outcome  string
	Side     string
	Price    decimal.Decimal
	Size     decimal.Decimal // shares
	At       time.Time
}

// Resolution values the open lots of one position. Approximated marks a
// Value taken from the last observed price instead of the resolved outcome.
type Resolution struct {
	Value        decimal.Decimal
	Approximated bool
	At           time.Time
}

// Position identifies an outcome held in a market.
type Position struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
}

type Day struct {
	Date       string          `json:"date"`
	Realized   decimal.Decimal `json:"realized"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

type Report struct {
	Days          []Day           `json:"days"`
	Total         decimal.Decimal `json:"total"`
	OpenPositions int             `json:"open_positions"`
	Approximated  int             `json:"approximated"`
	// UnmatchedShares counts sold shares with no open lot to match.
	UnmatchedShares decimal.Decimal `json:"unmatched_shares"`
}

type lot struct {
	price     decimal.Decimal
	remaining decimal.Decimal
}

type Aggregator struct {
	lots         map[Position][]lot
	daily        map[string]decimal.Decimal
	approximated int
	unmatched    decimal.Decimal
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		lots:  map[Position][]lot{},
		daily: map[string]decimal.Decimal{},
	}
}

func positionOf(marketID, outcome string) Position {
	return Position{MarketID: marketID, Outcome: strings.TrimSpace(outcome)}
}

func dateOf(t time.Time) string {
	return utils.ResetTime(t, "day").Format(time.DateOnly)
}

func (a *Aggregator) realize(at time.Time, amount decimal.Decimal) {
	d := dateOf(at)
	a.daily[d] = a.daily[d].Add(amount)
}

// Add applies trades in the order given; AddAll sorts them first.
func (a *Aggregator) Add(t Trade) {
	if !t.Size.IsPositive() {
		return
	}
	p := positionOf(t.MarketID, t.Outcome)

	if !strings.EqualFold(t.Side, model.SideSell) {
		a.lots[p] = append(a.lots[p], lot{price: t.Price, remaining: t.Size})
		return
	}

	queue := a.lots[p]
	left := t.Size
	cost := decimal.Zero
	matched := decimal.Zero
	for len(queue) > 0 && left.IsPositive() {
		head := &queue[0]
		take := decimal.Min(head.remaining, left)
		cost = cost.Add(take.Mul(head.price))
		matched = matched.Add(take)
		head.remaining = head.remaining.Sub(take)
		left = left.Sub(take)
		if !head.remaining.IsPositive() {
			queue = queue[1:]
		}
	}
	if len(queue) == 0 {
		delete(a.lots, p)
	} else {
		a.lots[p] = queue
	}

	if left.IsPositive() {
		a.unmatched = a.unmatched.Add(left)
	}
	if matched.IsPositive() {
		a.realize(t.At, matched.Mul(t.Price).Sub(cost))
	}
}

// AddAll applies trades oldest first.
func (a *Aggregator) AddAll(trades []Trade) {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	for _, t := range sorted {
		a.Add(t)
	}
}

// Open lists positions that still hold lots, in a stable order.
func (a *Aggregator) Open() []Position {
	out := make([]Position, 0, len(a.lots))
	for p := range a.lots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

// Resolve closes every open lot of p at r.Value on r.At.
func (a *Aggregator) Resolve(p Position, r Resolution) {
	p = positionOf(p.MarketID, p.Outcome)
	queue, ok := a.lots[p]
	if !ok {
		return
	}
	amount := decimal.Zero
	for _, l := range queue {
		amount = amount.Add(r.Value.Sub(l.price).Mul(l.remaining))
	}
	delete(a.lots, p)
	if r.Approximated {
		a.approximated++
	}
	a.realize(r.At, amount)
}

func (a *Aggregator) Report() Report {
	dates := make([]string, 0, len(a.daily))
	for d := range a.daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	r := Report{
		Days:            make([]Day, 0, len(dates)),
		OpenPositions:   len(a.lots),
		Approximated:    a.approximated,
		UnmatchedShares: a.unmatched,
	}
	running := decimal.Zero
	for _, d := range dates {
		running = running.Add(a.daily[d])
		r.Days = append(r.Days, Day{Date: d, Realized: a.daily[d].Round(6), Cumulative: running.Round(6)})
	}
	r.Total = running.Round(6)
	return r
}

// ResolutionValue is 1 when outcome won and 0 when it lost. Without a
// winning outcome the last observed price is used and the value is
// flagged as approximated.
func ResolutionValue(outcome, winner string, lastPrice decimal.Decimal) (decimal.Decimal, bool) {
	if winner == "" {
		return lastPrice, true
	}
	if strings.EqualFold(strings.TrimSpace(outcome), strings.TrimSpace(winner)) {
		return decimal.NewFromInt(1), false
	}
	return decimal.Zero, false
}
