package executor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
)

var (
	hundred              = decimal.NewFromInt(100)
	one                  = decimal.NewFromInt(1)
	minLimitPrice        = decimal.RequireFromString("0.01")
	maxLimitPrice        = decimal.RequireFromString("0.99")
	defaultKellyFraction = decimal.RequireFromString("0.25")
)

// ProposeSize computes the USD notional to commit to sig under the
// strategy's sizing policy, clamped to [MinOrderSizeUSD, MaxOrderSizeUSD]
// (zero bounds are ignored). Policies:
//
//	FLAT          SizingValue USD per signal
//	PERCENT       SizingValue percent of equity
//	PASS_THROUGH  the source's notional times SizingValue (1 when unset)
//	KELLY         equity x Kelly edge x SizingValue (0.25 when unset),
//	              edge = (win rate - price) / (1 - price)
//
// A non-positive result is a model.ErrValidation.
func ProposeSize(s *model.Strategy, sig model.Signal) (decimal.Decimal, error) {
	var size decimal.Decimal

	switch strings.ToUpper(s.SizingPolicy) {
	case model.SizingFlat, "":
		size = s.SizingValue
	case model.SizingPercent:
		size = s.Equity().Mul(s.SizingValue).Div(hundred)
	case model.SizingPassThrough:
		mult := s.SizingValue
		if !mult.IsPositive() {
			mult = one
		}
		size = sig.SizeUSD.Mul(mult)
	case model.SizingKelly:
		if !sig.SourceWinRate.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: kelly sizing needs a source win rate", model.ErrValidation)
		}
		edge := sig.SourceWinRate.Sub(sig.Price).Div(one.Sub(sig.Price))
		if !edge.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: no kelly edge at price %s with win rate %s",
				model.ErrValidation, sig.Price, sig.SourceWinRate)
		}
		fraction := s.SizingValue
		if !fraction.IsPositive() {
			fraction = defaultKellyFraction
		}
		size = s.Equity().Mul(edge).Mul(fraction)
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown sizing policy %q", model.ErrValidation, s.SizingPolicy)
	}

	if s.MinOrderSizeUSD.IsPositive() && size.LessThan(s.MinOrderSizeUSD) {
		size = s.MinOrderSizeUSD
	}
	if s.MaxOrderSizeUSD.IsPositive() && size.GreaterThan(s.MaxOrderSizeUSD) {
		size = s.MaxOrderSizeUSD
	}

	size = size.Round(2)
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: order size %s is not positive", model.ErrValidation, size)
	}
	return size, nil
}

// LimitPrice pads the signal price by the tolerance (a percentage) in the
// direction that makes a fill more likely, within [0.01, 0.99].
func LimitPrice(price, tolerancePct decimal.Decimal, side string) decimal.Decimal {
	pad := one.Add(tolerancePct.Div(hundred))
	if side == model.SideSell {
		pad = one.Sub(tolerancePct.Div(hundred))
	}
	limit := price.Mul(pad).Round(4)
	if limit.LessThan(minLimitPrice) {
		return minLimitPrice
	}
	if limit.GreaterThan(maxLimitPrice) {
		return maxLimitPrice
	}
	return limit
}

// validate rejects signals the executor cannot act on.
func validate(sig model.Signal) error {
	switch {
	case sig.ID == "":
		return fmt.Errorf("%w: signal has no id", model.ErrValidation)
	case sig.MarketID == "" || sig.Outcome == "":
		return fmt.Errorf("%w: signal %s has no market or outcome", model.ErrValidation, sig.ID)
	case !sig.Price.IsPositive() || sig.Price.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: signal %s price %s outside (0, 1)", model.ErrValidation, sig.ID, sig.Price)
	case sig.Side != model.SideBuy && sig.Side != model.SideSell:
		return fmt.Errorf("%w: signal %s has side %q", model.ErrValidation, sig.ID, sig.Side)
	}
	return nil
}
