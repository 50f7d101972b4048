// Package ledger holds the per-strategy capital bookkeeping. Functions here
// mutate a *model.Strategy in memory only; callers persist the result under
// the strategy's version check (see repository.StrategyRepository.MutateLedger).
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
)

// Lock moves amount from available cash to locked capital. It fails with
// model.ErrCapitalInsufficient when amount exceeds available cash, in which
// case the strategy is left untouched and no order may be placed.
func Lock(s *model.Strategy, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative lock amount %s", model.ErrValidation, amount)
	}
	if amount.GreaterThan(s.AvailableCash) {
		return fmt.Errorf("%w: need %s, available %s", model.ErrCapitalInsufficient, amount.StringFixed(2), s.AvailableCash.StringFixed(2))
	}
	s.AvailableCash = s.AvailableCash.Sub(amount)
	s.LockedCapital = s.LockedCapital.Add(amount)
	return nil
}

// Unlock returns up to amount of locked capital to available cash. Locked
// capital is floored at zero; the amount actually released is returned.
func Unlock(s *model.Strategy, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	released := decimal.Min(amount, s.LockedCapital)
	s.LockedCapital = s.LockedCapital.Sub(released)
	s.AvailableCash = s.AvailableCash.Add(released)
	return released
}

// ApplyRealizedPnl books a realized gain or loss. Initial capital is not
// touched; the delta is tracked in RealizedPnl and lands in available cash.
func ApplyRealizedPnl(s *model.Strategy, delta decimal.Decimal) {
	s.RealizedPnl = s.RealizedPnl.Add(delta)
	s.AvailableCash = s.AvailableCash.Add(delta)
}

// Imbalance is (available + locked + cooldown) - (initial + realized). It is
// zero for a consistent ledger.
func Imbalance(s *model.Strategy) decimal.Decimal {
	held := s.AvailableCash.Add(s.LockedCapital).Add(s.CooldownCapital)
	return held.Sub(s.Equity())
}

// Consistent reports whether the ledger identity holds within eps and no
// term is negative.
func Consistent(s *model.Strategy, eps decimal.Decimal) bool {
	if s.AvailableCash.IsNegative() || s.LockedCapital.IsNegative() || s.CooldownCapital.IsNegative() {
		return false
	}
	return Imbalance(s).Abs().LessThanOrEqual(eps)
}
