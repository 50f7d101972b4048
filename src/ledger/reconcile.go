package ledger

import (
	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
)

// Recomputed is the ledger state derived from the order history.
type Recomputed struct {
	Locked      decimal.Decimal
	RealizedPnl decimal.Decimal
	Equity      decimal.Decimal
	Available   decimal.Decimal
}

// Recompute derives ground truth from the strategy's orders: locked capital
// is the committed capital of still-open orders, equity is initial capital
// plus the realized P&L of resolved orders. Shadow orders carry no capital.
func Recompute(s *model.Strategy, orders []model.Order) Recomputed {
	locked := decimal.Zero
	realized := decimal.Zero
	for i := range orders {
		o := &orders[i]
		if o.IsShadow || o.StrategyID != s.ID {
			continue
		}
		locked = locked.Add(o.CommittedCapital())
		if o.IsResolved() {
			realized = realized.Add(o.RealizedPnl)
		}
	}
	equity := s.InitialCapital.Add(realized)
	return Recomputed{
		Locked:      locked,
		RealizedPnl: realized,
		Equity:      equity,
		Available:   equity.Sub(locked).Sub(s.CooldownCapital),
	}
}

// Correction describes an overwrite applied by Reconcile.
type Correction struct {
	Before     model.Strategy
	After      model.Strategy
	SelfHealed bool
	HealAmount decimal.Decimal
	Magnitude  decimal.Decimal
}

// Reconcile overwrites the persisted capital fields of s with r when any of
// them differs by more than eps. When the recomputed available cash is
// negative, initial capital is raised to bring it back to zero; that
// self-heal masks drift rather than explaining it and is always reported.
// The boolean result is false when s was already consistent.
func Reconcile(s *model.Strategy, r Recomputed, eps decimal.Decimal) (Correction, bool) {
	before := *s
	available := r.Available
	initial := s.InitialCapital
	heal := decimal.Zero
	if available.IsNegative() {
		heal = available.Neg()
		initial = initial.Add(heal)
		available = decimal.Zero
	}

	magnitude := decimal.Max(
		s.AvailableCash.Sub(available).Abs(),
		s.LockedCapital.Sub(r.Locked).Abs(),
		s.RealizedPnl.Sub(r.RealizedPnl).Abs(),
		heal,
	)
	if magnitude.LessThanOrEqual(eps) && heal.IsZero() {
		return Correction{}, false
	}

	s.InitialCapital = initial
	s.AvailableCash = available
	s.LockedCapital = r.Locked
	s.RealizedPnl = r.RealizedPnl

	return Correction{
		Before:     before,
		After:      *s,
		SelfHealed: heal.IsPositive(),
		HealAmount: heal,
		Magnitude:  magnitude,
	}, true
}
