package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
)

// Reason is the rule that denied a proposed order.
type Reason string

const (
	ReasonPaused       Reason = "PAUSED"
	ReasonPositionSize Reason = "POSITION_SIZE"
	ReasonExposure     Reason = "EXPOSURE"
	ReasonDailyBudget  Reason = "DAILY_BUDGET"
	ReasonDailyLoss    Reason = "DAILY_LOSS"
	ReasonCashCheck    Reason = "CASH_CHECK"
	ReasonSlippage     Reason = "SLIPPAGE"
	ReasonDailyTrades  Reason = "DAILY_TRADES"
)

var hundred = decimal.NewFromInt(100)

// Rules are a strategy's risk thresholds. A zero threshold disables its check.
type Rules struct {
	MaxPositionSizeUSD  decimal.Decimal
	MaxTotalExposureUSD decimal.Decimal
	DailyBudgetUSD      decimal.Decimal
	MaxDailyLossUSD     decimal.Decimal
	MaxSlippagePct      decimal.Decimal
	MaxTradesPerDay     int
}

// RulesFromStrategy extracts the risk thresholds configured on s.
func RulesFromStrategy(s *model.Strategy) Rules {
	return Rules{
		MaxPositionSizeUSD:  s.MaxPositionSizeUSD,
		MaxTotalExposureUSD: s.MaxTotalExposureUSD,
		DailyBudgetUSD:      s.DailyBudgetUSD,
		MaxDailyLossUSD:     s.MaxDailyLossUSD,
		MaxSlippagePct:      s.MaxSlippagePct,
		MaxTradesPerDay:     s.MaxTradesPerDay,
	}
}

// StrategySnapshot is the ledger and activity view the rules are checked against.
type StrategySnapshot struct {
	Paused            bool
	AvailableCash     decimal.Decimal
	OpenExposure      decimal.Decimal // committed capital of open orders
	FilledTodayUSD    decimal.Decimal
	RealizedLossToday decimal.Decimal // positive number
	TradesToday       int
}

// ProposedOrder is the order the executor wants to place.
type ProposedOrder struct {
	SizeUSD    decimal.Decimal
	LimitPrice decimal.Decimal
	LastPrice  decimal.Decimal // zero when unknown
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Evaluate checks a proposed order against the rules. Checks run in a fixed
// order and the first violation wins. It has no side effects.
func Evaluate(rules Rules, state model.RiskState, snap StrategySnapshot, order ProposedOrder) Decision {
	if snap.Paused || state.CircuitBreakerActive {
		if state.CircuitBreakerActive {
			return deny(ReasonPaused, "circuit breaker active: %s", state.TripReason)
		}
		return deny(ReasonPaused, "strategy paused")
	}

	size := order.SizeUSD
	if rules.MaxPositionSizeUSD.IsPositive() && size.GreaterThan(rules.MaxPositionSizeUSD) {
		return deny(ReasonPositionSize, "order %s exceeds max position %s",
			size.StringFixed(2), rules.MaxPositionSizeUSD.StringFixed(2))
	}

	if rules.MaxTotalExposureUSD.IsPositive() {
		exposure := snap.OpenExposure.Add(size)
		if exposure.GreaterThan(rules.MaxTotalExposureUSD) {
			return deny(ReasonExposure, "exposure %s would exceed %s",
				exposure.StringFixed(2), rules.MaxTotalExposureUSD.StringFixed(2))
		}
	}

	if rules.DailyBudgetUSD.IsPositive() {
		spent := snap.FilledTodayUSD.Add(size)
		if spent.GreaterThan(rules.DailyBudgetUSD) {
			return deny(ReasonDailyBudget, "daily spend %s would exceed budget %s",
				spent.StringFixed(2), rules.DailyBudgetUSD.StringFixed(2))
		}
	}

	if rules.MaxDailyLossUSD.IsPositive() && snap.RealizedLossToday.GreaterThanOrEqual(rules.MaxDailyLossUSD) {
		return deny(ReasonDailyLoss, "daily loss %s reached limit %s",
			snap.RealizedLossToday.StringFixed(2), rules.MaxDailyLossUSD.StringFixed(2))
	}

	if snap.AvailableCash.LessThan(size) {
		return deny(ReasonCashCheck, "available cash %s below order size %s",
			snap.AvailableCash.StringFixed(2), size.StringFixed(2))
	}

	if rules.MaxSlippagePct.IsPositive() && order.LastPrice.IsPositive() {
		slippage := SlippagePct(order.LimitPrice, order.LastPrice)
		if slippage.GreaterThan(rules.MaxSlippagePct) {
			return deny(ReasonSlippage, "slippage %s%% above max %s%%",
				slippage.StringFixed(2), rules.MaxSlippagePct.StringFixed(2))
		}
	}

	if rules.MaxTradesPerDay > 0 && snap.TradesToday >= rules.MaxTradesPerDay {
		return deny(ReasonDailyTrades, "%d trades today, limit %d", snap.TradesToday, rules.MaxTradesPerDay)
	}

	return allow()
}

// SlippagePct is |limit - last| / last in percent.
func SlippagePct(limit, last decimal.Decimal) decimal.Decimal {
	if !last.IsPositive() {
		return decimal.Zero
	}
	return limit.Sub(last).Abs().Div(last).Mul(hundred)
}
