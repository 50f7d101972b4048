package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ltexecutor/src/model"
)

// NewState returns the initial risk state for s.
func NewState(s *model.Strategy) model.RiskState {
	equity := s.Equity()
	return model.RiskState{
		StrategyID:    s.ID,
		PeakEquity:    equity,
		CurrentEquity: equity,
	}
}

// ApplyResolution updates the loss streak and drawdown after an order
// resolved, using the strategy's equity after the P&L was booked. When the
// drawdown or loss streak reaches its threshold the breaker trips: the state
// is flagged and the strategy paused. A tripped breaker stays tripped until
// Resume; it reports true only on the transition.
func ApplyResolution(state *model.RiskState, s *model.Strategy, won bool, now time.Time) bool {
	if won {
		state.ConsecutiveLosses = 0
	} else {
		state.ConsecutiveLosses++
	}

	equity := s.Equity()
	state.CurrentEquity = equity
	if equity.GreaterThan(state.PeakEquity) {
		state.PeakEquity = equity
	}
	state.CurrentDrawdownPct = decimal.Zero
	if state.PeakEquity.IsPositive() {
		state.CurrentDrawdownPct = state.PeakEquity.Sub(equity).Div(state.PeakEquity).Mul(hundred).Round(4)
	}
	state.UpdatedAt = now

	if state.CircuitBreakerActive {
		return false
	}

	var reason string
	switch {
	case s.CircuitBreakerLossPct.IsPositive() && state.CurrentDrawdownPct.GreaterThanOrEqual(s.CircuitBreakerLossPct):
		reason = fmt.Sprintf("drawdown %s%% reached %s%%", state.CurrentDrawdownPct.StringFixed(2), s.CircuitBreakerLossPct.StringFixed(2))
	case s.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= s.MaxConsecutiveLosses:
		reason = fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses)
	default:
		return false
	}

	state.CircuitBreakerActive = true
	state.TripReason = reason
	state.TrippedAt = &now
	s.IsPaused = true
	s.PauseReason = "circuit breaker: " + reason
	return true
}

// Pause is a manual halt; it does not touch the breaker flag.
func Pause(s *model.Strategy, reason string) {
	s.IsPaused = true
	s.PauseReason = reason
}

// Resume clears both the pause and the breaker. Loss streak and drawdown
// history are kept and recompute from subsequent resolutions.
func Resume(state *model.RiskState, s *model.Strategy, now time.Time) {
	s.IsPaused = false
	s.PauseReason = ""
	state.CircuitBreakerActive = false
	state.TripReason = ""
	state.TrippedAt = nil
	state.UpdatedAt = now
}
