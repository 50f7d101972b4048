package model

import "errors"

// Failure taxonomy of the execution engine. Per-signal and per-order errors
// stay local to the signal; only ErrExchangeUnavailable aborts a cycle.
var (
	ErrValidation          = errors.New("validation error")
	ErrRiskRejection       = errors.New("risk rejection")
	ErrCapitalInsufficient = errors.New("capital insufficient")
	ErrExchange            = errors.New("exchange error")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrStrategyNotFound    = errors.New("strategy not found")
	ErrStrategyPaused      = errors.New("strategy paused")
	ErrConcurrentUpdate    = errors.New("concurrent ledger update")
	ErrCycleInProgress     = errors.New("cycle already in progress")
	ErrInvalidTransition   = errors.New("invalid order state transition")
)
