package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/model"
	"ltexecutor/src/repository"
)

type strategyStore interface {
	Create(ctx context.Context, s *model.Strategy) error
	FindByID(ctx context.Context, id uint) (*model.Strategy, error)
	UpdateRiskRules(ctx context.Context, id uint, u repository.RiskRulesUpdate) (*model.Strategy, error)
	Pause(ctx context.Context, id uint, reason string) (*model.Strategy, error)
	Resume(ctx context.Context, id uint, now time.Time) (*model.Strategy, error)
	Deactivate(ctx context.Context, id uint, at time.Time) error
}

type riskStateReader interface {
	Get(ctx context.Context, s *model.Strategy) (model.RiskState, error)
}

// CreateStrategyPayload opens a strategy following WalletAddress. Risk
// rules may be given inline.
type CreateStrategyPayload struct {
	AccountID      uint   `json:"account_id"`
	WalletAddress  string `json:"wallet_address"`
	Name           string `json:"name"`
	InitialCapital string `json:"initial_capital"`
	SizingPolicy   string `json:"sizing_policy"`
	SizingValue    string `json:"sizing_value"`
	OrderType      string `json:"order_type"`

	repository.RiskRulesUpdate
}

func (p CreateStrategyPayload) strategy() (*model.Strategy, error) {
	capital, err := decimal.NewFromString(p.InitialCapital)
	if err != nil || !capital.IsPositive() {
		return nil, fmt.Errorf("%w: initial_capital must be a positive decimal", model.ErrValidation)
	}
	wallet := strings.TrimSpace(p.WalletAddress)
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet_address is required", model.ErrValidation)
	}

	s := &model.Strategy{
		AccountID:      p.AccountID,
		WalletAddress:  strings.ToLower(wallet),
		Name:           strings.TrimSpace(p.Name),
		InitialCapital: capital,
		SizingPolicy:   strings.ToUpper(strings.TrimSpace(p.SizingPolicy)),
		OrderType:      strings.ToUpper(strings.TrimSpace(p.OrderType)),
	}
	if s.Name == "" {
		s.Name = "copy " + s.WalletAddress
	}

	switch s.SizingPolicy {
	case "":
		s.SizingPolicy = model.SizingFlat
	case model.SizingFlat, model.SizingPercent, model.SizingPassThrough, model.SizingKelly:
	default:
		return nil, fmt.Errorf("%w: unknown sizing_policy %q", model.ErrValidation, p.SizingPolicy)
	}
	switch s.OrderType {
	case "":
		s.OrderType = model.OrderTypeGTC
	case model.OrderTypeGTC, model.OrderTypeFOK, model.OrderTypeFAK:
	default:
		return nil, fmt.Errorf("%w: unknown order_type %q", model.ErrValidation, p.OrderType)
	}
	if p.SizingValue != "" {
		if s.SizingValue, err = decimal.NewFromString(p.SizingValue); err != nil || s.SizingValue.IsNegative() {
			return nil, fmt.Errorf("%w: sizing_value must be a non-negative decimal", model.ErrValidation)
		}
	}
	// Inline rules are validated here so an invalid one stores nothing.
	if err := p.RiskRulesUpdate.ApplyTo(s); err != nil {
		return nil, err
	}
	return s, nil
}

type StrategyResponse struct {
	Strategy  *model.Strategy  `json:"strategy"`
	RiskState *model.RiskState `json:"risk_state,omitempty"`
}

func CreateStrategyHandler(store strategyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload CreateStrategyPayload
		if err := decode(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid strategy payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		s, err := payload.strategy()
		if err != nil {
			writeError(w, "CreateStrategy", err)
			return
		}
		if err := store.Create(r.Context(), s); err != nil {
			writeError(w, "CreateStrategy", err)
			return
		}

		logger.WithFields(map[string]interface{}{
			"strategy_id": s.ID,
			"wallet":      s.WalletAddress,
			"capital":     s.InitialCapital.String(),
		}).Info("Strategy created")
		writeJSON(w, http.StatusCreated, StrategyResponse{Strategy: s})
	}
}

// GetStrategyHandler returns the ledger together with the risk state.
func GetStrategyHandler(store strategyStore, states riskStateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		s, err := store.FindByID(r.Context(), id)
		if err != nil {
			writeError(w, "GetStrategy", err)
			return
		}
		state, err := states.Get(r.Context(), s)
		if err != nil {
			writeError(w, "GetStrategy", err)
			return
		}
		writeJSON(w, http.StatusOK, StrategyResponse{Strategy: s, RiskState: &state})
	}
}

type pausePayload struct {
	Reason string `json:"reason"`
}

func PauseStrategyHandler(store strategyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		var payload pausePayload
		if err := decode(r, &payload); err != nil && err != io.EOF {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		s, err := store.Pause(r.Context(), id, strings.TrimSpace(payload.Reason))
		if err != nil {
			writeError(w, "PauseStrategy", err)
			return
		}
		logger.WithField("strategy_id", id).Info("Strategy paused by operator")
		writeJSON(w, http.StatusOK, StrategyResponse{Strategy: s})
	}
}

// ResumeStrategyHandler clears the pause flag and the circuit breaker.
func ResumeStrategyHandler(store strategyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		s, err := store.Resume(r.Context(), id, time.Now())
		if err != nil {
			writeError(w, "ResumeStrategy", err)
			return
		}
		logger.WithField("strategy_id", id).Info("Strategy resumed by operator")
		writeJSON(w, http.StatusOK, StrategyResponse{Strategy: s})
	}
}

func UpdateRiskRulesHandler(store strategyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		var payload repository.RiskRulesUpdate
		if err := decode(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid risk rules payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		s, err := store.UpdateRiskRules(r.Context(), id, payload)
		if err != nil {
			writeError(w, "UpdateRiskRules", err)
			return
		}
		writeJSON(w, http.StatusOK, StrategyResponse{Strategy: s})
	}
}

// DeactivateStrategyHandler soft-deletes a strategy; its ledger and orders
// are kept.
func DeactivateStrategyHandler(store strategyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := strategyID(r)
		if !ok {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}
		if err := store.Deactivate(r.Context(), id, time.Now()); err != nil {
			writeError(w, "DeactivateStrategy", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
