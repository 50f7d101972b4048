package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ltexecutor/src/connectors"
	"ltexecutor/src/model"
	"ltexecutor/src/repository"
	"ltexecutor/src/signals"
)

const (
	walletPageSize = 500
	walletMaxPages = 200
)

// Service builds reports over a strategy's orders or a source wallet's
// signals.
type Service struct {
	orders *repository.OrderRepository
	source signals.Source
	market connectors.MarketData
	now    func() time.Time
}

func NewService(source signals.Source, market connectors.MarketData) *Service {
	return &Service{
		orders: repository.NewOrderRepository(),
		source: source,
		market: market,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithDB(db *gorm.DB) *Service {
	c := *s
	c.orders = s.orders.WithDB(db)
	return &c
}

func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

// StrategyReport aggregates the executed orders of a strategy. Shadow
// orders are included so paper strategies get a report too.
func (s *Service) StrategyReport(ctx context.Context, strategyID uint) (Report, error) {
	orders, err := s.orders.FindByStrategy(ctx, strategyID)
	if err != nil {
		return Report{}, err
	}

	a := NewAggregator()
	resolved := map[Position]Resolution{}
	var trades []Trade
	for _, o := range orders {
		if !o.ExecutedShares.IsPositive() {
			continue
		}
		at := o.CreatedAt
		if o.FilledAt != nil {
			at = *o.FilledAt
		}
		trades = append(trades, Trade{
			MarketID: o.MarketID,
			Outcome:  o.Outcome,
			Side:     o.Side,
			Price:    o.ExecutedPrice,
			Size:     o.ExecutedShares,
			At:       at,
		})
		if o.IsResolved() && o.ResolvedAt != nil {
			// value per share recovered from the booked pnl
			value := o.RealizedPnl.Div(o.ExecutedShares).Add(o.ExecutedPrice)
			resolved[positionOf(o.MarketID, o.Outcome)] = Resolution{
				Value:        value,
				Approximated: o.ResolutionApproximated,
				At:           *o.ResolvedAt,
			}
		}
	}
	a.AddAll(trades)

	for _, p := range a.Open() {
		if r, ok := resolved[p]; ok {
			a.Resolve(p, r)
		}
	}
	return a.Report(), nil
}

// WalletReport aggregates every signal of wallet since the given time and
// values open lots against current market resolutions. The resolution
// date is not known here, so that P&L lands on the report date.
func (s *Service) WalletReport(ctx context.Context, wallet string, since time.Time) (Report, error) {
	if s.source == nil || s.market == nil {
		return Report{}, fmt.Errorf("%w: wallet report needs a signal source and market data", model.ErrValidation)
	}

	a := NewAggregator()
	var trades []Trade
	mark := model.Watermark{Time: since}
	for page := 0; page < walletMaxPages; page++ {
		sigs, err := s.source.ListSignals(ctx, wallet, mark, walletPageSize)
		if err != nil {
			return Report{}, err
		}
		for _, sig := range sigs {
			trades = append(trades, Trade{
				MarketID: sig.MarketID,
				Outcome:  sig.Outcome,
				Side:     sig.Side,
				Price:    sig.Price,
				Size:     sig.Size,
				At:       sig.Timestamp,
			})
		}
		if len(sigs) < walletPageSize {
			break
		}
		last := sigs[len(sigs)-1]
		mark = model.Watermark{Time: last.Timestamp, SignalID: last.ID}
	}
	a.AddAll(trades)

	now := s.now()
	resolutions := map[string]connectors.Resolution{}
	for _, p := range a.Open() {
		res, ok := resolutions[p.MarketID]
		if !ok {
			var err error
			res, err = s.market.GetResolution(ctx, p.MarketID)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"op":     "WalletReport",
					"wallet": wallet,
					"market": p.MarketID,
				}).WithError(err).Warn("Resolution lookup failed, position left open")
				continue
			}
			resolutions[p.MarketID] = res
		}
		if !res.Resolved {
			continue
		}

		price := decimal.Zero
		if res.WinningOutcome == "" {
			var err error
			if price, err = s.market.GetCurrentPrice(ctx, p.MarketID, p.Outcome); err != nil {
				logger.WithField("market", p.MarketID).WithError(err).Warn("No last price for void market, position left open")
				continue
			}
		}
		value, approximated := ResolutionValue(p.Outcome, res.WinningOutcome, price)
		a.Resolve(p, Resolution{Value: value, Approximated: approximated, At: now})
	}
	return a.Report(), nil
}
