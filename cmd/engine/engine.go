// Package engine wires the execution engine's components from the
// environment. Every command builds on it.
package engine

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ltexecutor/src/auth"
	"ltexecutor/src/connectors"
	"ltexecutor/src/database"
	"ltexecutor/src/executor"
	"ltexecutor/src/orders"
	"ltexecutor/src/pnl"
	"ltexecutor/src/reconciler"
	"ltexecutor/src/repository"
	"ltexecutor/src/server"
	"ltexecutor/src/signals"
	"ltexecutor/src/sweeper"
)

type Engine struct {
	Source     signals.Source
	Market     connectors.MarketData
	Manager    *orders.Manager
	Executor   *executor.Executor
	Reconciler *reconciler.Reconciler
	Sweeper    *sweeper.Sweeper
	Pnl        *pnl.Service
}

// Build connects the databases and assembles the engine. The read-only
// database is only opened when signals are read from it.
func Build() (*Engine, error) {
	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		return nil, fmt.Errorf("connect main database: %w", err)
	}

	source, err := newSource(signals.GetConfig())
	if err != nil {
		return nil, err
	}

	cfg := connectors.GetConfig()
	market := connectors.NewMarketDataClient(cfg)
	var exchange connectors.Exchange
	if cfg.ExchangeDryRun {
		logrus.Warn("EXCHANGE_DRY_RUN set, orders are simulated")
		exchange = connectors.NewDryRunExchange()
	} else {
		exchange = connectors.NewClobClient(cfg)
	}

	manager := orders.NewManager(exchange, market)
	return &Engine{
		Source:     source,
		Market:     market,
		Manager:    manager,
		Executor:   executor.New(executor.GetConfig(), source, manager, market),
		Reconciler: reconciler.New(reconciler.GetConfig()),
		Sweeper:    sweeper.New(sweeper.GetConfig(), manager),
		Pnl:        pnl.NewService(source, market),
	}, nil
}

func newSource(cfg signals.Config) (signals.Source, error) {
	switch strings.ToLower(cfg.Source) {
	case "http":
		return signals.NewHTTPSource(cfg), nil
	case "db", "":
		// Initialize read-only database
		if err := database.InitReadOnlyDB(); err != nil {
			return nil, fmt.Errorf("connect read-only database: %w", err)
		}
		return signals.NewDBSource(repository.NewSourceTradeRepository()), nil
	default:
		return nil, fmt.Errorf("unknown SIGNAL_SOURCE %q", cfg.Source)
	}
}

// Services exposes the engine over HTTP.
func (e *Engine) Services() server.Services {
	return server.Services{
		Auth:       auth.NewAuthenticator(auth.GetConfig()),
		Strategies: repository.NewStrategyRepository(),
		RiskStates: repository.NewRiskStateRepository(),
		Orders:     repository.NewOrderRepository(),
		Decisions:  repository.NewTransactionLogRepository(),
		Drift:      repository.NewDriftCorrectionRepository(),
		Exceptions: repository.NewExceptionRepository(),
		CycleRuns:  repository.NewCycleRunRepository(),
		Executor:   e.Executor,
		Reconciler: e.Reconciler,
		Sweeper:    e.Sweeper,
		Pnl:        e.Pnl,
	}
}
