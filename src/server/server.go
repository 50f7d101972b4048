package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/auth"
	"ltexecutor/src/executor"
	"ltexecutor/src/handler"
	"ltexecutor/src/pnl"
	"ltexecutor/src/reconciler"
	"ltexecutor/src/repository"
	"ltexecutor/src/sweeper"
)

// Services are the engine components exposed over HTTP.
type Services struct {
	Auth       *auth.Authenticator
	Strategies *repository.StrategyRepository
	RiskStates *repository.RiskStateRepository
	Orders     *repository.OrderRepository
	Decisions  *repository.TransactionLogRepository
	Drift      *repository.DriftCorrectionRepository
	Exceptions *repository.ExceptionRepository
	CycleRuns  *repository.CycleRunRepository
	Executor   *executor.Executor
	Reconciler *reconciler.Reconciler
	Sweeper    *sweeper.Sweeper
	Pnl        *pnl.Service
}

func NewRouter(s Services) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Scheduler triggers
	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Require(auth.RoleScheduler))
		r.Post("/jobs/executor", handler.TriggerJobHandler("executor", func(ctx context.Context) (interface{}, error) {
			return s.Executor.RunCycle(ctx)
		}))
		r.Post("/jobs/reconcile", handler.TriggerJobHandler("reconcile", func(ctx context.Context) (interface{}, error) {
			return s.Reconciler.Run(ctx)
		}))
		r.Post("/jobs/sweep", handler.TriggerJobHandler("sweep", func(ctx context.Context) (interface{}, error) {
			return s.Sweeper.Run(ctx)
		}))
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Require(auth.RoleAdmin))
		r.Post("/strategies", handler.CreateStrategyHandler(s.Strategies))
		r.Route("/strategies/{id}", func(r chi.Router) {
			r.Get("/", handler.GetStrategyHandler(s.Strategies, s.RiskStates))
			r.Delete("/", handler.DeactivateStrategyHandler(s.Strategies))
			r.Post("/pause", handler.PauseStrategyHandler(s.Strategies))
			r.Post("/resume", handler.ResumeStrategyHandler(s.Strategies))
			r.Put("/risk-rules", handler.UpdateRiskRulesHandler(s.Strategies))
			r.Get("/orders", handler.SearchOrdersHandler(s.Orders))
			r.Get("/pnl", handler.StrategyPnlHandler(s.Pnl))
			r.Get("/decisions", handler.DecisionsHandler(s.Decisions))
			r.Get("/drift-corrections", handler.DriftCorrectionsHandler(s.Drift))
		})
		r.Get("/exceptions", handler.ExceptionsHandler(s.Exceptions))
		r.Get("/jobs/{job}/runs", handler.CycleRunsHandler(s.CycleRuns))
	})

	return r
}

// StartServer serves h until SIGINT or SIGTERM.
func StartServer(cfg *Config, h http.Handler) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Serve(ctx, cfg, h); err != nil {
		logger.WithError(err).Fatal("Server crashed")
	}
}

// Serve listens on cfg.Addr() and shuts down gracefully once ctx is done.
func Serve(ctx context.Context, cfg *Config, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
