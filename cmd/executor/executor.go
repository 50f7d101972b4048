package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"ltexecutor/cmd/engine"
	"ltexecutor/src/server"
)

type Executor struct {
	// Once runs a single cycle and exits, for cron-style scheduling.
	Once bool
}

func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	eng, err := engine.Build()
	if err != nil {
		logrus.WithError(err).Error("Failed to build engine")
		return err
	}

	if t.Once {
		result, err := eng.Executor.RunCycle(ctx)
		logrus.WithFields(logrus.Fields{
			"cycle_id":   result.CycleID,
			"strategies": result.Strategies,
			"accepted":   result.Accepted,
			"rejected":   result.Rejected,
		}).Info("Cycle finished")
		return err
	}

	if config.ServeAPI {
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := server.Serve(ctx, server.GetConfig(), server.NewRouter(eng.Services())); err != nil {
				logrus.WithError(err).Error("API server stopped")
			}
		}()
		// The loop only returns once ctx is done, which also stops Serve.
		defer func() { <-served }()
	}

	logrus.Info("Starting execution loop")
	if err := eng.Executor.StartLoop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start execution loop")
		return err
	}

	return nil
}
