package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"ltexecutor/cmd/engine"
	"ltexecutor/cmd/executor"
	"ltexecutor/cmd/keys"
	"ltexecutor/src/database"
	"ltexecutor/src/server"
)

var Version string

func main() {
	SetupLogger()

	app := cli.NewApp()
	app.Name = "ltexecutor"
	app.Usage = "Live trading execution engine"
	app.Version = Version

	app.Commands = []cli.Command{
		serveCMD,
		executorCMD,
		reconcileCMD,
		sweepCMD,
		repairFillsCMD,
		pnlCMD,
		hashTokenCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetupLogger applies LOG_LEVEL and LOG_FORMAT.
func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the admin and trigger API",
		Action:      serveAction,
		Description: `Serve strategy administration and POST /jobs/* triggers for an external scheduler`,
	}
	executorCMD = cli.Command{
		Name:   "executor",
		Usage:  "run the execution loop",
		Action: executorAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "once", Usage: "run a single cycle and exit"},
		},
		Description: `Run the executor every LOOP_PERIOD until interrupted`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "recompute every strategy ledger from its orders",
		Action:      reconcileAction,
		Description: `Overwrite drifted ledgers and record a drift correction for each`,
	}
	sweepCMD = cli.Command{
		Name:        "sweep",
		Usage:       "cancel stale pending orders",
		Action:      sweepAction,
		Description: `Cancel orders pending past SWEEP_ORDER_TIMEOUT and follow up timed-out submissions`,
	}
	repairFillsCMD = cli.Command{
		Name:   "repair-fills",
		Usage:  "re-read fill prices from the exchange",
		Action: repairFillsAction,
		Flags: []cli.Flag{
			cli.IntFlag{Name: "limit", Value: 100, Usage: "orders to inspect"},
		},
	}
	pnlCMD = cli.Command{
		Name:   "pnl",
		Usage:  "print a realized P&L report",
		Action: pnlAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "strategy", Usage: "report over a strategy's orders"},
			cli.StringFlag{Name: "wallet", Usage: "report over a source wallet's signals"},
			cli.StringFlag{Name: "since", Usage: "RFC3339 start for --wallet"},
		},
	}
	hashTokenCMD = cli.Command{
		Name:      "hash-token",
		Usage:     "hash an API token for ADMIN_TOKEN_HASH / SCHEDULER_TOKEN_HASH",
		ArgsUsage: "[token]",
		Action: func(c *cli.Context) error {
			return keys.Print(os.Stdout, c.Args().First())
		},
	}
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveAction(_ *cli.Context) error {
	logrus.Info("Starting API server")
	eng, err := engine.Build()
	if err != nil {
		return err
	}
	server.StartServer(server.GetConfig(), server.NewRouter(eng.Services()))
	return nil
}

func executorAction(c *cli.Context) error {
	logrus.WithField("cmd", "executor").Info("Starting executor CMD")

	executorStrategy := &executor.Executor{Once: c.Bool("once")}
	if err := executorStrategy.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func reconcileAction(_ *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := engine.Build()
	if err != nil {
		return err
	}
	result, err := eng.Reconciler.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func sweepAction(_ *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := engine.Build()
	if err != nil {
		return err
	}
	result, err := eng.Sweeper.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func repairFillsAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := engine.Build()
	if err != nil {
		return err
	}
	repaired, err := eng.Manager.RepairFillPrices(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	logrus.WithField("repaired", repaired).Info("Fill price repair finished")
	return nil
}

func pnlAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	strategyID, wallet := c.Uint("strategy"), c.String("wallet")
	if (strategyID == 0) == (wallet == "") {
		return fmt.Errorf("pass exactly one of --strategy or --wallet")
	}

	eng, err := engine.Build()
	if err != nil {
		return err
	}

	if strategyID != 0 {
		report, err := eng.Pnl.StrategyReport(ctx, strategyID)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	var since time.Time
	if s := c.String("since"); s != "" {
		if since, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	report, err := eng.Pnl.WalletReport(ctx, strings.ToLower(wallet), since)
	if err != nil {
		return err
	}
	return printJSON(report)
}
