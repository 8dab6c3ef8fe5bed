package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/database"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/settlement"
	"trade-settlement-engine/internal/trigger"
)

//nolint:gochecknoglobals // Cobra boilerplate
var localOnly bool

//nolint:gochecknoglobals // Cobra boilerplate
var watchCmd = &cobra.Command{
	Use:   "watch <trade-id>",
	Short: "Count a trade down and settle it when it expires",
	Long: `Run the client-side countdown for one trade.

The remaining time is computed from the persisted timer start, so the
countdown can be stopped and restarted at any time. At zero the engine is
asked to settle the trade; if it does not answer within
settlement.remote_timeout the trade is settled against the local database
through the same guarded path.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&localOnly, "local", false, "Skip the remote engine and settle locally")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := ledger.NewStore(db, log)
	executor := settlement.NewExecutor(settlement.ExecutorConfig{Store: store, Logger: log})
	settler := settlement.NewSettler(settlement.SettlerConfig{
		Store:    store,
		Resolver: settlement.NewResolver(nil),
		Executor: executor,
		Platform: cfg.Platform,
		Logger:   log,
	})

	var remote trigger.RemoteSettler = client
	if localOnly {
		remote = nil
	}

	out := cmd.OutOrStdout()
	countdown := trigger.NewCountdown(args[0], trigger.CountdownConfig{
		Store:         store,
		Local:         settler,
		Remote:        remote,
		RemoteTimeout: cfg.Settlement.RemoteTimeout,
		HoldWindow:    cfg.Settlement.HoldWindow,
		OnTick: func(t trigger.Tick) {
			switch t.Phase {
			case trigger.PhaseCounting:
				fmt.Fprintf(out, "\r%s  %3ds remaining", t.TradeID, t.Remaining)
			case trigger.PhaseSettling:
				fmt.Fprintf(out, "\r%s  settling...        \n", t.TradeID)
			case trigger.PhaseHolding:
				fmt.Fprintf(out, "%s  %s\n", t.TradeID, t.Result.Trade.Status)
			case trigger.PhaseReady:
				fmt.Fprintln(out, "ready for a new trade")
			}
		},
		Logger: log,
	})

	res, err := countdown.Run(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", args[0], err)
	}
	log.Debug("watch-finished", zap.Bool("applied", res.Applied))
	return printJSON(res)
}
