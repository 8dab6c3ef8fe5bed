package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trade-settlement-engine/internal/models"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	setOutcomeCmd = &cobra.Command{
		Use:   "set-outcome <trade-id> <forced_win|forced_loss|automatic>",
		Short: "Pin the outcome a pending trade will settle with",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetOutcome,
	}

	forceSettleCmd = &cobra.Command{
		Use:   "force-settle <trade-id> <forced_win|forced_loss>",
		Short: "Settle a trade now with the given outcome",
		Long: `Settle a trade immediately, ignoring its deadline.

If the trade already settled the existing result is printed and nothing changes.`,
		Args: cobra.ExactArgs(2),
		RunE: runForceSettle,
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel <trade-id>",
		Short: "Cancel a pending trade and release its stake",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}

	statusCmd = &cobra.Command{
		Use:   "status <trade-id>",
		Short: "Show a trade and its remaining seconds",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	historyCmd = &cobra.Command{
		Use:   "history <trade-id>",
		Short: "Show the audit trail of a trade",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(setOutcomeCmd, forceSettleCmd, cancelCmd, statusCmd, historyCmd)
}

func runSetOutcome(cmd *cobra.Command, args []string) error {
	_, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutArg)
	defer cancel()

	trade, err := client.SetExpectedOutcome(ctx, actor(), args[0], models.ForcedOutcome(args[1]))
	if err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	return printJSON(trade)
}

func runForceSettle(cmd *cobra.Command, args []string) error {
	_, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutArg)
	defer cancel()

	res, err := client.ForceSettle(ctx, actor(), args[0], models.ForcedOutcome(args[1]))
	if err != nil {
		return fmt.Errorf("force settle: %w", err)
	}
	if !res.Applied {
		fmt.Fprintf(cmd.ErrOrStderr(), "trade %s was already %s\n", res.Trade.ID, res.Trade.Status)
	}
	return printJSON(res)
}

func runCancel(cmd *cobra.Command, args []string) error {
	_, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutArg)
	defer cancel()

	res, err := client.Cancel(ctx, actor(), args[0])
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return printJSON(res)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutArg)
	defer cancel()

	view, err := client.GetTrade(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	return printJSON(view)
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, log, client, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutArg)
	defer cancel()

	entries, err := client.History(ctx, args[0])
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return printJSON(entries)
}
