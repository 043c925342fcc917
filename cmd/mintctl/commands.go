package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/recovery"
	"mint-confirm-service/internal/workflows"
)

// signalContext is cancelled on Ctrl-C so a backoff wait can be cut short.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func confirmCmd() *cobra.Command {
	var p modal.PendingConfirmation
	var attempts int

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm one paid mint order, retrying with backoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return runConfirm(ctx, cmd.OutOrStdout(), deps.Driver, p, attempts)
		},
	}
	cmd.Flags().StringVar(&p.OrderID, "order", "", "mint order id")
	cmd.Flags().StringVar(&p.TxHash, "tx", "", "payment transaction hash")
	cmd.Flags().StringVar(&p.CharacterID, "character", "", "character id (informational)")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "attempt budget (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func runConfirm(ctx context.Context, out io.Writer, d *recovery.Driver, p modal.PendingConfirmation, attempts int) error {
	if d.ConfirmWithRecoveryFor(ctx, p, attempts) {
		fmt.Fprintf(out, "order %s confirmed\n", p.OrderID)
		return nil
	}
	fmt.Fprintf(out, "order %s not confirmed yet; kept for the next flush\n", p.OrderID)
	return nil
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Try every pending confirmation once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return runFlush(ctx, cmd.OutOrStdout(), deps.Driver)
		},
	}
}

func runFlush(ctx context.Context, out io.Writer, d *recovery.Driver) error {
	report := d.FlushPending(ctx)
	fmt.Fprintf(out, "flushed %d: %d confirmed, %d kept\n", report.Total, report.Confirmed, report.Kept)
	for _, id := range report.KeptIDs {
		fmt.Fprintf(out, "  kept %s\n", id)
	}
	return nil
}

type pendingLister interface {
	ListAll() []modal.PendingConfirmation
}

func listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending confirmations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.OutOrStdout(), deps.Store, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func runList(out io.Writer, store pendingLister, asJSON bool) error {
	all := store.ListAll()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "nothing pending")
		return nil
	}
	for _, p := range all {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.OrderID, p.TxHash, p.CharacterID, p.UpdatedTime().Format(time.RFC3339))
	}
	return nil
}

type pendingClearer interface {
	Remove(orderID string)
	Clear()
}

func clearCmd() *cobra.Command {
	var orderID string
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop pending confirmations by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.OutOrStdout(), deps.Store, orderID, all)
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "drop only this order")
	cmd.Flags().BoolVar(&all, "all", false, "drop every record")
	return cmd
}

func runClear(out io.Writer, store pendingClearer, orderID string, all bool) error {
	switch {
	case orderID != "":
		store.Remove(orderID)
		fmt.Fprintf(out, "cleared %s\n", orderID)
	case all:
		store.Clear()
		fmt.Fprintln(out, "cleared all pending confirmations")
	default:
		return fmt.Errorf("pass --order or --all")
	}
	return nil
}

// startCmd hands the confirmation to the Temporal worker instead of running
// it in this process.
func startCmd() *cobra.Command {
	var req modal.ConfirmRequest
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ConfirmMintOrder workflow and wait for its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deps.DialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			opts := client.StartWorkflowOptions{
				ID:                                       "confirm-" + req.OrderID,
				TaskQueue:                                deps.Config.Temporal.TaskQueue,
				WorkflowExecutionTimeout:                 10 * time.Minute,
				WorkflowExecutionErrorWhenAlreadyStarted: true,
				WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			in := req.WithRecoveryDefaults(deps.Config.Recovery.MaxAttempts, deps.Config.BackoffBase())
			we, err := c.ExecuteWorkflow(ctx, opts, workflows.ConfirmMintOrder, in)
			if err != nil {
				return fmt.Errorf("unable to execute workflow: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started workflow: WorkflowID=%s RunID=%s\n", we.GetID(), we.GetRunID())

			ctx2, cancel2 := context.WithTimeout(cmd.Context(), wait)
			defer cancel2()
			var outcome string
			if err := we.Get(ctx2, &outcome); err != nil {
				return fmt.Errorf("unable to get workflow result: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workflow result: %s\n", outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.OrderID, "order", "", "mint order id")
	cmd.Flags().StringVar(&req.TxHash, "tx", "", "payment transaction hash")
	cmd.Flags().StringVar(&req.CharacterID, "character", "", "character id (informational)")
	cmd.Flags().IntVar(&req.MaxAttempts, "attempts", 0, "attempt budget (0 uses recovery.max_attempts)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the outcome")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}
