package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"payrecon/internal/app"
	"payrecon/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// 定期ジョブをスケジューラ（cron等）から直接起動するためのCLI
func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Payment reconciliation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(pollCmd(), auditCmd(), retryRefundCmd())
	return root
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (any, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	ctx := cmd.Context()
	a, closeAll, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return err
	}
	defer closeAll()

	out, err := fn(ctx, a)
	if out != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
	if err != nil {
		logger.Error("job failed", slog.String("command", cmd.Name()), slog.String("error", err.Error()))
	}
	return err
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Ask the payment gateway about PENDING orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Jobs.RunReconciliation(ctx)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Detect and repair order/ledger inconsistencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Jobs.RunAudit(ctx)
			})
		},
	}
}

func retryRefundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-refund <refund-id>",
		Short: "Resend a PENDING refund to the payment gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid refund id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Refunds.RetryPendingRefund(ctx, id)
			})
		},
	}
}
