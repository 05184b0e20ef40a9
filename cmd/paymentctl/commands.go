package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cashflow/payment-orchestrator/internal/bootstrap"
	"github.com/cashflow/payment-orchestrator/internal/config"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
)

type configLoader func(file string) (*config.Config, error)

func newRootCmd(load configLoader) *cobra.Command {
	var configFile string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operate the payment ledger: migrations, reconciliation and audit reads",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (defaults to $"+config.FileEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
		cfg, err := load(configFile)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		app, err := bootstrap.New(cmd.Context(), cfg, logger, bootstrap.Options{})
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), app)
	}

	rootCmd.AddCommand(migrateCmd(withApp))
	rootCmd.AddCommand(reconcileCmd(withApp))
	rootCmd.AddCommand(markReconciledCmd(withApp))
	rootCmd.AddCommand(historyCmd(withApp))
	rootCmd.AddCommand(statusCmd(withApp))
	return rootCmd
}

type appRunner func(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error

func migrateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.DB.Migrate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func reconcileCmd(withApp appRunner) *cobra.Command {
	var from, to string
	var mark, checkGateway bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the ledger (and optionally the gateways) over a window",
		Long: `Reconcile payments created in [from, to] and print the report as JSON.

The window defaults to the configured lookback ending now. Times are RFC 3339
or YYYY-MM-DD; a bare --to date covers that whole day.

Examples:
  paymentctl reconcile --from 2026-03-01 --to 2026-03-07
  paymentctl reconcile --check-gateway --mark`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				req, err := reconcileWindow(from, to, app.Config.Reconcile.Lookback, time.Now().UTC())
				if err != nil {
					return err
				}
				req.Mark = mark
				req.CheckGateway = checkGateway
				report, err := app.Reconciliation.Reconcile(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start")
	cmd.Flags().StringVar(&to, "to", "", "window end")
	cmd.Flags().BoolVar(&mark, "mark", false, "flag clean payments reconciled")
	cmd.Flags().BoolVar(&checkGateway, "check-gateway", false, "compare settled payments with their gateway")
	return cmd
}

func markReconciledCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-reconciled [payment-id]",
		Short: "Flag one payment as reconciled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Reconciliation.MarkReconciled(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s marked reconciled\n", id)
				return nil
			})
		},
	}
}

func historyCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "history [payment-id]",
		Short: "Print the status history of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				history, err := app.Payments.GetHistory(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), history)
			})
		},
	}
}

func statusCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "status [payment-id]",
		Short: "Print the current status of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				view, err := app.Payments.GetPaymentStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, core.NewValidationError("invalid payment id", map[string]string{"id": "must be a uuid"})
	}
	return id, nil
}

// reconcileWindow resolves the --from/--to flags against now
func reconcileWindow(from, to string, lookback time.Duration, now time.Time) (input.ReconcileRequest, error) {
	req := input.ReconcileRequest{From: now.Add(-lookback), To: now}
	if from != "" {
		t, _, err := parseTime(from)
		if err != nil {
			return req, fmt.Errorf("--from: %w", err)
		}
		req.From = t
	}
	if to != "" {
		t, dateOnly, err := parseTime(to)
		if err != nil {
			return req, fmt.Errorf("--to: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		req.To = t
	}
	if req.From.After(req.To) {
		return req, fmt.Errorf("--from %s is after --to %s", req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}
	return req, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, true, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
