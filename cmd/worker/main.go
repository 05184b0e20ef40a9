package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cashflow/payment-orchestrator/internal/adapter/primary/scheduler"
	"github.com/cashflow/payment-orchestrator/internal/bootstrap"
	"github.com/cashflow/payment-orchestrator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reconciliation worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("reconciliation worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	rule, err := cfg.Schedule(time.Now())
	if err != nil {
		return err
	}

	logger.Info("reconciliation worker started",
		"schedule", cfg.Reconcile.Schedule,
		"lookback", cfg.Reconcile.Lookback,
		"gateways", len(app.Gateways),
	)
	return scheduler.NewReconcileScheduler(app.Reconciliation, rule, cfg.Reconcile.Lookback, logger).Run(ctx)
}
