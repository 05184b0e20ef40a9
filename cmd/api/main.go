package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/cashflow/payment-orchestrator/internal/adapter/primary/http"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Broker: true, Cache: true})
	if err != nil {
		return err
	}
	defer app.Close()

	handler := httpadapter.NewPaymentHandler(app.Payments, app.Refunds, app.Webhooks, app.Reconciliation)
	e := httpadapter.NewRouter(httpadapter.RouterConfig{
		Handler:  handler,
		Database: app.Ledger,
		Gateways: app.Gateways,
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%s", cfg.HTTP.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", addr, "gateways", len(app.Gateways))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
