package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm/logger"

	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/cache"
	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/database"
	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/gateway"
	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/messaging"
	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/order"
	"github.com/cashflow/payment-orchestrator/internal/config"
	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/core/service"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// Options selects the optional infrastructure a process needs
type Options struct {
	// Broker publishes events to RabbitMQ; otherwise they are only logged.
	Broker bool
	// Cache connects Redis when a URL is configured.
	Cache bool
}

// App is the wired object graph shared by the entry points
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *db.DB
	Ledger   *database.GormLedgerStore
	Gateways output.Gateways

	Payments       *service.PaymentServiceImpl
	Refunds        *service.RefundServiceImpl
	Webhooks       *service.WebhookServiceImpl
	Reconciliation *service.ReconciliationServiceImpl

	closers []func() error
}

// New connects the secondary adapters and builds the services
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	app := &App{Config: cfg, Logger: log}

	dbConn, err := db.NewDB(db.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		AutoMigrate:  cfg.Database.AutoMigrate,
		LogLevel:     logger.Warn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = dbConn
	app.closers = append(app.closers, dbConn.Close)

	var events output.EventProducer = messaging.NewLogProducer(log)
	if opts.Broker && cfg.RabbitMQ.URL != "" {
		producer, err := messaging.NewRabbitMQClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			app.Close()
			return nil, err
		}
		events = producer
	}
	app.closers = append(app.closers, events.Close)

	var statusCache output.Cache = cache.Noop{}
	if opts.Cache && cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			app.Close()
			return nil, err
		}
		statusCache = rc
		app.closers = append(app.closers, rc.Close)
	}

	app.Gateways = Gateways(cfg, log)
	app.Ledger = database.NewGormLedgerStore(dbConn.DB)

	svcCfg, err := ServiceConfig(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	deps := service.Dependencies{
		Ledger:      app.Ledger,
		Gateways:    app.Gateways,
		Orders:      order.NewHTTPClient(cfg.Order.URL, cfg.Order.Timeout, log),
		Idempotency: database.NewGormIdempotencyStore(dbConn.DB),
		Webhooks:    database.NewGormWebhookEventStore(dbConn.DB),
		Events:      events,
		Cache:       statusCache,
		Logger:      log,
	}
	proc := service.NewPaymentProcessor(deps.Ledger, deps.Events, deps.Cache, log)
	app.Payments = service.NewPaymentService(deps, proc, svcCfg)
	app.Refunds = service.NewRefundService(deps, proc)
	app.Webhooks = service.NewWebhookService(deps, proc)
	app.Reconciliation = service.NewReconciliationService(deps, svcCfg)
	return app, nil
}

// Gateways builds one adapter per configured provider
func Gateways(cfg *config.Config, log *slog.Logger) output.Gateways {
	m := mapper.New(log)
	retry := gateway.RetryPolicy{
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BaseDelay:   cfg.Gateway.RetryBaseDelay,
		MaxDelay:    cfg.Gateway.RetryMaxDelay,
		Timeout:     cfg.Gateway.Timeout,
	}
	gws := output.Gateways{}
	if cfg.Stripe.SecretKey != "" {
		gws[core.ProviderStripe] = gateway.NewStripeAdapter(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			APIBase:       cfg.Stripe.APIBase,
			ManualCapture: cfg.Stripe.ManualCapture,
			Retry:         retry,
		}, m, log)
	}
	if cfg.Razorpay.KeyID != "" {
		gws[core.ProviderRazorpay] = gateway.NewRazorpayAdapter(gateway.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			APIBase:       cfg.Razorpay.APIBase,
			Retry:         retry,
		}, m, log)
	}
	return gws
}

// ServiceConfig converts the business limits for the service layer
func ServiceConfig(cfg *config.Config) (service.Config, error) {
	lo, hi := cfg.AmountBounds()
	out := service.Config{
		MinAmount:            lo,
		MaxAmount:            hi,
		IdempotencyTTL:       cfg.Payments.IdempotencyTTL,
		StatusCacheTTL:       cfg.Cache.TTL,
		ReconcileConcurrency: cfg.Reconcile.Concurrency,
	}
	for _, c := range cfg.Payments.Currencies {
		cur := core.Currency(strings.ToUpper(strings.TrimSpace(c)))
		if len(cur) != 3 {
			return service.Config{}, fmt.Errorf("unsupported currency %q", c)
		}
		out.Currencies = append(out.Currencies, cur)
	}
	return out, nil
}

// Close releases everything New opened, last opened first
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
