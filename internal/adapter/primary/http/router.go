package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// Pinger is anything whose connectivity the health endpoint reports
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig carries what NewRouter wires into echo
type RouterConfig struct {
	Handler  *PaymentHandler
	Database Pinger
	Gateways output.Gateways
	Logger   *slog.Logger
}

// NewRouter builds the echo instance with middleware and every route
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = NewErrorHandler(cfg.Logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger(cfg.Logger))

	h := cfg.Handler
	api := e.Group("/api/v1")
	payments := api.Group("/payments")
	payments.POST("/intent", h.CreateIntent)
	payments.POST("/process", h.ProcessPayment)
	payments.POST("/verify", h.VerifyPayment)
	payments.GET("", h.ListPayments)
	payments.GET("/statistics", h.GetStatistics)
	payments.GET("/analytics", h.GetAnalytics)
	payments.POST("/reconcile", h.Reconcile)
	payments.POST("/validate-amount", h.ValidateAmount)
	payments.GET("/order/:orderId", h.GetPaymentsByOrder)
	payments.GET("/transaction/:transactionId", h.GetPaymentByTransaction)
	payments.POST("/webhooks/:provider", h.HandleWebhook)
	payments.GET("/:id", h.GetPayment)
	payments.GET("/:id/status", h.GetPaymentStatus)
	payments.GET("/:id/history", h.GetHistory)
	payments.GET("/:id/refunds", h.ListRefunds)
	payments.POST("/:id/refund", h.RefundPayment)
	payments.POST("/:id/capture", h.CapturePayment)
	payments.POST("/:id/cancel", h.CancelPayment)
	payments.POST("/:id/retry", h.RetryPayment)

	e.GET("/health", healthHandler(cfg.Database, cfg.Gateways))
	return e
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("request_id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthHandler reports database connectivity and each gateway's health
func healthHandler(db Pinger, gateways output.Gateways) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		if db != nil {
			resp.Checks["database"] = checkResult(db.Ping(ctx))
		}
		for provider, gw := range gateways {
			resp.Checks[string(provider)] = checkResult(gw.HealthCheck(ctx))
		}
		for _, v := range resp.Checks {
			if v != "ok" {
				resp.Status = "degraded"
			}
		}

		status := http.StatusOK
		if resp.Checks["database"] != "" && resp.Checks["database"] != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, resp)
	}
}

func checkResult(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
