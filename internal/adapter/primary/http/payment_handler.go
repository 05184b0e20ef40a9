package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// IdempotencyKeyHeader may carry the intent idempotency key instead of the body
const IdempotencyKeyHeader = "Idempotency-Key"

const maxWebhookBody = 1 << 20

// PaymentHandler is a primary adapter (HTTP handler)
type PaymentHandler struct {
	payments       input.PaymentService
	refunds        input.RefundService
	webhooks       input.WebhookService
	reconciliation input.ReconciliationService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments input.PaymentService, refunds input.RefundService, webhooks input.WebhookService, reconciliation input.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{
		payments:       payments,
		refunds:        refunds,
		webhooks:       webhooks,
		reconciliation: reconciliation,
	}
}

// CreateIntent handles POST /payments/intent
func (h *PaymentHandler) CreateIntent(c echo.Context) error {
	var req CreateIntentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	// the header wins over the body and is held to the same rules
	if hk := c.Request().Header.Get(IdempotencyKeyHeader); hk != "" {
		req.IdempotencyKey = hk
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	key := req.IdempotencyKey

	resp, err := h.payments.CreatePaymentIntent(c.Request().Context(), input.CreateIntentRequest{
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Currency:       core.Currency(strings.ToUpper(req.Currency)),
		Method:         core.PaymentMethod(req.Method),
		Provider:       core.Provider(req.Provider),
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, toIntentResponse(resp))
}

// ProcessPayment handles POST /payments/process
func (h *PaymentHandler) ProcessPayment(c echo.Context) error {
	var req ConfirmRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.payments.ProcessPayment(c.Request().Context(), input.ProcessPaymentRequest{
		PaymentID:             uuid.MustParse(req.PaymentID),
		ProviderTransactionID: req.TransactionID,
		Signature:             req.Signature,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// VerifyPayment handles POST /payments/verify
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	var req ConfirmRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.payments.VerifyPayment(c.Request().Context(), input.VerifyPaymentRequest{
		PaymentID:             uuid.MustParse(req.PaymentID),
		ProviderTransactionID: req.TransactionID,
		Signature:             req.Signature,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, VerifyResponse{
		Payment:       toPaymentResponse(res.Payment),
		GatewayStatus: string(res.GatewayStatus),
		Corrected:     res.Corrected,
		Drift:         res.Drift,
	})
}

// ListPayments handles GET /payments
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	filter, opts, err := parseListQuery(c)
	if err != nil {
		return err
	}
	page, err := h.payments.ListPayments(c.Request().Context(), filter, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PaymentListResponse{
		Items:      toPaymentResponses(page.Items),
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
	})
}

// GetStatistics handles GET /payments/statistics
func (h *PaymentHandler) GetStatistics(c echo.Context) error {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	var f, t time.Time
	if from != nil {
		f = *from
	}
	if to != nil {
		t = *to
	}
	stats, err := h.payments.GetStatistics(c.Request().Context(), f, t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// GetAnalytics handles GET /payments/analytics?period=7d&groupBy=day
func (h *PaymentHandler) GetAnalytics(c echo.Context) error {
	var period time.Duration
	if raw := c.QueryParam("period"); raw != "" {
		d, err := parsePeriod(raw)
		if err != nil {
			return core.NewValidationError("invalid period", map[string]string{"period": "use e.g. 24h, 7d or 30d"})
		}
		period = d
	}
	groupBy := c.QueryParam("groupBy")
	if groupBy == "" {
		groupBy = c.QueryParam("group_by")
	}
	buckets, err := h.payments.GetAnalytics(c.Request().Context(), input.AnalyticsRequest{
		Period:  period,
		GroupBy: core.Granularity(groupBy),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, buckets)
}

// Reconcile handles POST /payments/reconcile
func (h *PaymentHandler) Reconcile(c echo.Context) error {
	var req ReconcileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	report, err := h.reconciliation.Reconcile(c.Request().Context(), input.ReconcileRequest{
		From:         req.From,
		To:           req.To,
		CheckGateway: req.CheckGateway,
		Mark:         req.Mark,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// GetPayment handles payment retrieval by ID
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	p, err := h.payments.GetPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// GetPaymentStatus handles GET /payments/:id/status
func (h *PaymentHandler) GetPaymentStatus(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	view, err := h.payments.GetPaymentStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// GetHistory handles GET /payments/:id/history
func (h *PaymentHandler) GetHistory(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	entries, err := h.payments.GetHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toHistoryResponses(entries))
}

// RefundPayment handles POST /payments/:id/refund
func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req RefundRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.refunds.RefundPayment(c.Request().Context(), input.RefundRequest{
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RefundResultResponse{
		Payment: toPaymentResponse(res.Payment),
		Refund:  toRefundResponse(res.Refund),
	})
}

// ListRefunds handles GET /payments/:id/refunds
func (h *PaymentHandler) ListRefunds(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	refunds, err := h.refunds.ListRefunds(c.Request().Context(), id)
	if err != nil {
		return err
	}
	out := make([]RefundResponse, 0, len(refunds))
	for _, r := range refunds {
		out = append(out, toRefundResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

// CapturePayment handles POST /payments/:id/capture
func (h *PaymentHandler) CapturePayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req CaptureRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.payments.CapturePayment(c.Request().Context(), id, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// CancelPayment handles POST /payments/:id/cancel
func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.payments.CancelPayment(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// RetryPayment handles POST /payments/:id/retry
func (h *PaymentHandler) RetryPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req RetryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.payments.RetryFailedPayment(c.Request().Context(), id, core.PaymentMethod(req.Method))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// ValidateAmount handles POST /payments/validate-amount
func (h *PaymentHandler) ValidateAmount(c echo.Context) error {
	var req ValidateAmountRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res := h.payments.ValidateAmount(c.Request().Context(), req.Amount, core.Currency(strings.ToUpper(req.Currency)))
	return c.JSON(http.StatusOK, res)
}

// GetPaymentsByOrder handles GET /payments/order/:orderId
func (h *PaymentHandler) GetPaymentsByOrder(c echo.Context) error {
	payments, err := h.payments.GetPaymentsByOrder(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponses(payments))
}

// GetPaymentByTransaction handles GET /payments/transaction/:transactionId
func (h *PaymentHandler) GetPaymentByTransaction(c echo.Context) error {
	p, err := h.payments.GetPaymentByTransaction(c.Request().Context(), c.Param("transactionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

// HandleWebhook handles POST /payments/webhooks/:provider. The raw body is
// passed through untouched for signature verification.
func (h *PaymentHandler) HandleWebhook(c echo.Context) error {
	provider := core.Provider(strings.ToLower(c.Param("provider")))
	if !provider.Valid() {
		return core.NewNotFoundError("webhook provider", string(provider))
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return core.NewValidationError("unreadable webhook body", nil)
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge)
	}

	res, err := h.webhooks.HandleWebhook(c.Request().Context(), provider, payload, c.Request().Header)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   res.EventID,
		Type:      res.Type,
		Duplicate: res.Duplicate,
		Handled:   res.Handled,
	})
}

func paymentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, core.NewValidationError("invalid payment id", map[string]string{"id": "must be a uuid"})
	}
	return id, nil
}

// parseListQuery reads filters, pagination and sorting from the query string
func parseListQuery(c echo.Context) (output.PaymentFilter, output.ListOptions, error) {
	var filter output.PaymentFilter
	var opts output.ListOptions
	fields := map[string]string{}

	for _, s := range splitList(c.QueryParam("status")) {
		st := core.PaymentStatus(strings.ToUpper(s))
		if !st.Valid() {
			fields["status"] = "unknown status " + s
			continue
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, m := range splitList(c.QueryParam("method")) {
		pm := core.PaymentMethod(strings.ToLower(m))
		if !pm.Valid() {
			fields["method"] = "unknown method " + m
			continue
		}
		filter.Methods = append(filter.Methods, pm)
	}
	if p := c.QueryParam("provider"); p != "" {
		filter.Provider = core.Provider(strings.ToLower(p))
		if !filter.Provider.Valid() {
			fields["provider"] = "unknown provider"
		}
	}
	filter.CustomerID = c.QueryParam("customer_id")
	filter.OrderID = c.QueryParam("order_id")
	filter.TransactionID = c.QueryParam("transaction_id")

	var err error
	if filter.From, err = parseTimeParam(c, "from"); err != nil {
		fields["from"] = "must be RFC3339 or YYYY-MM-DD"
	}
	if filter.To, err = parseTimeParam(c, "to"); err != nil {
		fields["to"] = "must be RFC3339 or YYYY-MM-DD"
	}
	if filter.MinAmount, err = parseDecimalParam(c, "min_amount"); err != nil {
		fields["min_amount"] = "must be a decimal"
	}
	if filter.MaxAmount, err = parseDecimalParam(c, "max_amount"); err != nil {
		fields["max_amount"] = "must be a decimal"
	}
	if raw := c.QueryParam("reconciled"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fields["reconciled"] = "must be true or false"
		} else {
			filter.Reconciled = &b
		}
	}

	if err := echo.QueryParamsBinder(c).
		Int("page", &opts.Page).
		Int("limit", &opts.Limit).
		String("sort_by", &opts.SortBy).
		String("sort_order", &opts.SortOrder).
		BindError(); err != nil {
		fields["page"] = "page and limit must be integers"
	}

	if len(fields) > 0 {
		return filter, opts, core.NewValidationError("invalid query", fields)
	}
	return filter, opts, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, core.NewValidationError("invalid "+name, map[string]string{name: "must be RFC3339 or YYYY-MM-DD"})
	}
	// a bare "to" date covers the whole day
	if name == "to" {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseDecimalParam(c echo.Context, name string) (*decimal.Decimal, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parsePeriod accepts Go durations plus a day suffix ("30d")
func parsePeriod(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, core.NewValidationError("invalid period", nil)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, core.NewValidationError("invalid period", nil)
	}
	return d, nil
}
