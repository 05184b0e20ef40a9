package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// Razorpay webhook headers
const (
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	RazorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

const defaultRazorpayBase = "https://api.razorpay.com/v1"

// RazorpayConfig configures the local-market gateway
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	APIBase       string
	Retry         RetryPolicy
}

// RazorpayAdapter implements output.Gateway over the Razorpay REST API.
// The provider intent is a Razorpay order; the transaction is a payment.
type RazorpayAdapter struct {
	httpClient *http.Client
	base       string
	cfg        RazorpayConfig
	mapper     *mapper.Mapper
	logger     *slog.Logger
	retry      RetryPolicy
}

var (
	_ output.Gateway                  = (*RazorpayAdapter)(nil)
	_ output.PaymentSignatureVerifier = (*RazorpayAdapter)(nil)
)

// NewRazorpayAdapter creates a Razorpay adapter
func NewRazorpayAdapter(cfg RazorpayConfig, m *mapper.Mapper, logger *slog.Logger) *RazorpayAdapter {
	retry := cfg.Retry.withDefaults()
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultRazorpayBase
	}
	return &RazorpayAdapter{
		httpClient: &http.Client{Timeout: retry.Timeout},
		base:       base,
		cfg:        cfg,
		mapper:     m,
		logger:     logger.With("provider", core.ProviderRazorpay),
		retry:      retry,
	}
}

// Provider returns the gateway tag
func (a *RazorpayAdapter) Provider() core.Provider { return core.ProviderRazorpay }

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
		Source      string `json:"source"`
		Step        string `json:"step"`
	} `json:"error"`
}

type razorpayCollection[T any] struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
	Items  []T    `json:"items"`
}

// CreateIntent creates a Razorpay order for the payment
func (a *RazorpayAdapter) CreateIntent(ctx context.Context, req output.IntentRequest) (*output.Intent, error) {
	notes := map[string]string{
		"payment_id":  req.PaymentID.String(),
		"order_id":    req.OrderID,
		"customer_id": req.CustomerID,
	}
	for k, v := range req.Metadata {
		notes[k] = v
	}
	body := map[string]any{
		"amount":   mapper.ToMinorUnits(req.Amount),
		"currency": string(req.Currency),
		"receipt":  req.PaymentID.String(),
		"notes":    notes,
	}

	var order mapper.RazorpayOrder
	if err := a.call(ctx, "create_intent", http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	no := a.mapper.RazorpayOrder(order)
	return &output.Intent{
		ProviderIntentID: order.ID,
		// checkout needs only the order id alongside the public key id
		ClientSecret: order.ID,
		Payment: mapper.NormalisedPayment{
			Provider:  core.ProviderRazorpay,
			IntentID:  order.ID,
			Status:    no.Status,
			RawStatus: no.RawStatus,
			Amount:    no.Amount,
			Currency:  no.Currency,
			CreatedAt: no.CreatedAt,
			Raw:       no.Raw,
		},
	}, nil
}

// RetrieveIntent returns the order's most advanced payment attempt, or the
// order itself when no attempt exists.
func (a *RazorpayAdapter) RetrieveIntent(ctx context.Context, intentID string) (*mapper.NormalisedPayment, error) {
	var payments razorpayCollection[mapper.RazorpayPayment]
	path := "/orders/" + url.PathEscape(intentID) + "/payments"
	if err := a.call(ctx, "retrieve_intent", http.MethodGet, path, nil, &payments); err != nil {
		return nil, err
	}
	if best, ok := pickRazorpayPayment(payments.Items); ok {
		np := a.mapper.RazorpayPayment(best)
		return &np, nil
	}

	var order mapper.RazorpayOrder
	if err := a.call(ctx, "retrieve_order", http.MethodGet, "/orders/"+url.PathEscape(intentID), nil, &order); err != nil {
		return nil, err
	}
	no := a.mapper.RazorpayOrder(order)
	return &mapper.NormalisedPayment{
		Provider:  core.ProviderRazorpay,
		IntentID:  order.ID,
		Status:    no.Status,
		RawStatus: no.RawStatus,
		Amount:    no.Amount,
		Currency:  no.Currency,
		CreatedAt: no.CreatedAt,
		Raw:       no.Raw,
	}, nil
}

// RetrieveTransaction fetches a payment and checks it belongs to the order
func (a *RazorpayAdapter) RetrieveTransaction(ctx context.Context, intentID, transactionID string) (*mapper.NormalisedPayment, error) {
	if transactionID == "" {
		return a.RetrieveIntent(ctx, intentID)
	}
	var p mapper.RazorpayPayment
	if err := a.call(ctx, "retrieve_transaction", http.MethodGet, "/payments/"+url.PathEscape(transactionID), nil, &p); err != nil {
		return nil, err
	}
	if intentID != "" && p.OrderID != intentID {
		return nil, core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest,
			"payment does not belong to the order", nil)
	}
	np := a.mapper.RazorpayPayment(p)
	return &np, nil
}

// Capture captures an authorized payment
func (a *RazorpayAdapter) Capture(ctx context.Context, intentID, transactionID string, amount *decimal.Decimal) (*mapper.NormalisedPayment, error) {
	current, err := a.RetrieveTransaction(ctx, intentID, transactionID)
	if err != nil {
		return nil, err
	}
	if current.TransactionID == "" {
		return nil, core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest, "order has no payment to capture", nil)
	}
	captureAmount := current.Amount
	if amount != nil {
		captureAmount = *amount
	}
	body := map[string]any{
		"amount":   mapper.ToMinorUnits(captureAmount),
		"currency": string(current.Currency),
	}
	var p mapper.RazorpayPayment
	path := "/payments/" + url.PathEscape(current.TransactionID) + "/capture"
	if err := a.call(ctx, "capture", http.MethodPost, path, body, &p); err != nil {
		return nil, err
	}
	np := a.mapper.RazorpayPayment(p)
	return &np, nil
}

// Cancel is a no-op: Razorpay orders cannot be cancelled and expire on their own.
func (a *RazorpayAdapter) Cancel(_ context.Context, intentID string) error {
	a.logger.Debug("razorpay orders have no cancel endpoint", "intent_id", intentID)
	return nil
}

// refundKeyNote is the refund note carrying the caller's idempotency key.
const refundKeyNote = "idempotency_key"

// CreateRefund refunds a captured payment. Razorpay does not deduplicate
// refund requests, so a retry first looks for a refund already carrying the
// idempotency key, and a request without a key is never retried.
func (a *RazorpayAdapter) CreateRefund(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
	if req.TransactionID == "" {
		return nil, core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest, "refund requires a payment id", nil)
	}
	notes := map[string]string{
		"payment_id": req.PaymentID.String(),
		"reason":     truncateNote(req.Reason),
	}
	if req.IdempotencyKey != "" {
		notes[refundKeyNote] = req.IdempotencyKey
	}
	body := map[string]any{
		"speed": "normal",
		"notes": notes,
	}
	if req.Amount != nil {
		body["amount"] = mapper.ToMinorUnits(*req.Amount)
	}

	policy := a.retry
	if req.IdempotencyKey == "" {
		policy.MaxAttempts = 1
	}
	var r mapper.RazorpayRefund
	path := "/payments/" + url.PathEscape(req.TransactionID) + "/refund"
	attempt := 0
	err := policy.do(ctx, a.logger, core.ProviderRazorpay, "refund", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			found, err := a.findRefund(ctx, req.TransactionID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found != nil {
				a.logger.Info("razorpay refund already created", "refund_id", found.ID, "transaction_id", req.TransactionID)
				r = *found
				return nil
			}
		}
		return a.once(ctx, "refund", http.MethodPost, path, body, &r)
	})
	if err != nil {
		return nil, err
	}
	nr := a.mapper.RazorpayRefund(r)
	nr.IntentID = req.IntentID
	return &nr, nil
}

// findRefund returns the payment's refund whose notes carry key, or nil
func (a *RazorpayAdapter) findRefund(ctx context.Context, transactionID, key string) (*mapper.RazorpayRefund, error) {
	var refunds razorpayCollection[mapper.RazorpayRefund]
	path := "/payments/" + url.PathEscape(transactionID) + "/refunds?count=100"
	if err := a.once(ctx, "list_refunds", http.MethodGet, path, nil, &refunds); err != nil {
		return nil, err
	}
	for i := range refunds.Items {
		if refunds.Items[i].Notes[refundKeyNote] == key {
			return &refunds.Items[i], nil
		}
	}
	return nil, nil
}

// VerifySignature compares a hex HMAC-SHA256 of payload in constant time
func (a *RazorpayAdapter) VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// VerifyPaymentSignature checks the checkout signature over "order|payment"
func (a *RazorpayAdapter) VerifyPaymentSignature(intentID, transactionID, signature string) bool {
	return a.VerifySignature([]byte(intentID+"|"+transactionID), signature, a.cfg.KeySecret)
}

// ParseWebhook verifies and decodes a delivery
func (a *RazorpayAdapter) ParseWebhook(payload []byte, header http.Header) (*mapper.WebhookEvent, error) {
	if !a.VerifySignature(payload, header.Get(RazorpaySignatureHeader), a.cfg.WebhookSecret) {
		return nil, core.NewWebhookVerificationError(errors.New("razorpay signature mismatch"))
	}
	ev, err := a.mapper.ParseRazorpayEvent(payload, header.Get(RazorpayEventIDHeader))
	if err != nil {
		return nil, core.NewWebhookVerificationError(err)
	}
	return ev, nil
}

// HealthCheck lists one payment to prove credentials and connectivity
func (a *RazorpayAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.retry.Timeout)
	defer cancel()
	var out razorpayCollection[mapper.RazorpayPayment]
	return a.once(ctx, "health", http.MethodGet, "/payments?count=1", nil, &out)
}

func (a *RazorpayAdapter) call(ctx context.Context, op, method, path string, body, out any) error {
	return a.retry.do(ctx, a.logger, core.ProviderRazorpay, op, func(ctx context.Context) error {
		return a.once(ctx, op, method, path, body, out)
	})
}

func (a *RazorpayAdapter) once(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest, "failed to encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest, "failed to build request", err)
	}
	req.SetBasicAuth(a.cfg.KeyID, a.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return core.NewGatewayError(core.ProviderRazorpay, core.GatewayConnection, "razorpay unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.NewGatewayError(core.ProviderRazorpay, core.GatewayConnection, "failed to read razorpay response", err)
	}

	if resp.StatusCode >= 400 {
		return a.classify(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		a.logger.Error("unrecognised razorpay response", "op", op, "status", resp.StatusCode, "error", err)
		return core.NewGatewayError(core.ProviderRazorpay, core.GatewayUnknown, "malformed razorpay response", err)
	}
	return nil
}

func (a *RazorpayAdapter) classify(op string, status int, raw []byte) error {
	var body razorpayErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Description
	if msg == "" {
		msg = fmt.Sprintf("razorpay %s failed with status %d", op, status)
	}
	cause := fmt.Errorf("razorpay %s: status %d code %s", op, status, body.Error.Code)

	class := razorpayErrorClass(status, body)
	if class == core.GatewayUnknown {
		a.logger.Error("unrecognised razorpay error", "op", op, "status", status, "code", body.Error.Code, "body", truncateNote(string(raw)))
	}
	return core.NewGatewayError(core.ProviderRazorpay, class, msg, cause)
}

func razorpayErrorClass(status int, body razorpayErrorBody) core.GatewayErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.GatewayAuthentication
	case status == http.StatusTooManyRequests:
		return core.GatewayRateLimited
	case status >= http.StatusInternalServerError || body.Error.Code == "SERVER_ERROR" || body.Error.Code == "GATEWAY_ERROR":
		return core.GatewayConnection
	case body.Error.Source == "customer" || body.Error.Source == "issuer_bank" || body.Error.Reason == "payment_failed":
		return core.GatewayCardDeclined
	case body.Error.Code == "BAD_REQUEST_ERROR" || status == http.StatusBadRequest || status == http.StatusNotFound:
		return core.GatewayInvalidRequest
	default:
		return core.GatewayUnknown
	}
}

// pickRazorpayPayment prefers captured, then authorized, then the newest attempt.
func pickRazorpayPayment(items []mapper.RazorpayPayment) (mapper.RazorpayPayment, bool) {
	if len(items) == 0 {
		return mapper.RazorpayPayment{}, false
	}
	rank := func(s string) int {
		switch s {
		case "captured", "refunded":
			return 3
		case "authorized":
			return 2
		case "created":
			return 1
		default:
			return 0
		}
	}
	best := items[0]
	for _, p := range items[1:] {
		if rank(p.Status) > rank(best.Status) ||
			(rank(p.Status) == rank(best.Status) && p.CreatedAt > best.CreatedAt) {
			best = p
		}
	}
	return best, true
}

// truncateNote cuts s to Razorpay's 256 character note limit on a rune boundary.
func truncateNote(s string) string {
	const limit = 256
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
