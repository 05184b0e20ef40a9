package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/database"
	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// fakeGateway is a Gateway whose behaviour is set per test through func fields.
type fakeGateway struct {
	provider     core.Provider
	createIntent func(ctx context.Context, req output.IntentRequest) (*output.Intent, error)
	retrieve     func(ctx context.Context, intentID, transactionID string) (*mapper.NormalisedPayment, error)
	capture      func(ctx context.Context, intentID, transactionID string, amount *decimal.Decimal) (*mapper.NormalisedPayment, error)
	cancel       func(ctx context.Context, intentID string) error
	refund       func(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error)
	parseWebhook func(payload []byte, header http.Header) (*mapper.WebhookEvent, error)

	createCalls   atomic.Int32
	retrieveCalls atomic.Int32
	refundCalls   atomic.Int32
}

func (g *fakeGateway) Provider() core.Provider { return g.provider }

func (g *fakeGateway) CreateIntent(ctx context.Context, req output.IntentRequest) (*output.Intent, error) {
	g.createCalls.Add(1)
	if g.createIntent != nil {
		return g.createIntent(ctx, req)
	}
	id := "intent_" + uuid.NewString()[:8]
	return &output.Intent{
		ProviderIntentID: id,
		ClientSecret:     id + "_secret",
		Payment: mapper.NormalisedPayment{
			Provider: g.provider,
			IntentID: id,
			Status:   core.PaymentStatusPending,
			Amount:   req.Amount,
			Currency: req.Currency,
		},
	}, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, intentID string) (*mapper.NormalisedPayment, error) {
	return g.RetrieveTransaction(ctx, intentID, "")
}

func (g *fakeGateway) RetrieveTransaction(ctx context.Context, intentID, transactionID string) (*mapper.NormalisedPayment, error) {
	g.retrieveCalls.Add(1)
	if g.retrieve == nil {
		return nil, errors.New("retrieve not stubbed")
	}
	return g.retrieve(ctx, intentID, transactionID)
}

func (g *fakeGateway) Capture(ctx context.Context, intentID, transactionID string, amount *decimal.Decimal) (*mapper.NormalisedPayment, error) {
	if g.capture == nil {
		return nil, errors.New("capture not stubbed")
	}
	return g.capture(ctx, intentID, transactionID, amount)
}

func (g *fakeGateway) Cancel(ctx context.Context, intentID string) error {
	if g.cancel == nil {
		return nil
	}
	return g.cancel(ctx, intentID)
}

func (g *fakeGateway) CreateRefund(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
	g.refundCalls.Add(1)
	if g.refund != nil {
		return g.refund(ctx, req)
	}
	return &mapper.NormalisedRefund{
		Provider:      g.provider,
		RefundID:      "rfnd_" + uuid.NewString()[:8],
		IntentID:      req.IntentID,
		TransactionID: req.TransactionID,
		Amount:        *req.Amount,
		Currency:      req.Currency,
		Status:        core.RefundStatusProcessed,
	}, nil
}

func (g *fakeGateway) VerifySignature(payload []byte, signature, secret string) bool {
	return signature == secret
}

func (g *fakeGateway) ParseWebhook(payload []byte, header http.Header) (*mapper.WebhookEvent, error) {
	if g.parseWebhook == nil {
		return nil, core.NewWebhookVerificationError(errors.New("no webhooks"))
	}
	return g.parseWebhook(payload, header)
}

func (g *fakeGateway) HealthCheck(context.Context) error { return nil }

// signingGateway adds checkout signature verification.
type signingGateway struct {
	*fakeGateway
	validSignature string
}

func (g *signingGateway) VerifyPaymentSignature(intentID, transactionID, signature string) bool {
	return signature == g.validSignature
}

// paidResult returns a retrieve stub reporting a captured payment.
func paidResult(amount string, currency core.Currency, txID string) func(context.Context, string, string) (*mapper.NormalisedPayment, error) {
	return func(_ context.Context, intentID, _ string) (*mapper.NormalisedPayment, error) {
		return &mapper.NormalisedPayment{
			IntentID:      intentID,
			TransactionID: txID,
			Status:        core.PaymentStatusPaid,
			RawStatus:     "captured",
			Amount:        decimal.RequireFromString(amount),
			Currency:      currency,
		}, nil
	}
}

type publishedEvent struct {
	topic   string
	payload core.PaymentEvent
}

type recordingProducer struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingProducer) Publish(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, _ := payload.(core.PaymentEvent)
	r.events = append(r.events, publishedEvent{topic: topic, payload: ev})
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func (r *recordingProducer) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.topic == topic {
			n++
		}
	}
	return n
}

func (r *recordingProducer) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemCache() *memCache { return &memCache{items: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dst any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return output.ErrCacheMiss
	}
	return json.Unmarshal(raw, dst)
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = raw
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

type fakeOrders map[string]decimal.Decimal

func (o fakeOrders) GetOrderTotal(_ context.Context, orderID string) (decimal.Decimal, error) {
	total, ok := o[orderID]
	if !ok {
		return decimal.Zero, core.NewNotFoundError("order", orderID)
	}
	return total, nil
}

type harness struct {
	ledger   *database.GormLedgerStore
	webhooks *database.GormWebhookEventStore
	events   *recordingProducer
	cache    *memCache
	orders   fakeOrders

	payments *PaymentServiceImpl
	refunds  *RefundServiceImpl
	hooks    *WebhookServiceImpl
	recon    *ReconciliationServiceImpl
}

func newHarness(t *testing.T, gateways ...output.Gateway) *harness {
	t.Helper()
	gormDB := db.NewTestDB(t).DB
	return newHarnessWithLedger(t, gormDB, database.NewGormLedgerStore(gormDB), gateways...)
}

func newHarnessWithLedger(t *testing.T, gormDB *gorm.DB, ledger output.LedgerStore, gateways ...output.Gateway) *harness {
	t.Helper()
	h := &harness{
		ledger:   database.NewGormLedgerStore(gormDB),
		webhooks: database.NewGormWebhookEventStore(gormDB),
		events:   &recordingProducer{},
		cache:    newMemCache(),
		orders:   fakeOrders{},
	}
	gws := output.Gateways{}
	for _, gw := range gateways {
		gws[gw.Provider()] = gw
	}
	deps := Dependencies{
		Ledger:      ledger,
		Gateways:    gws,
		Orders:      h.orders,
		Idempotency: database.NewGormIdempotencyStore(gormDB),
		Webhooks:    h.webhooks,
		Events:      h.events,
		Cache:       h.cache,
		Logger:      testLogger(),
	}
	cfg := DefaultConfig()
	cfg.MaxAmount = decimal.NewFromInt(100_000)
	proc := NewPaymentProcessor(deps.Ledger, deps.Events, deps.Cache, deps.Logger)
	h.payments = NewPaymentService(deps, proc, cfg)
	h.refunds = NewRefundService(deps, proc)
	h.hooks = NewWebhookService(deps, proc)
	h.recon = NewReconciliationService(deps, cfg)
	return h
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed writes a payment directly to the ledger.
func (h *harness) seed(t *testing.T, mutate func(p *core.Payment)) *core.Payment {
	t.Helper()
	p := &core.Payment{
		ID:               uuid.New(),
		OrderID:          "order-" + uuid.NewString()[:8],
		CustomerID:       "cust-1",
		Amount:           decimal.RequireFromString("1000.00"),
		RefundedAmount:   decimal.Zero,
		Currency:         core.CurrencyINR,
		Method:           core.PaymentMethodCard,
		Provider:         core.ProviderRazorpay,
		ProviderIntentID: "order_" + uuid.NewString()[:8],
		Status:           core.PaymentStatusPending,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, h.ledger.Create(context.Background(), p))
	return p
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *core.Payment {
	t.Helper()
	p, err := h.ledger.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }
