package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/adapter/secondary/gateway"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

func seedPaid(t *testing.T, h *harness) *core.Payment {
	t.Helper()
	return h.seed(t, func(p *core.Payment) {
		p.Status = core.PaymentStatusPaid
		p.ProviderTransactionID = "pay_" + p.ID.String()[:8]
	})
}

func TestPartialRefundThenOverRefund(t *testing.T) {
	ctx := context.Background()
	gw := razorpayGateway()
	h := newHarness(t, gw)
	p := seedPaid(t, h)

	res, err := h.refunds.RefundPayment(ctx, input.RefundRequest{
		PaymentID: p.ID,
		Amount:    ptr(decimal.RequireFromString("500.00")),
		Reason:    "damaged item",
	})
	require.NoError(t, err)
	assert.Equal(t, core.PaymentStatusPartiallyRefunded, res.Payment.Status)
	assert.Equal(t, "500.00", res.Payment.RefundedAmount.StringFixed(2))
	assert.NotNil(t, res.Payment.RefundedAt)
	assert.Equal(t, core.RefundStatusProcessed, res.Refund.Status)
	assert.Equal(t, 1, h.events.count(core.TopicPaymentRefunded))

	_, err = h.refunds.RefundPayment(ctx, input.RefundRequest{
		PaymentID: p.ID,
		Amount:    ptr(decimal.RequireFromString("600.00")),
		Reason:    "second item",
	})
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.KindRefund, e.Kind)
	assert.Contains(t, e.Message, "exceeds refundable balance")

	stored := h.reload(t, p.ID)
	assert.Equal(t, core.PaymentStatusPartiallyRefunded, stored.Status)
	assert.Equal(t, "500.00", stored.RefundedAmount.StringFixed(2))
	assert.EqualValues(t, 1, gw.refundCalls.Load())
	assert.Equal(t, 1, h.events.count(core.TopicPaymentRefunded))
}

func TestFullRefundByDefault(t *testing.T) {
	ctx := context.Background()
	gw := razorpayGateway()
	h := newHarness(t, gw)
	p := seedPaid(t, h)

	_, err := h.refunds.RefundPayment(ctx, input.RefundRequest{
		PaymentID: p.ID,
		Amount:    ptr(decimal.RequireFromString("250.00")),
		Reason:    "partial",
	})
	require.NoError(t, err)

	var sent decimal.Decimal
	gw.refund = func(_ context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
		sent = *req.Amount
		return &mapper.NormalisedRefund{RefundID: "rfnd_rest", Amount: *req.Amount, Status: core.RefundStatusPending}, nil
	}
	res, err := h.refunds.RefundPayment(ctx, input.RefundRequest{PaymentID: p.ID, Reason: "rest"})
	require.NoError(t, err)
	assert.Equal(t, "750.00", sent.StringFixed(2))
	assert.Equal(t, core.PaymentStatusRefunded, res.Payment.Status)
	assert.True(t, res.Payment.RefundedAmount.Equal(res.Payment.Amount))
	assert.Equal(t, core.RefundStatusPending, res.Refund.Status)
	assert.Nil(t, res.Refund.ProcessedAt)

	refunds, err := h.refunds.ListRefunds(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	_, err = h.refunds.RefundPayment(ctx, input.RefundRequest{PaymentID: p.ID, Reason: "again"})
	assert.True(t, core.IsKind(err, core.KindRefund))
}

func TestRefundValidation(t *testing.T) {
	ctx := context.Background()
	gw := razorpayGateway()
	h := newHarness(t, gw)
	paid := seedPaid(t, h)
	pending := h.seed(t, nil)

	_, err := h.refunds.RefundPayment(ctx, input.RefundRequest{PaymentID: paid.ID, Reason: "  "})
	assert.True(t, core.IsKind(err, core.KindRefund), "reason required")

	_, err = h.refunds.RefundPayment(ctx, input.RefundRequest{PaymentID: pending.ID, Reason: "nope"})
	assert.True(t, core.IsKind(err, core.KindRefund), "pending is not refundable")

	_, err = h.refunds.RefundPayment(ctx, input.RefundRequest{
		PaymentID: paid.ID,
		Amount:    ptr(decimal.Zero),
		Reason:    "zero",
	})
	assert.True(t, core.IsKind(err, core.KindValidation))

	_, err = h.refunds.RefundPayment(ctx, input.RefundRequest{
		PaymentID: paid.ID,
		Amount:    ptr(decimal.RequireFromString("0.004")),
		Reason:    "below one paisa",
	})
	assert.True(t, core.IsKind(err, core.KindValidation))

	assert.EqualValues(t, 0, gw.refundCalls.Load())
}

func TestRefundGatewayFailureLeavesPaymentUnchanged(t *testing.T) {
	ctx := context.Background()
	gw := razorpayGateway()
	gw.refund = func(context.Context, output.RefundRequest) (*mapper.NormalisedRefund, error) {
		return nil, core.NewGatewayError(core.ProviderRazorpay, core.GatewayInvalidRequest, "payment already refunded", nil)
	}
	h := newHarness(t, gw)
	p := seedPaid(t, h)

	_, err := h.refunds.RefundPayment(ctx, input.RefundRequest{PaymentID: p.ID, Reason: "broken"})
	assert.True(t, core.IsKind(err, core.KindGateway))

	stored := h.reload(t, p.ID)
	assert.Equal(t, core.PaymentStatusPaid, stored.Status)
	assert.True(t, stored.RefundedAmount.IsZero())
	assert.Zero(t, h.events.total())
}

func TestRefundIdempotencyKeyIsStable(t *testing.T) {
	ctx := context.Background()
	gw := razorpayGateway()
	var keys []string
	gw.refund = func(_ context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
		keys = append(keys, req.IdempotencyKey)
		return nil, core.NewGatewayError(core.ProviderRazorpay, core.GatewayConnection, "timeout", nil)
	}
	h := newHarness(t, gw)
	p := seedPaid(t, h)

	for i := 0; i < 2; i++ {
		_, err := h.refunds.RefundPayment(ctx, input.RefundRequest{
			PaymentID: p.ID,
			Amount:    ptr(decimal.RequireFromString("100")),
			Reason:    "retry",
		})
		require.Error(t, err)
	}
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestRefundedAmountNeverExceedsAmount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, razorpayGateway())
	p := seedPaid(t, h)

	steps := []string{"100", "250.50", "0.50", "700", "649", "1", "0.01"}
	for _, step := range steps {
		_, _ = h.refunds.RefundPayment(ctx, input.RefundRequest{
			PaymentID: p.ID,
			Amount:    ptr(decimal.RequireFromString(step)),
			Reason:    "step " + step,
		})
		stored := h.reload(t, p.ID)
		assert.False(t, stored.RefundedAmount.IsNegative())
		assert.False(t, stored.RefundedAmount.GreaterThan(stored.Amount), "after %s", step)
	}
	assert.Equal(t, core.PaymentStatusRefunded, h.reload(t, p.ID).Status)
}

// webhookFirstGateway delivers the provider's refund webhook before
// CreateRefund returns, as Stripe's refund.created often does.
type webhookFirstGateway struct {
	*gateway.RazorpayAdapter
	refund func(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error)
}

func (g *webhookFirstGateway) CreateRefund(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
	return g.refund(ctx, req)
}

func TestRefundBookedByWebhookFirstSucceeds(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		refunded string
		status   core.PaymentStatus
	}{
		{"partial", "600.00", "600.00", core.PaymentStatusPartiallyRefunded},
		{"full", "1000.00", "1000.00", core.PaymentStatusRefunded},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			gw := &webhookFirstGateway{RazorpayAdapter: razorpayWebhookAdapter()}
			h := newHarness(t, gw)
			p := seedPaid(t, h)

			gw.refund = func(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
				payload := refundEvent("refund.processed", "rfnd_fast", p.ProviderTransactionID, *req.Amount, "processed")
				res, err := h.hooks.HandleWebhook(ctx, core.ProviderRazorpay, payload, signedDelivery(payload, "evt_fast"))
				require.NoError(t, err)
				require.True(t, res.Handled)
				return &mapper.NormalisedRefund{
					Provider: core.ProviderRazorpay,
					RefundID: "rfnd_fast",
					Amount:   *req.Amount,
					Currency: req.Currency,
					Status:   core.RefundStatusProcessed,
				}, nil
			}

			res, err := h.refunds.RefundPayment(ctx, input.RefundRequest{
				PaymentID: p.ID,
				Amount:    ptr(decimal.RequireFromString(c.amount)),
				Reason:    "customer returned the item",
			})
			require.NoError(t, err)
			assert.Equal(t, "rfnd_fast", res.Refund.ProviderRefundID)
			assert.Equal(t, c.status, res.Payment.Status)
			assert.Equal(t, c.refunded, res.Payment.RefundedAmount.StringFixed(2))

			stored := h.reload(t, p.ID)
			assert.Equal(t, c.refunded, stored.RefundedAmount.StringFixed(2))
			refunds, err := h.refunds.ListRefunds(ctx, p.ID)
			require.NoError(t, err)
			assert.Len(t, refunds, 1)
			assert.Equal(t, 1, h.events.count(core.TopicPaymentRefunded))
		})
	}
}
