package mapper

import (
	"encoding/json"
	"strings"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// Notes is Razorpay's free-form notes object. The API sends [] instead of
// {} when it is empty.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		*n = Notes{}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// RazorpayOrder is the order entity as returned by /v1/orders.
type RazorpayOrder struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

// RazorpayPayment is the payment entity as returned by /v1/payments.
type RazorpayPayment struct {
	ID               string `json:"id"`
	Entity           string `json:"entity"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	AmountRefunded   int64  `json:"amount_refunded"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
	Notes            Notes  `json:"notes"`
	CreatedAt        int64  `json:"created_at"`
}

// RazorpayRefund is the refund entity as returned by /v1/refunds.
type RazorpayRefund struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Notes     Notes  `json:"notes"`
	CreatedAt int64  `json:"created_at"`
}

// RazorpayPayment converts a payment entity. IntentID carries the order id.
func (m *Mapper) RazorpayPayment(p RazorpayPayment) NormalisedPayment {
	out := NormalisedPayment{
		Provider:      core.ProviderRazorpay,
		IntentID:      p.OrderID,
		TransactionID: p.ID,
		Status:        m.RazorpayPaymentStatus(p.Status),
		RawStatus:     p.Status,
		Capturable:    p.Status == "authorized",
		Amount:        ToMajorUnits(p.Amount),
		Currency:      core.Currency(strings.ToUpper(p.Currency)),
		Method:        RazorpayMethod(p.Method),
		Metadata:      p.Notes,
		CreatedAt:     unixTime(p.CreatedAt),
		Raw:           rawJSON(p),
	}
	if p.Status == "failed" {
		out.FailureReason = razorpayFailureReason(p)
	}
	return out
}

// RazorpayOrder converts an order entity.
func (m *Mapper) RazorpayOrder(o RazorpayOrder) NormalisedOrder {
	return NormalisedOrder{
		Provider:   core.ProviderRazorpay,
		OrderID:    o.ID,
		Receipt:    o.Receipt,
		Amount:     ToMajorUnits(o.Amount),
		AmountPaid: ToMajorUnits(o.AmountPaid),
		AmountDue:  ToMajorUnits(o.AmountDue),
		Currency:   core.Currency(strings.ToUpper(o.Currency)),
		Status:     m.RazorpayOrderStatus(o.Status),
		RawStatus:  o.Status,
		Attempts:   o.Attempts,
		CreatedAt:  unixTime(o.CreatedAt),
		Raw:        rawJSON(o),
	}
}

// RazorpayRefund converts a refund entity.
func (m *Mapper) RazorpayRefund(r RazorpayRefund) NormalisedRefund {
	return NormalisedRefund{
		Provider:      core.ProviderRazorpay,
		RefundID:      r.ID,
		TransactionID: r.PaymentID,
		Amount:        ToMajorUnits(r.Amount),
		Currency:      core.Currency(strings.ToUpper(r.Currency)),
		Status:        m.RazorpayRefundStatus(r.Status),
		RawStatus:     r.Status,
		CreatedAt:     unixTime(r.CreatedAt),
		Raw:           rawJSON(r),
	}
}

func razorpayFailureReason(p RazorpayPayment) string {
	switch {
	case p.ErrorCode != "" && p.ErrorDescription != "":
		return p.ErrorCode + ": " + p.ErrorDescription
	case p.ErrorDescription != "":
		return p.ErrorDescription
	case p.ErrorReason != "":
		return p.ErrorReason
	default:
		return "payment failed at gateway"
	}
}
