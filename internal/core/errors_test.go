package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("refund: %w", NewRefundError("exceeds refundable balance"))
	assert.Equal(t, KindRefund, ErrorKindOf(err))
	assert.True(t, IsKind(err, KindRefund))
	assert.Equal(t, KindInternal, ErrorKindOf(errors.New("boom")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestGatewayErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewGatewayError(ProviderRazorpay, GatewayConnection, "gateway unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "GATEWAY_CONNECTION", err.Code)
	assert.True(t, err.GatewayClass.Retryable())
	assert.False(t, GatewayCardDeclined.Retryable())

	declined := NewGatewayError(ProviderStripe, GatewayCardDeclined, "card declined", nil)
	assert.Equal(t, "GATEWAY_CARD_DECLINED", declined.Code)
}
