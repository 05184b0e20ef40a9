package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a domain error for callers and transports
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindProcessing          ErrorKind = "processing"
	KindRefund              ErrorKind = "refund"
	KindGateway             ErrorKind = "gateway"
	KindWebhookVerification ErrorKind = "webhook_verification"
	KindInternal            ErrorKind = "internal"
)

// GatewayErrorClass is the fixed taxonomy every gateway failure is folded into
type GatewayErrorClass string

const (
	GatewayCardDeclined   GatewayErrorClass = "card_declined"
	GatewayRateLimited    GatewayErrorClass = "rate_limited"
	GatewayInvalidRequest GatewayErrorClass = "invalid_request"
	GatewayConnection     GatewayErrorClass = "connection"
	GatewayAuthentication GatewayErrorClass = "authentication"
	GatewayUnknown        GatewayErrorClass = "unknown"
)

// Retryable reports whether the class is transient and may be retried.
func (c GatewayErrorClass) Retryable() bool {
	return c == GatewayConnection || c == GatewayRateLimited
}

// Error is the single error type crossing the service boundary.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Fields  map[string]string

	// set for KindGateway only
	GatewayClass GatewayErrorClass
	Provider     Provider

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError reports malformed input or a violated business bound.
func NewValidationError(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: msg, Fields: fields}
}

// NewNotFoundError reports an unknown entity.
func NewNotFoundError(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", entity, id),
	}
}

// NewProcessingError reports an illegal state transition.
func NewProcessingError(attempted, current PaymentStatus) *Error {
	return &Error{
		Kind:    KindProcessing,
		Code:    "INVALID_STATE_TRANSITION",
		Message: fmt.Sprintf("cannot move payment to %s: current status is %s", attempted, current),
		Fields:  map[string]string{"attempted": string(attempted), "current": string(current)},
	}
}

// NewProcessingErrorf reports a processing conflict that is not a plain edge violation.
func NewProcessingErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindProcessing, Code: "PROCESSING_ERROR", Message: fmt.Sprintf(format, args...)}
}

// NewRefundError reports a refund that cannot be issued.
func NewRefundError(msg string) *Error {
	return &Error{Kind: KindRefund, Code: "REFUND_ERROR", Message: msg}
}

// NewGatewayError wraps a classified provider failure.
func NewGatewayError(provider Provider, class GatewayErrorClass, msg string, err error) *Error {
	return &Error{
		Kind:         KindGateway,
		Code:         "GATEWAY_" + strings.ToUpper(string(class)),
		Message:      msg,
		GatewayClass: class,
		Provider:     provider,
		Err:          err,
	}
}

// NewWebhookVerificationError reports a bad signature or malformed envelope.
// The message is deliberately generic.
func NewWebhookVerificationError(err error) *Error {
	return &Error{
		Kind:    KindWebhookVerification,
		Code:    "WEBHOOK_VERIFICATION_FAILED",
		Message: "webhook verification failed",
		Err:     err,
	}
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrorKindOf returns the kind of err, KindInternal for foreign errors.
func ErrorKindOf(err error) ErrorKind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a domain error of kind k.
func IsKind(err error, k ErrorKind) bool {
	return err != nil && ErrorKindOf(err) == k
}
