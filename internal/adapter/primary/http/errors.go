package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse wraps ErrorBody with the request id
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// StatusFor maps a domain error to its HTTP status
func StatusFor(e *core.Error) int {
	switch e.Kind {
	case core.KindValidation, core.KindWebhookVerification:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindProcessing:
		return http.StatusConflict
	case core.KindRefund:
		return http.StatusUnprocessableEntity
	case core.KindGateway:
		switch e.GatewayClass {
		case core.GatewayCardDeclined:
			return http.StatusPaymentRequired
		case core.GatewayRateLimited:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorHandler renders domain errors with a stable code; anything
// unclassified is logged and reported generically.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)

		status := http.StatusInternalServerError
		body := ErrorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}

		var he *echo.HTTPError
		if e, ok := core.As(err); ok {
			status = StatusFor(e)
			if status == http.StatusInternalServerError {
				logger.Error("request failed", "request_id", requestID, "error", err)
			} else {
				body = ErrorBody{Code: e.Code, Message: e.Message, Fields: e.Fields}
			}
		} else if errors.As(err, &he) {
			status = he.Code
			body = ErrorBody{Code: codeForStatus(he.Code), Message: http.StatusText(he.Code)}
			if msg, ok := he.Message.(string); ok && status < http.StatusInternalServerError {
				body.Message = msg
			}
		} else {
			logger.Error("request failed",
				"request_id", requestID,
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, ErrorResponse{Error: body, RequestID: requestID})
		}
		if werr != nil {
			logger.Error("failed to write error response", "request_id", requestID, "error", werr)
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
