package order

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// HTTPClient reads order totals from the order service's REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ output.OrderService = (*HTTPClient)(nil)

type orderResponse struct {
	ID    string          `json:"id"`
	Total decimal.Decimal `json:"total"`
}

// NewHTTPClient creates a client for baseURL with a per-request timeout
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetOrderTotal returns the canonical total of orderID in major units
func (c *HTTPClient) GetOrderTotal(ctx context.Context, orderID string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("order service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, core.NewNotFoundError("order", orderID)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("order service error", "order_id", orderID, "status", resp.StatusCode, "body", string(body))
		return decimal.Zero, fmt.Errorf("order service returned %d", resp.StatusCode)
	}

	var out orderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("malformed order response: %w", err)
	}
	if !out.Total.IsPositive() {
		return decimal.Zero, core.NewValidationError("order has no payable total", map[string]string{"order_id": orderID})
	}
	return out.Total, nil
}
