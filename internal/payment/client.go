// Package payment provides a client for the payment provider backend.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wasgeurtje/checkout-reconciler/internal/model"
)

// Client encapsulates HTTP interaction with the payment provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type statusResponse struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// NewClient creates an HTTP client for the payment provider at the given
// address.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetStatus fetches the current status of a payment intent. It has no side
// effects and must be called before any order-creation attempt.
func (c *Client) GetStatus(ctx context.Context, paymentIntentID string) (*model.PaymentStatus, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reqURL := fmt.Sprintf("%s/v1/payment_intents/status?payment_intent=%s", base, url.QueryEscape(paymentIntentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.PaymentStatus{
		PaymentIntentID: paymentIntentID,
		Status:          model.ParsePaymentIntentStatus(result.Status),
		AmountCents:     result.Amount,
	}, nil
}
