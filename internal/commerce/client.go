// Package commerce provides a client for the commerce backend order API.
package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/validation"
)

const (
	retryMax     = 2
	retryWaitMin = 1 * time.Second
	retryWaitMax = 2 * time.Second
)

// CreationError is a terminal order-creation failure reported by the
// commerce backend. 4xx-class responses are never retried.
type CreationError struct {
	StatusCode int
	Message    string
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("order creation rejected (%d): %s", e.StatusCode, e.Message)
}

// Client submits order drafts to the commerce backend. Transport errors and
// 5xx responses are retried up to two more times with linearly increasing
// backoff; the retry classification comes from the HTTP client, not from
// matching error text.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type createOrderRequest struct {
	LineItems       []model.LineItem `json:"lineItems"`
	Customer        *model.Customer  `json:"customer"`
	AppliedDiscount *model.Discount  `json:"appliedDiscount,omitempty"`
	Totals          model.Totals     `json:"totals"`
	PaymentIntentID string           `json:"paymentIntentId"`
}

type createOrderResponse struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// linearBackoff waits min after the first attempt, 2*min after the second,
// capped at max.
func linearBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := time.Duration(attemptNum+1) * min
	if wait > max {
		wait = max
	}
	return wait
}

// NewClient creates an HTTP client for the commerce backend at the given
// address.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.Backoff = linearBackoff
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// CreateOrder validates the draft and submits it together with the payment
// intent id. Validation failures are returned before any network call.
func (c *Client) CreateOrder(ctx context.Context, d model.OrderDraft, paymentIntentID string) (int64, string, error) {
	if err := validation.ValidateDraft(d, paymentIntentID); err != nil {
		return 0, "", err
	}

	if c == nil || c.baseURL == "" {
		return 0, "", fmt.Errorf("commerce client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(createOrderRequest{
		LineItems:       d.LineItems,
		Customer:        d.Customer,
		AppliedDiscount: d.AppliedDiscount,
		Totals:          d.Totals,
		PaymentIntentID: paymentIntentID,
	})
	if err != nil {
		return 0, "", fmt.Errorf("marshal order: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/wp-json/wg/v1/orders", body)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)

		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
		}

		return 0, "", &CreationError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, "", fmt.Errorf("decode response: %w", err)
	}

	return result.OrderID, result.OrderNumber, nil
}
