package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/validation"
)

func testDraft() model.OrderDraft {
	return model.OrderDraft{
		LineItems: []model.LineItem{
			{ID: 11, Quantity: 1, UnitPriceCents: 1495},
			{ID: 12, Quantity: 1, UnitPriceCents: 1495},
		},
		Customer: &model.Customer{
			Email:     "klant@example.nl",
			FirstName: "Anna",
			LastName:  "de Vries",
		},
		Totals: model.Totals{
			SubtotalCents:   2990,
			FinalTotalCents: 2990,
		},
	}
}

func TestCreateOrder_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/wp-json/wg/v1/orders" {
			t.Fatalf("path = %s, want /wp-json/wg/v1/orders", r.URL.Path)
		}

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.LineItems) != 2 {
			t.Fatalf("line items = %d, want 2", len(req.LineItems))
		}
		if req.PaymentIntentID != "pi_123" {
			t.Fatalf("payment intent = %q, want pi_123", req.PaymentIntentID)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":555,"orderNumber":"WG-555"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	orderID, orderNumber, err := client.CreateOrder(context.Background(), testDraft(), "pi_123")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if orderID != 555 {
		t.Fatalf("orderID = %d, want 555", orderID)
	}
	if orderNumber != "WG-555" {
		t.Fatalf("orderNumber = %q, want WG-555", orderNumber)
	}
}

func TestCreateOrder_ValidationFailsBeforeNetwork(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	d := testDraft()
	d.LineItems = nil

	_, _, err := client.CreateOrder(context.Background(), d, "pi_123")
	if !errors.Is(err, validation.ErrNoLineItems) {
		t.Fatalf("error = %v, want ErrNoLineItems", err)
	}
	if calls != 0 {
		t.Fatalf("backend called %d times, want 0", calls)
	}
}

func TestCreateOrder_ClientErrorNotRetried(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"coupon no longer valid"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, _, err := client.CreateOrder(context.Background(), testDraft(), "pi_123")

	var creationErr *CreationError
	if !errors.As(err, &creationErr) {
		t.Fatalf("error = %v, want *CreationError", err)
	}
	if creationErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", creationErr.StatusCode)
	}
	if creationErr.Message != "coupon no longer valid" {
		t.Fatalf("message = %q, want backend error text", creationErr.Message)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("backend called %d times, want 1", calls)
	}
}

func TestCreateOrder_TransientRetriedWithBackoff(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		attempt := len(times)
		mu.Unlock()

		if attempt < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"orderId":555,"orderNumber":"WG-555"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	orderID, _, err := client.CreateOrder(context.Background(), testDraft(), "pi_123")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if orderID != 555 {
		t.Fatalf("orderID = %d, want 555", orderID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("backend called %d times, want 3", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 1*time.Second {
		t.Fatalf("first backoff = %v, want >= 1s", gap)
	}
	if gap := times[2].Sub(times[1]); gap < 2*time.Second {
		t.Fatalf("second backoff = %v, want >= 2s", gap)
	}
}

func TestCreateOrder_TransientExhaustsRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, _, err := client.CreateOrder(context.Background(), testDraft(), "pi_123")
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("backend called %d times, want 3", calls)
	}
}
