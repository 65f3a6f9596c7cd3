// Package model contains the domain entities of the reconciliation service.
package model

// PaymentIntentStatus is the payment provider's decision for a payment intent.
type PaymentIntentStatus string

const (
	PaymentStatusSucceeded             PaymentIntentStatus = "succeeded"
	PaymentStatusCanceled              PaymentIntentStatus = "canceled"
	PaymentStatusRequiresAction        PaymentIntentStatus = "requires_action"
	PaymentStatusRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentStatusOther                 PaymentIntentStatus = "other"
)

// ParsePaymentIntentStatus maps a provider status string onto the known set.
// Unknown values collapse into PaymentStatusOther.
func ParsePaymentIntentStatus(s string) PaymentIntentStatus {
	switch PaymentIntentStatus(s) {
	case PaymentStatusSucceeded, PaymentStatusCanceled, PaymentStatusRequiresAction, PaymentStatusRequiresPaymentMethod:
		return PaymentIntentStatus(s)
	default:
		return PaymentStatusOther
	}
}

// PaymentStatus describes the current state of a single payment intent.
// It is fetched fresh from the payment provider on every reconciliation run.
type PaymentStatus struct {
	PaymentIntentID string
	Status          PaymentIntentStatus
	AmountCents     int64
}

// LineItem is one product position of an order draft. Prices are in minor
// currency units.
type LineItem struct {
	ID             int64 `json:"id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unitPrice"`
}

// Customer holds the buyer's contact and address data captured at checkout.
type Customer struct {
	Email                 string `json:"email"`
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	Street                string `json:"street"`
	HouseNumber           string `json:"houseNumber"`
	PostalCode            string `json:"postalCode"`
	City                  string `json:"city"`
	Country               string `json:"country"`
	BillingSameAsShipping bool   `json:"billingSameAsShipping"`
}

// Discount describes a coupon applied to the draft.
type Discount struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amount"`
}

// Totals carries the computed order amounts in minor currency units.
type Totals struct {
	SubtotalCents   int64 `json:"subtotal"`
	DiscountCents   int64 `json:"discountAmount"`
	ShippingCents   int64 `json:"shippingCost"`
	FinalTotalCents int64 `json:"finalTotal"`
}

// OrderDraft is the snapshot of cart and customer data created at checkout
// submission. It is consumed exactly once to create the backend order.
type OrderDraft struct {
	LineItems       []LineItem `json:"lineItems"`
	Customer        *Customer  `json:"customer"`
	AppliedDiscount *Discount  `json:"appliedDiscount,omitempty"`
	Totals          Totals     `json:"totals"`
}

// ReconciliationStatus is the state of the reconciliation flow as exposed to
// the presentation layer.
type ReconciliationStatus string

const (
	ReconciliationLoading     ReconciliationStatus = "loading"
	ReconciliationCreating    ReconciliationStatus = "creating"
	ReconciliationCompleted   ReconciliationStatus = "completed"
	ReconciliationFailed      ReconciliationStatus = "failed"
	ReconciliationPaymentOnly ReconciliationStatus = "payment_only"
)

// ReconciliationResult is the outcome of one reconciliation run. A non-zero
// PaidAmountCents on a failed result means the charge itself succeeded and
// the failure concerns order registration only.
type ReconciliationResult struct {
	Status          ReconciliationStatus
	OrderID         int64
	OrderNumber     string
	ErrorMessage    string
	PaidAmountCents int64
}
