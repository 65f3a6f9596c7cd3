// Package validation contains validation of checkout input data.
package validation

import (
	"errors"
	"strings"

	"github.com/wasgeurtje/checkout-reconciler/internal/model"
)

// ErrNoLineItems is returned for a draft without any line items.
var (
	ErrNoLineItems = errors.New("order draft has no line items")
	// ErrNoCustomer is returned for a draft without customer data.
	ErrNoCustomer = errors.New("order draft has no customer")
	// ErrNoCustomerEmail is returned when the customer email is missing.
	ErrNoCustomerEmail = errors.New("customer email is missing")
	// ErrNoPaymentIntent is returned when the payment intent id is missing.
	ErrNoPaymentIntent = errors.New("payment intent id is missing")
)

// ValidateDraft checks the preconditions for submitting an order draft.
// Each precondition has its own sentinel error; a validation failure means
// the draft must not be sent to the commerce backend.
func ValidateDraft(d model.OrderDraft, paymentIntentID string) error {
	if len(d.LineItems) == 0 {
		return ErrNoLineItems
	}
	if d.Customer == nil {
		return ErrNoCustomer
	}
	if strings.TrimSpace(d.Customer.Email) == "" {
		return ErrNoCustomerEmail
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return ErrNoPaymentIntent
	}
	return nil
}

// IsValidationError reports whether err is one of the draft precondition
// failures. Such errors are terminal and never retried.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoLineItems) ||
		errors.Is(err, ErrNoCustomer) ||
		errors.Is(err, ErrNoCustomerEmail) ||
		errors.Is(err, ErrNoPaymentIntent)
}
