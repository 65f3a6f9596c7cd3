// Package reconcile implements the post-payment order reconciliation flow:
// verify the payment intent, then create the backend order at most once.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wasgeurtje/checkout-reconciler/internal/draft"
	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/validation"
)

// Error-tracking tags for triage. Reporting never changes the state the
// flow ends in.
const (
	tagPaymentVerification = "PAYMENT_VERIFICATION_ERROR"
	tagOrderCreation       = "ORDER_CREATION_FAILED"
	tagDraftLoad           = "DRAFT_LOAD_ERROR"
	tagDraftMismatch       = "DRAFT_PAYMENT_MISMATCH"
	tagDedupGuard          = "DEDUP_GUARD_ERROR"
	tagStateUpdate         = "STATE_UPDATE_ERROR"
)

// Verifier reports the current status of a payment intent.
type Verifier interface {
	GetStatus(ctx context.Context, paymentIntentID string) (*model.PaymentStatus, error)
}

// Creator submits an order draft to the commerce backend.
type Creator interface {
	CreateOrder(ctx context.Context, d model.OrderDraft, paymentIntentID string) (int64, string, error)
}

// DraftStore holds the checkout draft and the created-order record for a
// session.
type DraftStore interface {
	Save(ctx context.Context, sessionID string, d model.OrderDraft, paymentIntentID string) error
	Load(ctx context.Context, sessionID string) (model.OrderDraft, string, bool, error)
	Clear(ctx context.Context, sessionID string) error
	SaveResult(ctx context.Context, sessionID, paymentIntentID string, res draft.OrderResult) error
	LoadResult(ctx context.Context, sessionID, paymentIntentID string) (draft.OrderResult, bool, error)
}

// Guard hands out at most one order-creation permit per payment intent per
// session.
type Guard interface {
	TryAcquire(ctx context.Context, sessionID, paymentIntentID string) (bool, error)
	Release(ctx context.Context, sessionID, paymentIntentID string) error
}

// Service orchestrates the reconciliation flow.
type Service struct {
	verifier Verifier
	creator  Creator
	drafts   DraftStore
	guard    Guard
	logger   *zap.Logger
}

// NewService creates the reconciliation service with its collaborators.
func NewService(verifier Verifier, creator Creator, drafts DraftStore, guard Guard, logger *zap.Logger) *Service {
	return &Service{
		verifier: verifier,
		creator:  creator,
		drafts:   drafts,
		guard:    guard,
		logger:   logger,
	}
}

// RedirectParams are the query parameters the payment provider appends to
// the return URL.
type RedirectParams struct {
	PaymentIntent             string
	PaymentIntentClientSecret string
}

// paymentIntentID extracts the intent id, falling back to the client secret
// prefix ("pi_..._secret_...") when only the secret is present.
func (p RedirectParams) paymentIntentID() string {
	if p.PaymentIntent != "" {
		return p.PaymentIntent
	}
	if p.PaymentIntentClientSecret != "" {
		if idx := strings.Index(p.PaymentIntentClientSecret, "_secret"); idx > 0 {
			return p.PaymentIntentClientSecret[:idx]
		}
	}
	return ""
}

func failureReason(status model.PaymentIntentStatus) string {
	switch status {
	case model.PaymentStatusCanceled:
		return "payment canceled"
	case model.PaymentStatusRequiresAction:
		return "additional action required"
	case model.PaymentStatusRequiresPaymentMethod:
		return "payment failed, try another method"
	default:
		return "payment could not be completed"
	}
}

// supportMessage is shown when the charge succeeded but the order could not
// be registered. It must never read like a failed payment.
func supportMessage(paymentIntentID string) string {
	return fmt.Sprintf("your payment was received, but the order could not be registered; please contact support with reference %s", paymentIntentID)
}

func failed(msg string) model.ReconciliationResult {
	return model.ReconciliationResult{
		Status:       model.ReconciliationFailed,
		ErrorMessage: msg,
	}
}

// SaveDraft validates and persists the order draft for the session.
func (s *Service) SaveDraft(ctx context.Context, sessionID string, d model.OrderDraft, paymentIntentID string) error {
	if err := validation.ValidateDraft(d, paymentIntentID); err != nil {
		return err
	}
	return s.drafts.Save(ctx, sessionID, d, paymentIntentID)
}

// Run executes the reconciliation flow for one redirect. It is safe to call
// repeatedly for the same payment intent: the dedup guard and the stored
// order result keep the commerce backend from seeing a second creation.
func (s *Service) Run(ctx context.Context, sessionID string, params RedirectParams) model.ReconciliationResult {
	paymentIntentID := params.paymentIntentID()
	if paymentIntentID == "" {
		return failed("no payment information found")
	}

	status, err := s.verifier.GetStatus(ctx, paymentIntentID)
	if err != nil {
		s.report(tagPaymentVerification, err, paymentIntentID)
		return failed("could not verify payment status")
	}

	if status.Status != model.PaymentStatusSucceeded {
		return failed(failureReason(status.Status))
	}

	// A refresh after a completed run finds the stored order here.
	if res, found, err := s.drafts.LoadResult(ctx, sessionID, paymentIntentID); err != nil {
		s.report(tagDraftLoad, err, paymentIntentID)
	} else if found {
		return model.ReconciliationResult{
			Status:          model.ReconciliationCompleted,
			OrderID:         res.OrderID,
			OrderNumber:     res.OrderNumber,
			PaidAmountCents: status.AmountCents,
		}
	}

	d, draftIntentID, found, err := s.drafts.Load(ctx, sessionID)
	if err != nil {
		// The charge is confirmed; show that even if the draft is
		// unreadable.
		s.report(tagDraftLoad, err, paymentIntentID)
		return paymentOnly(status)
	}
	if !found {
		return paymentOnly(status)
	}

	if draftIntentID != "" && draftIntentID != paymentIntentID {
		s.report(tagDraftMismatch,
			fmt.Errorf("draft belongs to intent %s", draftIntentID), paymentIntentID)
		return paymentOnly(status)
	}

	acquired, err := s.guard.TryAcquire(ctx, sessionID, paymentIntentID)
	if err != nil {
		s.report(tagDedupGuard, err, paymentIntentID)
		return model.ReconciliationResult{
			Status:          model.ReconciliationFailed,
			ErrorMessage:    supportMessage(paymentIntentID),
			PaidAmountCents: status.AmountCents,
		}
	}
	if !acquired {
		// Someone already started this creation; never start a second one.
		return model.ReconciliationResult{
			Status:          model.ReconciliationCreating,
			PaidAmountCents: status.AmountCents,
		}
	}

	orderID, orderNumber, err := s.creator.CreateOrder(ctx, d, paymentIntentID)
	if err != nil {
		s.report(tagOrderCreation, err, paymentIntentID)
		return model.ReconciliationResult{
			Status:          model.ReconciliationFailed,
			ErrorMessage:    supportMessage(paymentIntentID),
			PaidAmountCents: status.AmountCents,
		}
	}

	if err := s.drafts.SaveResult(ctx, sessionID, paymentIntentID, draft.OrderResult{
		OrderID:     orderID,
		OrderNumber: orderNumber,
	}); err != nil {
		s.report(tagStateUpdate, err, paymentIntentID)
	}
	if err := s.drafts.Clear(ctx, sessionID); err != nil {
		s.report(tagStateUpdate, err, paymentIntentID)
	}
	if err := s.guard.Release(ctx, sessionID, paymentIntentID); err != nil {
		s.report(tagStateUpdate, err, paymentIntentID)
	}

	return model.ReconciliationResult{
		Status:          model.ReconciliationCompleted,
		OrderID:         orderID,
		OrderNumber:     orderNumber,
		PaidAmountCents: status.AmountCents,
	}
}

func paymentOnly(status *model.PaymentStatus) model.ReconciliationResult {
	return model.ReconciliationResult{
		Status:          model.ReconciliationPaymentOnly,
		PaidAmountCents: status.AmountCents,
	}
}

func (s *Service) report(tag string, err error, paymentIntentID string) {
	s.logger.Error("reconciliation error",
		zap.String("tag", tag),
		zap.Error(err),
		zap.String("paymentIntent", paymentIntentID),
	)
}
