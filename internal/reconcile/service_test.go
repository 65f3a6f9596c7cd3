package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wasgeurtje/checkout-reconciler/internal/dedup"
	"github.com/wasgeurtje/checkout-reconciler/internal/draft"
	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/session"
)

type stubVerifier struct {
	status *model.PaymentStatus
	err    error

	calls      int
	lastIntent string
}

func (v *stubVerifier) GetStatus(ctx context.Context, paymentIntentID string) (*model.PaymentStatus, error) {
	v.calls++
	v.lastIntent = paymentIntentID
	return v.status, v.err
}

type stubCreator struct {
	orderID     int64
	orderNumber string
	err         error

	calls int
}

func (c *stubCreator) CreateOrder(ctx context.Context, d model.OrderDraft, paymentIntentID string) (int64, string, error) {
	c.calls++
	if c.err != nil {
		return 0, "", c.err
	}
	return c.orderID, c.orderNumber, nil
}

func succeededStatus(paymentIntentID string, amount int64) *model.PaymentStatus {
	return &model.PaymentStatus{
		PaymentIntentID: paymentIntentID,
		Status:          model.PaymentStatusSucceeded,
		AmountCents:     amount,
	}
}

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

type fixture struct {
	svc      *Service
	verifier *stubVerifier
	creator  *stubCreator
	drafts   *draft.Store
	kv       *session.MemoryStore
}

func newFixture(verifier *stubVerifier, creator *stubCreator) *fixture {
	kv := session.NewMemoryStore()
	drafts := draft.NewStore(kv)
	guard := dedup.NewGuard(kv)

	return &fixture{
		svc:      NewService(verifier, creator, drafts, guard, zap.NewNop()),
		verifier: verifier,
		creator:  creator,
		drafts:   drafts,
		kv:       kv,
	}
}

func TestRun_NoPaymentInfo(t *testing.T) {
	f := newFixture(&stubVerifier{}, &stubCreator{})

	res := f.svc.Run(context.Background(), "sess-1", RedirectParams{})

	if res.Status != model.ReconciliationFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.ErrorMessage != "no payment information found" {
		t.Fatalf("message = %q", res.ErrorMessage)
	}
	if f.verifier.calls != 0 {
		t.Fatalf("verifier called %d times, want 0", f.verifier.calls)
	}
}

func TestRun_PaymentCanceled(t *testing.T) {
	verifier := &stubVerifier{
		status: &model.PaymentStatus{
			PaymentIntentID: "pi_999",
			Status:          model.PaymentStatusCanceled,
		},
	}
	f := newFixture(verifier, &stubCreator{})

	res := f.svc.Run(context.Background(), "sess-1", RedirectParams{PaymentIntent: "pi_999"})

	if res.Status != model.ReconciliationFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "canceled") {
		t.Fatalf("message = %q, want mention of cancellation", res.ErrorMessage)
	}
	if f.creator.calls != 0 {
		t.Fatalf("creator called %d times, want 0", f.creator.calls)
	}
}

func TestRun_FailureReasons(t *testing.T) {
	tests := []struct {
		status model.PaymentIntentStatus
		want   string
	}{
		{model.PaymentStatusCanceled, "payment canceled"},
		{model.PaymentStatusRequiresAction, "additional action required"},
		{model.PaymentStatusRequiresPaymentMethod, "payment failed, try another method"},
		{model.PaymentStatusOther, "payment could not be completed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			verifier := &stubVerifier{
				status: &model.PaymentStatus{PaymentIntentID: "pi_1", Status: tt.status},
			}
			f := newFixture(verifier, &stubCreator{})

			res := f.svc.Run(context.Background(), "sess-1", RedirectParams{PaymentIntent: "pi_1"})
			if res.Status != model.ReconciliationFailed {
				t.Fatalf("status = %q, want failed", res.Status)
			}
			if res.ErrorMessage != tt.want {
				t.Fatalf("message = %q, want %q", res.ErrorMessage, tt.want)
			}
		})
	}
}

func TestRun_VerificationError(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("connection refused")}
	f := newFixture(verifier, &stubCreator{})

	res := f.svc.Run(context.Background(), "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if f.creator.calls != 0 {
		t.Fatalf("creator called %d times, want 0", f.creator.calls)
	}
}

func TestRun_NoDraft_PaymentOnly(t *testing.T) {
	f := newFixture(&stubVerifier{status: succeededStatus("pi_123", 2990)}, &stubCreator{})

	res := f.svc.Run(context.Background(), "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationPaymentOnly {
		t.Fatalf("status = %q, want payment_only", res.Status)
	}
	if res.PaidAmountCents != 2990 {
		t.Fatalf("paid amount = %d, want 2990", res.PaidAmountCents)
	}
	if f.creator.calls != 0 {
		t.Fatalf("creator called %d times, want 0", f.creator.calls)
	}
}

func TestRun_Completed(t *testing.T) {
	f := newFixture(
		&stubVerifier{status: succeededStatus("pi_123", 2990)},
		&stubCreator{orderID: 555, orderNumber: "WG-555"},
	)
	ctx := context.Background()

	if err := f.drafts.Save(ctx, "sess-1", testDraft(), "pi_123"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	res := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.OrderID != 555 || res.OrderNumber != "WG-555" {
		t.Fatalf("order = %d/%q, want 555/WG-555", res.OrderID, res.OrderNumber)
	}
	if res.PaidAmountCents != 2990 {
		t.Fatalf("paid amount = %d, want 2990", res.PaidAmountCents)
	}

	// Draft is consumed exactly once.
	if _, _, found, _ := f.drafts.Load(ctx, "sess-1"); found {
		t.Fatalf("draft still present after completion")
	}

	// Dedup counter is cleared on success.
	if _, found, _ := f.kv.Get(ctx, "sess-1", "order_request_pi_123"); found {
		t.Fatalf("dedup counter still present after completion")
	}

	// The created order is recorded for later refreshes.
	stored, found, _ := f.drafts.LoadResult(ctx, "sess-1", "pi_123")
	if !found || stored.OrderID != 555 {
		t.Fatalf("stored result = %+v (found=%v), want orderID 555", stored, found)
	}
}

func TestRun_TwiceCreatesOneOrder(t *testing.T) {
	f := newFixture(
		&stubVerifier{status: succeededStatus("pi_123", 2990)},
		&stubCreator{orderID: 555, orderNumber: "WG-555"},
	)
	ctx := context.Background()

	if err := f.drafts.Save(ctx, "sess-1", testDraft(), "pi_123"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	first := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})
	second := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if f.creator.calls != 1 {
		t.Fatalf("creator called %d times, want exactly 1", f.creator.calls)
	}
	if first.Status != model.ReconciliationCompleted {
		t.Fatalf("first status = %q, want completed", first.Status)
	}
	if second.Status != model.ReconciliationCompleted {
		t.Fatalf("second status = %q, want completed", second.Status)
	}
	if second.OrderID != 555 || second.OrderNumber != "WG-555" {
		t.Fatalf("second run lost the order reference: %+v", second)
	}
}

func TestRun_InFlightCreationNotRestarted(t *testing.T) {
	f := newFixture(
		&stubVerifier{status: succeededStatus("pi_123", 2990)},
		&stubCreator{orderID: 555, orderNumber: "WG-555"},
	)
	ctx := context.Background()

	if err := f.drafts.Save(ctx, "sess-1", testDraft(), "pi_123"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	// Another process already took the permit and has not finished yet.
	if err := f.kv.Set(ctx, "sess-1", "order_request_pi_123", []byte("1")); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	res := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationCreating {
		t.Fatalf("status = %q, want creating", res.Status)
	}
	if f.creator.calls != 0 {
		t.Fatalf("creator called %d times, want 0", f.creator.calls)
	}
}

func TestRun_CreationFailureKeepsChargeVisible(t *testing.T) {
	f := newFixture(
		&stubVerifier{status: succeededStatus("pi_123", 2990)},
		&stubCreator{err: errors.New("giving up after 3 attempt(s)")},
	)
	ctx := context.Background()

	if err := f.drafts.Save(ctx, "sess-1", testDraft(), "pi_123"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	res := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	// The support message references the payment intent and the result
	// still shows the charge as succeeded.
	if !strings.Contains(res.ErrorMessage, "pi_123") {
		t.Fatalf("message = %q, want payment intent reference", res.ErrorMessage)
	}
	if strings.Contains(res.ErrorMessage, "payment failed") {
		t.Fatalf("message %q must not read like a failed charge", res.ErrorMessage)
	}
	if res.PaidAmountCents != 2990 {
		t.Fatalf("paid amount = %d, want 2990", res.PaidAmountCents)
	}

	// Draft stays for manual follow-up; it is deleted only on success.
	if _, _, found, _ := f.drafts.Load(ctx, "sess-1"); !found {
		t.Fatalf("draft removed after failed creation")
	}
}

func TestRun_ClientSecretFallback(t *testing.T) {
	verifier := &stubVerifier{status: succeededStatus("pi_777", 1000)}
	f := newFixture(verifier, &stubCreator{})

	res := f.svc.Run(context.Background(), "sess-1", RedirectParams{
		PaymentIntentClientSecret: "pi_777_secret_abcdef",
	})

	if verifier.lastIntent != "pi_777" {
		t.Fatalf("verified intent = %q, want pi_777", verifier.lastIntent)
	}
	if res.Status != model.ReconciliationPaymentOnly {
		t.Fatalf("status = %q, want payment_only", res.Status)
	}
}

func TestRun_DraftForOtherIntent(t *testing.T) {
	f := newFixture(
		&stubVerifier{status: succeededStatus("pi_123", 2990)},
		&stubCreator{},
	)
	ctx := context.Background()

	if err := f.drafts.Save(ctx, "sess-1", testDraft(), "pi_OLD"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	res := f.svc.Run(ctx, "sess-1", RedirectParams{PaymentIntent: "pi_123"})

	if res.Status != model.ReconciliationPaymentOnly {
		t.Fatalf("status = %q, want payment_only", res.Status)
	}
	if f.creator.calls != 0 {
		t.Fatalf("creator called %d times, want 0", f.creator.calls)
	}
}

func TestSaveDraft_Validates(t *testing.T) {
	f := newFixture(&stubVerifier{}, &stubCreator{})
	ctx := context.Background()

	d := testDraft()
	d.LineItems = nil

	if err := f.svc.SaveDraft(ctx, "sess-1", d, "pi_123"); err == nil {
		t.Fatalf("expected validation error for empty draft")
	}

	if err := f.svc.SaveDraft(ctx, "sess-1", testDraft(), "pi_123"); err != nil {
		t.Fatalf("SaveDraft error: %v", err)
	}

	_, intentID, found, err := f.drafts.Load(ctx, "sess-1")
	if err != nil || !found {
		t.Fatalf("draft not stored: found=%v err=%v", found, err)
	}
	if intentID != "pi_123" {
		t.Fatalf("payment intent = %q, want pi_123", intentID)
	}
}
