// Package draft persists checkout state in session storage: the order draft
// created at checkout submission and the result of a completed creation.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/session"
)

// DraftKey is the fixed session key holding the order draft.
const DraftKey = "checkout_order_draft"

const resultKeyPrefix = "order_result_"

const (
	cleanupInterval = 1 * time.Hour
	draftMaxAge     = 24 * time.Hour
)

type draftRecord struct {
	Draft           model.OrderDraft `json:"draft"`
	PaymentIntentID string           `json:"paymentIntentId"`
}

// OrderResult is the persisted outcome of a successful order creation. A
// repeated reconciliation run for the same payment intent returns it instead
// of creating a second order.
type OrderResult struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

// Store reads and writes checkout state through a session store.
type Store struct {
	kv session.Store
}

// NewStore creates a draft store on top of the given session store.
func NewStore(kv session.Store) *Store {
	return &Store{kv: kv}
}

// Save stores the draft and its payment intent id for the session.
func (s *Store) Save(ctx context.Context, sessionID string, d model.OrderDraft, paymentIntentID string) error {
	raw, err := json.Marshal(draftRecord{
		Draft:           d,
		PaymentIntentID: paymentIntentID,
	})
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	if err := s.kv.Set(ctx, sessionID, DraftKey, raw); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns the saved draft and its payment intent id. A missing draft is
// the valid empty case, reported via the found flag.
func (s *Store) Load(ctx context.Context, sessionID string) (model.OrderDraft, string, bool, error) {
	raw, found, err := s.kv.Get(ctx, sessionID, DraftKey)
	if err != nil {
		return model.OrderDraft{}, "", false, fmt.Errorf("load draft: %w", err)
	}
	if !found {
		return model.OrderDraft{}, "", false, nil
	}

	var rec draftRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.OrderDraft{}, "", false, fmt.Errorf("unmarshal draft: %w", err)
	}

	return rec.Draft, rec.PaymentIntentID, true, nil
}

// Clear deletes the draft for the session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, sessionID, DraftKey); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// SaveResult stores the created order for the payment intent.
func (s *Store) SaveResult(ctx context.Context, sessionID, paymentIntentID string, res OrderResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal order result: %w", err)
	}

	if err := s.kv.Set(ctx, sessionID, resultKeyPrefix+paymentIntentID, raw); err != nil {
		return fmt.Errorf("save order result: %w", err)
	}
	return nil
}

// LoadResult returns the stored order for the payment intent, if any.
func (s *Store) LoadResult(ctx context.Context, sessionID, paymentIntentID string) (OrderResult, bool, error) {
	raw, found, err := s.kv.Get(ctx, sessionID, resultKeyPrefix+paymentIntentID)
	if err != nil {
		return OrderResult{}, false, fmt.Errorf("load order result: %w", err)
	}
	if !found {
		return OrderResult{}, false, nil
	}

	var res OrderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return OrderResult{}, false, fmt.Errorf("unmarshal order result: %w", err)
	}

	return res, true, nil
}

// Cleaner removes stale values stored under a key.
type Cleaner interface {
	StartCleanup(ctx context.Context, logger *zap.Logger, key string, interval, maxAge time.Duration)
}

// StartCleanup starts background removal of abandoned drafts when the
// underlying session store supports it.
func (s *Store) StartCleanup(ctx context.Context, logger *zap.Logger) {
	if c, ok := s.kv.(Cleaner); ok {
		c.StartCleanup(ctx, logger, DraftKey, cleanupInterval, draftMaxAge)
	}
}
