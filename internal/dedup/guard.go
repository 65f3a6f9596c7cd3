// Package dedup guards against duplicate order creation per payment intent.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/wasgeurtje/checkout-reconciler/internal/session"
)

const counterKeyPrefix = "order_request_"

// Guard hands out at most one order-creation permit per payment intent per
// session. Two independent layers back it: an in-memory one-shot latch for
// repeated calls within one process, and a session-scoped counter that
// survives restarts for the lifetime of the session record.
type Guard struct {
	kv session.Store

	mu       sync.Mutex
	acquired map[string]struct{}
}

// NewGuard creates a guard over the given session store.
func NewGuard(kv session.Store) *Guard {
	return &Guard{
		kv:       kv,
		acquired: make(map[string]struct{}),
	}
}

func latchKey(sessionID, paymentIntentID string) string {
	return sessionID + "\x00" + paymentIntentID
}

// TryAcquire returns true exactly once per payment intent per session.
// A false return is not an error: it means an order creation for this
// payment intent has already been started and must not be repeated.
func (g *Guard) TryAcquire(ctx context.Context, sessionID, paymentIntentID string) (bool, error) {
	key := latchKey(sessionID, paymentIntentID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.acquired[key]; ok {
		return false, nil
	}

	counterKey := counterKeyPrefix + paymentIntentID
	_, found, err := g.kv.Get(ctx, sessionID, counterKey)
	if err != nil {
		return false, fmt.Errorf("read dedup counter: %w", err)
	}
	if found {
		// Another process already started this creation. Remember that
		// locally so later calls skip the storage round trip.
		g.acquired[key] = struct{}{}
		return false, nil
	}

	if err := g.kv.Set(ctx, sessionID, counterKey, []byte("1")); err != nil {
		return false, fmt.Errorf("write dedup counter: %w", err)
	}

	g.acquired[key] = struct{}{}
	return true, nil
}

// Release removes the session-scoped counter. Called only after the order
// was created successfully; the in-memory latch stays set so the same
// process never creates a second order for the intent.
func (g *Guard) Release(ctx context.Context, sessionID, paymentIntentID string) error {
	if err := g.kv.Delete(ctx, sessionID, counterKeyPrefix+paymentIntentID); err != nil {
		return fmt.Errorf("clear dedup counter: %w", err)
	}
	return nil
}
