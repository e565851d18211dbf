package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bivex/store-bridge/internal/domain/entity"
)

// KeyBuyItem is the fixed fan-out key for purchase requests. Keying by
// logical operation rather than per-request ID means concurrent purchases of
// different SKUs share one settlement channel; that simplification is
// intentional.
const KeyBuyItem = "BUY_ITEM"

// Waiter is a pending purchase request. It moves from Pending to Settled
// exactly once; a second settlement attempt is a checked no-op.
type Waiter struct {
	once      sync.Once
	done      chan struct{}
	purchases []*entity.Purchase
	err       error
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

// settle records the outcome and reports whether this call performed the
// settlement. A false return means the waiter was already settled.
func (w *Waiter) settle(purchases []*entity.Purchase, err error) bool {
	settled := false
	w.once.Do(func() {
		w.purchases = purchases
		w.err = err
		close(w.done)
		settled = true
	})
	return settled
}

// Await blocks until the waiter settles or ctx is done. An abandoned Await
// does not cancel the underlying store operation; its result is still
// delivered through events.
func (w *Waiter) Await(ctx context.Context) ([]*entity.Purchase, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return w.purchases, w.err
	}
}

// pendingRegistry maps a fixed operation key to the list of requests
// currently awaiting its result.
type pendingRegistry struct {
	mu      sync.Mutex
	logger  *zap.Logger
	waiters map[string][]*Waiter
}

func newPendingRegistry(logger *zap.Logger) *pendingRegistry {
	return &pendingRegistry{
		logger:  logger,
		waiters: make(map[string][]*Waiter),
	}
}

// Add registers a new waiter under key.
func (r *pendingRegistry) Add(key string) *Waiter {
	w := newWaiter()
	r.mu.Lock()
	r.waiters[key] = append(r.waiters[key], w)
	r.mu.Unlock()
	return w
}

// Resolve settles every waiter currently registered under key with the same
// purchases and clears the key.
func (r *pendingRegistry) Resolve(key string, purchases []*entity.Purchase) {
	for _, w := range r.take(key) {
		if !w.settle(purchases, nil) {
			r.logger.Debug("pending purchase already settled", zap.String("key", key))
		}
	}
}

// Reject settles every waiter under key with err and clears the key.
func (r *pendingRegistry) Reject(key string, err error) {
	for _, w := range r.take(key) {
		if !w.settle(nil, err) {
			r.logger.Debug("pending purchase already settled", zap.String("key", key))
		}
	}
}

// RejectAll rejects every pending waiter across all keys and clears the
// registry. Invoked on connection teardown so no caller hangs forever.
func (r *pendingRegistry) RejectAll(err error) {
	r.mu.Lock()
	all := r.waiters
	r.waiters = make(map[string][]*Waiter)
	r.mu.Unlock()

	for key, waiters := range all {
		for _, w := range waiters {
			if !w.settle(nil, err) {
				r.logger.Debug("pending purchase already settled", zap.String("key", key))
			}
		}
	}
}

// PendingCount returns how many waiters are registered under key.
func (r *pendingRegistry) PendingCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key])
}

func (r *pendingRegistry) take(key string) []*Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.waiters[key]
	delete(r.waiters, key)
	return waiters
}
