package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/service"
)

// ConnectionState is the bridge's connection lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateReady
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Store is the native store boundary the bridge drives. Implementations live
// in internal/infrastructure/external/store; the memory implementation backs
// the tests.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// SetListeners registers the purchase callback shims. Calling it again
	// replaces the previous handlers.
	SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError))

	FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error)
	Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error)
	AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error)
	FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error
	Storefront(ctx context.Context) (string, error)
	SubscriptionManagementURL(sku string) string
}

// ForegroundAttacher is an optional store capability. Attach failures never
// abort connection setup.
type ForegroundAttacher interface {
	AttachForeground(ctx context.Context) error
}

// AndroidCapabilities is the optional Android-only store surface.
type AndroidCapabilities interface {
	AcknowledgePurchase(ctx context.Context, sku, token string, subscription bool) error
	ConsumePurchase(ctx context.Context, sku, token string) error
}

// Options configures a Bridge.
type Options struct {
	// EventBufferSize caps the pre-ready event buffer; 0 means
	// DefaultEventBufferSize.
	EventBufferSize int
	Logger          *zap.Logger
}

// Bridge owns the store connection lifecycle and rebroadcasts store
// callbacks as typed events, buffering them while the connection is not
// ready. It is an explicitly constructed single instance; nothing here is
// package-level state.
type Bridge struct {
	store  Store
	logger *zap.Logger

	// mu serializes InitConnection/EndConnection so two connects cannot
	// race to attach listeners twice or flush concurrently with a teardown.
	mu                sync.Mutex
	listenersAttached bool

	// emitMu guards state and the buffered/live emit decision.
	emitMu sync.Mutex
	state  ConnectionState

	buf       *eventBuffer
	pending   *pendingRegistry
	listeners *listenerSet

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Bridge over store and starts its dispatch goroutine.
func New(store Store, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bridge{
		store:     store,
		logger:    logger,
		state:     StateDisconnected,
		buf:       newEventBuffer(opts.EventBufferSize),
		pending:   newPendingRegistry(logger),
		listeners: newListenerSet(),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// dispatch is the single delivery goroutine. All events, buffered or live,
// reach listeners through here, which is what keeps delivery ordered and off
// the store's own callback goroutines.
func (b *Bridge) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.listeners.fanout(ev)
		}
	}
}

// Close stops the dispatch goroutine. The bridge must not be used after
// Close.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	return b.state
}

func (b *Bridge) setState(s ConnectionState) {
	b.emitMu.Lock()
	b.state = s
	b.emitMu.Unlock()
}

// InitConnection establishes the store connection. Calling it while already
// ready is a no-op returning success. Store listeners are attached exactly
// once per connection; events buffered before readiness are flushed in FIFO
// order as part of going live.
func (b *Bridge) InitConnection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateReady {
		b.logger.Debug("init connection: already ready")
		return nil
	}
	b.setState(StateConnecting)

	if !b.listenersAttached {
		b.store.SetListeners(b.onPurchaseUpdated, b.onPurchaseError)
		b.listenersAttached = true
	}

	if err := b.store.Connect(ctx); err != nil {
		b.emitMu.Lock()
		b.buf.Clear()
		b.state = StateDisconnected
		b.emitMu.Unlock()
		return &apperrors.ConnectionError{
			Op:  "init",
			Err: fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err),
		}
	}

	if fa, ok := b.store.(ForegroundAttacher); ok {
		if err := fa.AttachForeground(ctx); err != nil {
			b.logger.Warn("foreground attach failed", zap.Error(err))
		}
	}

	// Flush oldest-first, then go live. Holding emitMu across both keeps a
	// concurrent store callback from jumping ahead of buffered events.
	b.emitMu.Lock()
	flushed := b.buf.Drain()
	for _, ev := range flushed {
		b.deliver(ev)
	}
	b.state = StateReady
	b.emitMu.Unlock()

	if len(flushed) > 0 {
		b.logger.Info("flushed buffered store events", zap.Int("count", len(flushed)))
	}
	return nil
}

// EndConnection tears the connection down. Store teardown errors are logged
// and swallowed; the buffer is cleared unconditionally and every pending
// purchase is rejected with a connection-closed error.
func (b *Bridge) EndConnection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Disconnect(ctx); err != nil {
		b.logger.Warn("store disconnect failed", zap.Error(err))
	}

	b.emitMu.Lock()
	b.state = StateDisconnected
	b.buf.Clear()
	b.emitMu.Unlock()

	b.listenersAttached = false
	b.pending.RejectAll(apperrors.NewPurchaseError(
		apperrors.CodeConnectionClosed, "", "connection closed before purchase completed"))
	return nil
}

// OnPurchaseUpdated registers a purchase-updated listener.
func (b *Bridge) OnPurchaseUpdated(fn PurchaseUpdatedFunc) *ListenerHandle {
	return b.listeners.addUpdated(fn)
}

// OnPurchaseError registers a purchase-error listener.
func (b *Bridge) OnPurchaseError(fn PurchaseErrorFunc) *ListenerHandle {
	return b.listeners.addErrored(fn)
}

// RequestPurchase normalizes and executes a purchase. The result is
// delivered twice, with matching semantics: as the return value here, and as
// purchase-updated / purchase-error events to registered listeners.
// Concurrent requests share the BUY_ITEM settlement key and all observe the
// first result that arrives.
func (b *Bridge) RequestPurchase(ctx context.Context, params *entity.PurchaseParams) ([]*entity.Purchase, error) {
	native, err := NormalizeRequest(params)
	if err != nil {
		return nil, err
	}
	if b.State() != StateReady {
		return nil, apperrors.NewPurchaseError(
			apperrors.CodeNotReady, native.Platform.String(), apperrors.ErrNotReady.Error())
	}

	w := b.pending.Add(KeyBuyItem)
	go b.executePurchase(native)
	return w.Await(ctx)
}

// executePurchase runs the store call to completion regardless of caller
// interest; store operations are not cancellable once issued.
func (b *Bridge) executePurchase(native *entity.NativePurchaseRequest) {
	ctx := context.Background()
	purchases, err := b.store.Purchase(ctx, native)
	if err != nil {
		perr := apperrors.AsPurchaseError(err, native.Platform.String())
		if perr.ProductID == "" {
			perr.ProductID = native.FirstSKU()
		}
		b.logger.Warn("purchase failed",
			zap.String("code", string(perr.Code)),
			zap.String("product_id", perr.ProductID),
		)
		b.emitOrBuffer(Event{Name: EventPurchaseError, Err: perr})
		b.pending.Reject(KeyBuyItem, perr)
		return
	}

	for _, p := range purchases {
		b.emitOrBuffer(Event{Name: EventPurchaseUpdated, Purchase: p})
	}
	b.pending.Resolve(KeyBuyItem, purchases)
}

// FetchProducts queries store product metadata for the given SKUs.
func (b *Bridge) FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error) {
	if len(req.SKUs) == 0 {
		return nil, apperrors.NewValidationError("skus", apperrors.ErrEmptySKUList.Error())
	}
	if err := b.requireReady(); err != nil {
		return nil, err
	}
	return b.store.FetchProducts(ctx, req)
}

// GetAvailablePurchases returns the current entitlements snapshot.
func (b *Bridge) GetAvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error) {
	if err := b.requireReady(); err != nil {
		return nil, err
	}
	return b.store.AvailablePurchases(ctx, opts)
}

// FinishTransaction completes a purchase with the store: acknowledge or
// consume on Android, a no-op on iOS where transactions finish on-device.
func (b *Bridge) FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error {
	if purchase == nil {
		return apperrors.NewValidationError("purchase", "purchase is required")
	}
	if err := b.requireReady(); err != nil {
		return err
	}
	return b.store.FinishTransaction(ctx, purchase, isConsumable)
}

// AcknowledgePurchaseAndroid acknowledges an Android purchase token.
func (b *Bridge) AcknowledgePurchaseAndroid(ctx context.Context, sku, token string, subscription bool) error {
	ac, ok := b.store.(AndroidCapabilities)
	if !ok {
		return apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
			"android", apperrors.ErrFeatureNotSupported.Error())
	}
	if token == "" {
		return apperrors.NewValidationError("purchaseToken", apperrors.ErrMissingPurchaseToken.Error())
	}
	if err := b.requireReady(); err != nil {
		return err
	}
	return ac.AcknowledgePurchase(ctx, sku, token, subscription)
}

// ConsumePurchaseAndroid consumes an Android purchase token so the product
// can be bought again.
func (b *Bridge) ConsumePurchaseAndroid(ctx context.Context, sku, token string) error {
	ac, ok := b.store.(AndroidCapabilities)
	if !ok {
		return apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
			"android", apperrors.ErrFeatureNotSupported.Error())
	}
	if token == "" {
		return apperrors.NewValidationError("purchaseToken", apperrors.ErrMissingPurchaseToken.Error())
	}
	if err := b.requireReady(); err != nil {
		return err
	}
	return ac.ConsumePurchase(ctx, sku, token)
}

// GetStorefront returns the store's country/storefront code.
func (b *Bridge) GetStorefront(ctx context.Context) (string, error) {
	if err := b.requireReady(); err != nil {
		return "", err
	}
	return b.store.Storefront(ctx)
}

// DeepLinkToSubscriptions returns the URL of the platform's subscription
// management page for sku.
func (b *Bridge) DeepLinkToSubscriptions(sku string) string {
	return b.store.SubscriptionManagementURL(sku)
}

// GetActiveSubscriptions derives the active subscriptions from the current
// available-purchases snapshot, optionally restricted to productIDs. It
// returns an empty slice, never an error, when the underlying fetch fails.
func (b *Bridge) GetActiveSubscriptions(ctx context.Context, opts entity.AvailablePurchasesOptions, productIDs []string) []*entity.ActiveSubscription {
	purchases, err := b.GetAvailablePurchases(ctx, opts)
	if err != nil {
		b.logger.Warn("available purchases fetch failed, returning no active subscriptions", zap.Error(err))
		return []*entity.ActiveSubscription{}
	}
	return service.DeriveActiveSubscriptions(purchases, productIDs, time.Now())
}

// HasActiveSubscriptions reports whether at least one subscription in
// productIDs (or any, when empty) is currently active.
func (b *Bridge) HasActiveSubscriptions(ctx context.Context, opts entity.AvailablePurchasesOptions, productIDs []string) bool {
	return len(b.GetActiveSubscriptions(ctx, opts, productIDs)) > 0
}

// BufferedEventCount is exposed for observability and tests.
func (b *Bridge) BufferedEventCount() int {
	return b.buf.Len()
}

func (b *Bridge) requireReady() error {
	if b.State() != StateReady {
		return apperrors.NewPurchaseError(apperrors.CodeNotReady, "", apperrors.ErrNotReady.Error())
	}
	return nil
}

func (b *Bridge) onPurchaseUpdated(p *entity.Purchase) {
	b.emitOrBuffer(Event{Name: EventPurchaseUpdated, Purchase: p})
}

func (b *Bridge) onPurchaseError(e *apperrors.PurchaseError) {
	b.emitOrBuffer(Event{Name: EventPurchaseError, Err: e})
}

// emitOrBuffer delivers ev onto the dispatch queue when the connection is
// ready, and appends it to the bounded buffer otherwise.
func (b *Bridge) emitOrBuffer(ev Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	if b.state == StateReady {
		b.deliver(ev)
		return
	}
	b.buf.Append(ev)
}

func (b *Bridge) deliver(ev Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}
