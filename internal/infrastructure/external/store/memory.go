package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// Memory is an in-memory store used by the tests and the local development
// driver. Failures are injectable, and store callbacks can be fired manually
// with EmitPurchaseUpdated/EmitPurchaseError to simulate events arriving
// before or after the connection is ready.
type Memory struct {
	mu sync.Mutex

	connected     bool
	connectErr    error
	purchaseErr   error
	availableErr  error
	foregroundErr error
	connectDelay  time.Duration

	products     map[string]*entity.Product
	entitlements []*entity.Purchase
	acknowledged map[string]bool
	consumed     map[string]bool
	storefront   string

	setListenerCalls int
	onUpdate         func(*entity.Purchase)
	onError          func(*apperrors.PurchaseError)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:     make(map[string]*entity.Product),
		acknowledged: make(map[string]bool),
		consumed:     make(map[string]bool),
		storefront:   "USA",
	}
}

// AddProduct seeds product metadata.
func (m *Memory) AddProduct(p *entity.Product) {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
}

// SeedEntitlement seeds an already-owned purchase.
func (m *Memory) SeedEntitlement(p *entity.Purchase) {
	m.mu.Lock()
	m.entitlements = append(m.entitlements, p)
	m.mu.Unlock()
}

// FailConnect makes subsequent Connect calls fail with err.
func (m *Memory) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

// FailPurchase makes subsequent Purchase calls fail with err.
func (m *Memory) FailPurchase(err error) {
	m.mu.Lock()
	m.purchaseErr = err
	m.mu.Unlock()
}

// FailAvailablePurchases makes subsequent AvailablePurchases calls fail.
func (m *Memory) FailAvailablePurchases(err error) {
	m.mu.Lock()
	m.availableErr = err
	m.mu.Unlock()
}

// FailForegroundAttach makes AttachForeground fail with err.
func (m *Memory) FailForegroundAttach(err error) {
	m.mu.Lock()
	m.foregroundErr = err
	m.mu.Unlock()
}

// SetConnectDelay stalls Connect to widen race windows in tests.
func (m *Memory) SetConnectDelay(d time.Duration) {
	m.mu.Lock()
	m.connectDelay = d
	m.mu.Unlock()
}

// Connect implements bridge.Store.
func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	delay, err := m.connectDelay, m.connectErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Disconnect implements bridge.Store.
func (m *Memory) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Connected reports whether Connect has succeeded.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetListeners implements bridge.Store, counting calls so tests can assert
// listeners were attached exactly once.
func (m *Memory) SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError)) {
	m.mu.Lock()
	m.setListenerCalls++
	m.onUpdate = onUpdate
	m.onError = onError
	m.mu.Unlock()
}

// SetListenerCalls returns how many times SetListeners has been invoked.
func (m *Memory) SetListenerCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setListenerCalls
}

// EmitPurchaseUpdated fires the purchase-updated callback shim, simulating a
// native store callback.
func (m *Memory) EmitPurchaseUpdated(p *entity.Purchase) {
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// EmitPurchaseError fires the purchase-error callback shim.
func (m *Memory) EmitPurchaseError(e *apperrors.PurchaseError) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// AttachForeground implements the optional foreground capability.
func (m *Memory) AttachForeground(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foregroundErr
}

// FetchProducts implements bridge.Store. Unknown SKUs are omitted from the
// result, matching store behavior.
func (m *Memory) FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queryType := req.Type
	if queryType == "" {
		queryType = valueobject.ProductTypeAll
	}

	var products []*entity.Product
	for _, sku := range req.SKUs {
		p, ok := m.products[sku]
		if !ok || !p.Type.Matches(queryType) {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// Purchase implements bridge.Store. A successful purchase of a known product
// mints one purchase per requested SKU and records it as an entitlement.
func (m *Memory) Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.purchaseErr != nil {
		return nil, m.purchaseErr
	}

	var skus []string
	switch {
	case req.IOS != nil:
		skus = []string{req.IOS.SKU}
	case req.Android != nil:
		skus = req.Android.SKUs
	}

	now := time.Now()
	var purchases []*entity.Purchase
	for _, sku := range skus {
		p := &entity.Purchase{
			ID:              fmt.Sprintf("mem-%s-%s", sku, uuid.NewString()[:8]),
			ProductID:       sku,
			Platform:        req.Platform,
			TransactionDate: now,
			Quantity:        1,
		}
		switch req.Platform {
		case valueobject.PlatformIOS:
			p.Quantity = req.IOS.Quantity
			p.EnvironmentIOS = entity.AppleEnvironmentSandbox
			p.AppAccountTokenIOS = req.IOS.AppAccountToken
			if req.Type.IsSubscription() {
				exp := now.Add(30 * 24 * time.Hour)
				p.ExpirationDateIOS = &exp
			}
		case valueobject.PlatformAndroid:
			p.PurchaseTokenAndroid = "memtoken-" + uuid.NewString()[:8]
			p.ObfuscatedAccountIDAndroid = req.Android.ObfuscatedAccountID
			if req.Type.IsSubscription() {
				p.IsSubscriptionAndroid = true
				p.AutoRenewingAndroid = true
			}
		}
		m.entitlements = append(m.entitlements, p)
		purchases = append(purchases, p)
	}
	return purchases, nil
}

// AvailablePurchases implements bridge.Store.
func (m *Memory) AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.availableErr != nil {
		return nil, m.availableErr
	}
	out := make([]*entity.Purchase, len(m.entitlements))
	copy(out, m.entitlements)
	return out, nil
}

// FinishTransaction implements bridge.Store.
func (m *Memory) FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error {
	if purchase.Platform != valueobject.PlatformAndroid {
		return nil // iOS transactions finish on-device
	}
	if isConsumable {
		return m.ConsumePurchase(ctx, purchase.ProductID, purchase.PurchaseTokenAndroid)
	}
	return m.AcknowledgePurchase(ctx, purchase.ProductID, purchase.PurchaseTokenAndroid, purchase.IsSubscriptionAndroid)
}

// AcknowledgePurchase implements bridge.AndroidCapabilities.
func (m *Memory) AcknowledgePurchase(ctx context.Context, sku, token string, subscription bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acknowledged[token] = true
	for _, p := range m.entitlements {
		if p.PurchaseTokenAndroid == token {
			p.IsAcknowledgedAndroid = true
		}
	}
	return nil
}

// ConsumePurchase implements bridge.AndroidCapabilities. Consuming removes
// the entitlement so the product can be bought again.
func (m *Memory) ConsumePurchase(ctx context.Context, sku, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed[token] = true
	kept := m.entitlements[:0]
	for _, p := range m.entitlements {
		if p.PurchaseTokenAndroid != token {
			kept = append(kept, p)
		}
	}
	m.entitlements = kept
	return nil
}

// Acknowledged reports whether token has been acknowledged.
func (m *Memory) Acknowledged(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acknowledged[token]
}

// Consumed reports whether token has been consumed.
func (m *Memory) Consumed(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed[token]
}

// Storefront implements bridge.Store.
func (m *Memory) Storefront(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storefront, nil
}

// SetStorefront overrides the storefront code.
func (m *Memory) SetStorefront(code string) {
	m.mu.Lock()
	m.storefront = code
	m.mu.Unlock()
}

// SubscriptionManagementURL implements bridge.Store.
func (m *Memory) SubscriptionManagementURL(sku string) string {
	return "memory://subscriptions?sku=" + sku
}
