package store

import (
	"context"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// PlatformStore is the per-platform store surface Multi routes over. Both
// Apple and Google (and Memory) satisfy it.
type PlatformStore interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError))
	FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error)
	Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error)
	AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error)
	FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error
	Storefront(ctx context.Context) (string, error)
	SubscriptionManagementURL(sku string) string
}

// Multi serves both platforms behind one bridge.Store, routing each call to
// the store of the platform the request belongs to.
type Multi struct {
	ios     PlatformStore
	android PlatformStore
}

// NewMulti creates a platform-routing store.
func NewMulti(ios, android PlatformStore) *Multi {
	return &Multi{ios: ios, android: android}
}

// Connect implements bridge.Store: both platforms must connect.
func (m *Multi) Connect(ctx context.Context) error {
	if err := m.ios.Connect(ctx); err != nil {
		return err
	}
	if err := m.android.Connect(ctx); err != nil {
		// keep teardown symmetric: the iOS side already connected
		_ = m.ios.Disconnect(ctx)
		return err
	}
	return nil
}

// Disconnect implements bridge.Store.
func (m *Multi) Disconnect(ctx context.Context) error {
	iosErr := m.ios.Disconnect(ctx)
	androidErr := m.android.Disconnect(ctx)
	if iosErr != nil {
		return iosErr
	}
	return androidErr
}

// SetListeners implements bridge.Store on both platforms.
func (m *Multi) SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError)) {
	m.ios.SetListeners(onUpdate, onError)
	m.android.SetListeners(onUpdate, onError)
}

// FetchProducts implements bridge.Store. Product queries are served by the
// Android catalog; the iOS store reports feature-not-supported server-side,
// so its result only contributes when it succeeds (memory driver).
func (m *Multi) FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error) {
	android, androidErr := m.android.FetchProducts(ctx, req)
	ios, iosErr := m.ios.FetchProducts(ctx, req)

	if androidErr != nil && iosErr != nil {
		return nil, androidErr
	}
	return append(android, ios...), nil
}

// Purchase implements bridge.Store.
func (m *Multi) Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error) {
	return m.route(req.Platform).Purchase(ctx, req)
}

// AvailablePurchases implements bridge.Store: each platform contributes the
// entitlements its options select.
func (m *Multi) AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error) {
	var purchases []*entity.Purchase
	if opts.ReceiptDataIOS != "" {
		ios, err := m.ios.AvailablePurchases(ctx, opts)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, ios...)
	}
	if len(opts.PurchaseTokensAndroid) > 0 {
		android, err := m.android.AvailablePurchases(ctx, opts)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, android...)
	}
	return purchases, nil
}

// FinishTransaction implements bridge.Store.
func (m *Multi) FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error {
	return m.route(purchase.Platform).FinishTransaction(ctx, purchase, isConsumable)
}

// AcknowledgePurchase implements bridge.AndroidCapabilities.
func (m *Multi) AcknowledgePurchase(ctx context.Context, sku, token string, subscription bool) error {
	ac, ok := m.android.(interface {
		AcknowledgePurchase(ctx context.Context, sku, token string, subscription bool) error
	})
	if !ok {
		return apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
			valueobject.PlatformAndroid.String(), apperrors.ErrFeatureNotSupported.Error())
	}
	return ac.AcknowledgePurchase(ctx, sku, token, subscription)
}

// ConsumePurchase implements bridge.AndroidCapabilities.
func (m *Multi) ConsumePurchase(ctx context.Context, sku, token string) error {
	ac, ok := m.android.(interface {
		ConsumePurchase(ctx context.Context, sku, token string) error
	})
	if !ok {
		return apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
			valueobject.PlatformAndroid.String(), apperrors.ErrFeatureNotSupported.Error())
	}
	return ac.ConsumePurchase(ctx, sku, token)
}

// Storefront implements bridge.Store: first platform that can answer wins.
func (m *Multi) Storefront(ctx context.Context) (string, error) {
	if code, err := m.ios.Storefront(ctx); err == nil {
		return code, nil
	}
	return m.android.Storefront(ctx)
}

// SubscriptionManagementURL implements bridge.Store. With no platform
// context the Android deep link is returned; platform-aware callers should
// use the per-platform stores directly.
func (m *Multi) SubscriptionManagementURL(sku string) string {
	return m.android.SubscriptionManagementURL(sku)
}

// IOS returns the iOS-side store.
func (m *Multi) IOS() PlatformStore { return m.ios }

// Android returns the Android-side store.
func (m *Multi) Android() PlatformStore { return m.android }

func (m *Multi) route(platform valueobject.Platform) PlatformStore {
	if platform == valueobject.PlatformIOS {
		return m.ios
	}
	return m.android
}
