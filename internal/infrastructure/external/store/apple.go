package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

const appleSubscriptionManagementURL = "https://apps.apple.com/account/subscriptions"

// Apple drives purchases through the App Store receipt verification API.
// The verification endpoint is stateless HTTP, so Connect/Disconnect carry
// no protocol work; purchase and entitlement queries are receipt-backed.
type Apple struct {
	client       *appstore.Client
	sharedSecret string
	logger       *zap.Logger

	mu       sync.Mutex
	onUpdate func(*entity.Purchase)
	onError  func(*apperrors.PurchaseError)
}

// NewApple creates an Apple store adapter. The shared secret is the app's
// App Store Connect shared secret used for receipt verification.
func NewApple(sharedSecret string, logger *zap.Logger) *Apple {
	return &Apple{
		client:       appstore.New(),
		sharedSecret: sharedSecret,
		logger:       logger,
	}
}

// Connect implements bridge.Store.
func (a *Apple) Connect(ctx context.Context) error {
	if a.sharedSecret == "" {
		return fmt.Errorf("apple shared secret is not configured")
	}
	return nil
}

// Disconnect implements bridge.Store.
func (a *Apple) Disconnect(ctx context.Context) error {
	return nil
}

// SetListeners implements bridge.Store.
func (a *Apple) SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError)) {
	a.mu.Lock()
	a.onUpdate = onUpdate
	a.onError = onError
	a.mu.Unlock()
}

// EmitPurchaseUpdated feeds an externally decoded store notification (App
// Store server notification) into the purchase-updated callback shim.
func (a *Apple) EmitPurchaseUpdated(p *entity.Purchase) {
	a.mu.Lock()
	fn := a.onUpdate
	a.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// EmitPurchaseError feeds an error notification into the callback shim.
func (a *Apple) EmitPurchaseError(e *apperrors.PurchaseError) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// FetchProducts implements bridge.Store. Apple exposes no server-side
// product metadata API; product queries must run on-device via StoreKit.
func (a *Apple) FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error) {
	return nil, apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
		valueobject.PlatformIOS.String(),
		"product metadata is not queryable server-side on iOS")
}

// Purchase implements bridge.Store: the device completes the StoreKit flow
// and submits its receipt; verification of that receipt is the purchase
// result. Transactions matching the requested SKU are returned.
func (a *Apple) Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error) {
	if req.IOS == nil {
		return nil, apperrors.NewValidationError("ios", apperrors.ErrMissingPlatformFields.Error())
	}
	if req.IOS.ReceiptData == "" {
		return nil, apperrors.NewValidationError("receiptData", apperrors.ErrMissingReceiptData.Error())
	}

	resp, err := a.verify(ctx, req.IOS.ReceiptData)
	if err != nil {
		return nil, err
	}

	purchases := a.transactions(resp, req.IOS.SKU)
	if len(purchases) == 0 {
		perr := apperrors.NewPurchaseError(apperrors.CodeItemUnavailable,
			valueobject.PlatformIOS.String(),
			"no transaction for the requested product in the receipt")
		perr.ProductID = req.IOS.SKU
		return nil, perr
	}
	for _, p := range purchases {
		p.AppAccountTokenIOS = req.IOS.AppAccountToken
	}
	return purchases, nil
}

// AvailablePurchases implements bridge.Store by re-verifying the app receipt
// and returning every transaction it contains.
func (a *Apple) AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error) {
	if opts.ReceiptDataIOS == "" {
		return nil, apperrors.NewValidationError("receiptDataIos", apperrors.ErrMissingReceiptData.Error())
	}
	resp, err := a.verify(ctx, opts.ReceiptDataIOS)
	if err != nil {
		return nil, err
	}
	return a.transactions(resp, ""), nil
}

// FinishTransaction implements bridge.Store. iOS transactions are finished
// on-device by StoreKit.
func (a *Apple) FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error {
	return nil
}

// Storefront implements bridge.Store. The verification endpoint does not
// report storefront; that is an on-device StoreKit value.
func (a *Apple) Storefront(ctx context.Context) (string, error) {
	return "", apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
		valueobject.PlatformIOS.String(), "storefront is not queryable server-side on iOS")
}

// SubscriptionManagementURL implements bridge.Store.
func (a *Apple) SubscriptionManagementURL(sku string) string {
	return appleSubscriptionManagementURL
}

func (a *Apple) verify(ctx context.Context, receiptData string) (*appstore.IAPResponse, error) {
	req := appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               a.sharedSecret,
		ExcludeOldTransactions: false,
	}
	resp := &appstore.IAPResponse{}
	if err := a.client.Verify(ctx, req, resp); err != nil {
		return nil, apperrors.NewPurchaseError(apperrors.CodeNetworkError,
			valueobject.PlatformIOS.String(),
			fmt.Sprintf("receipt verification request failed: %v", err))
	}
	if err := appstore.HandleError(resp.Status); err != nil {
		a.logger.Warn("receipt verification rejected",
			zap.Int("status", resp.Status), zap.Error(err))
		return nil, apperrors.NewPurchaseError(appleStatusCode(resp.Status),
			valueobject.PlatformIOS.String(), err.Error())
	}
	return resp, nil
}

// transactions converts the verification response into purchase records,
// newest entries first per Apple's latest_receipt_info ordering. A non-empty
// sku restricts the result to that product.
func (a *Apple) transactions(resp *appstore.IAPResponse, sku string) []*entity.Purchase {
	environment := string(resp.Environment)
	entries := resp.LatestReceiptInfo
	if len(entries) == 0 {
		entries = resp.Receipt.InApp
	}

	var purchases []*entity.Purchase
	for i := range entries {
		entry := &entries[i]
		if sku != "" && entry.ProductID != sku {
			continue
		}
		if entry.CancellationDate.CancellationDateMS != "" {
			continue // refunded by Apple customer support
		}
		purchases = append(purchases, appleTransaction(entry, environment))
	}
	return purchases
}

func appleTransaction(entry *appstore.InApp, environment string) *entity.Purchase {
	quantity, _ := strconv.ParseInt(entry.Quantity, 10, 64)
	if quantity <= 0 {
		quantity = 1
	}

	p := &entity.Purchase{
		ID:                       entry.TransactionID,
		ProductID:                entry.ProductID,
		Platform:                 valueobject.PlatformIOS,
		TransactionDate:          timeFromMillisString(entry.PurchaseDate.PurchaseDateMS),
		Quantity:                 quantity,
		OriginalTransactionIDIOS: string(entry.OriginalTransactionID),
		EnvironmentIOS:           environment,
	}
	if exp := timeFromMillisString(entry.ExpiresDate.ExpiresDateMS); !exp.IsZero() {
		expCopy := exp
		p.ExpirationDateIOS = &expCopy
	}
	if p.TransactionDate.IsZero() {
		p.TransactionDate = time.Now()
	}
	return p
}

// appleStatusCode maps verification status codes onto the normalized error
// taxonomy.
func appleStatusCode(status int) apperrors.Code {
	switch {
	case status == 21002 || status == 21003 || status == 21004 || status == 21006:
		return apperrors.CodeDeveloperError
	case status == 21005:
		return apperrors.CodeServiceUnavailable
	case status == 21007 || status == 21008:
		return apperrors.CodeDeveloperError // environment mismatch
	case status == 21010:
		return apperrors.CodeItemUnavailable
	case status >= 21100 && status <= 21199:
		return apperrors.CodeServiceUnavailable
	default:
		return apperrors.CodeUnknown
	}
}
