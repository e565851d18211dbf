package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// Android product purchase states per the Play Developer API.
const (
	googlePurchaseStatePurchased = 0
	googlePurchaseStateCancelled = 1
	googlePurchaseStatePending   = 2
)

// Google drives purchases through the Google Play Developer API using
// service-account credentials.
type Google struct {
	serviceAccountJSON string
	packageName        string
	logger             *zap.Logger

	mu       sync.Mutex
	service  *androidpublisher.Service
	onUpdate func(*entity.Purchase)
	onError  func(*apperrors.PurchaseError)
}

// NewGoogle creates a Google Play store adapter for one application package.
func NewGoogle(serviceAccountJSON, packageName string, logger *zap.Logger) *Google {
	return &Google{
		serviceAccountJSON: serviceAccountJSON,
		packageName:        packageName,
		logger:             logger,
	}
}

// Connect implements bridge.Store: builds the authenticated Android
// Publisher client.
func (g *Google) Connect(ctx context.Context) error {
	if g.serviceAccountJSON == "" || g.packageName == "" {
		return fmt.Errorf("google service account credentials and package name are required")
	}

	creds, err := google.CredentialsFromJSON(ctx,
		[]byte(g.serviceAccountJSON), androidpublisher.AndroidpublisherScope)
	if err != nil {
		return fmt.Errorf("failed to parse service account credentials: %w", err)
	}
	service, err := androidpublisher.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return fmt.Errorf("failed to create android publisher service: %w", err)
	}

	g.mu.Lock()
	g.service = service
	g.mu.Unlock()
	return nil
}

// Disconnect implements bridge.Store.
func (g *Google) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	g.service = nil
	g.mu.Unlock()
	return nil
}

// SetListeners implements bridge.Store.
func (g *Google) SetListeners(onUpdate func(*entity.Purchase), onError func(*apperrors.PurchaseError)) {
	g.mu.Lock()
	g.onUpdate = onUpdate
	g.onError = onError
	g.mu.Unlock()
}

// EmitPurchaseUpdated feeds an externally decoded real-time developer
// notification into the purchase-updated callback shim.
func (g *Google) EmitPurchaseUpdated(p *entity.Purchase) {
	g.mu.Lock()
	fn := g.onUpdate
	g.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// EmitPurchaseError feeds an error notification into the callback shim.
func (g *Google) EmitPurchaseError(e *apperrors.PurchaseError) {
	g.mu.Lock()
	fn := g.onError
	g.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (g *Google) api() (*androidpublisher.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.service == nil {
		return nil, apperrors.NewPurchaseError(apperrors.CodeNotReady,
			valueobject.PlatformAndroid.String(), apperrors.ErrNotReady.Error())
	}
	return g.service, nil
}

// FetchProducts implements bridge.Store via the in-app products catalog.
// Unknown SKUs are omitted, matching store behavior.
func (g *Google) FetchProducts(ctx context.Context, req entity.ProductRequest) ([]*entity.Product, error) {
	service, err := g.api()
	if err != nil {
		return nil, err
	}

	var products []*entity.Product
	for _, sku := range req.SKUs {
		iap, err := service.Inappproducts.Get(g.packageName, sku).Context(ctx).Do()
		if err != nil {
			if isGoogleNotFound(err) {
				g.logger.Debug("product not found in catalog", zap.String("sku", sku))
				continue
			}
			return nil, g.mapError(err, sku)
		}
		p := googleProduct(iap)
		if p.Type == valueobject.ProductTypeSubs {
			p.SubscriptionOffersAndroid = g.subscriptionOffers(ctx, service, sku)
		}
		products = append(products, p)
	}
	return products, nil
}

// subscriptionOffers lists the pricing plans of a subscription SKU. Offer
// tokens are minted device-side by the Billing Library; the server listing
// carries base plan and offer ids only. Failures degrade to no offers since
// the product itself is still sellable.
func (g *Google) subscriptionOffers(ctx context.Context, service *androidpublisher.Service, sku string) []entity.ProductSubscriptionOffer {
	resp, err := service.Monetization.Subscriptions.BasePlans.Offers.
		List(g.packageName, sku, "-").Context(ctx).Do()
	if err != nil {
		g.logger.Debug("subscription offers unavailable",
			zap.String("sku", sku), zap.Error(err))
		return nil
	}

	offers := make([]entity.ProductSubscriptionOffer, 0, len(resp.SubscriptionOffers))
	for _, o := range resp.SubscriptionOffers {
		offers = append(offers, entity.ProductSubscriptionOffer{
			BasePlanID: o.BasePlanId,
			OfferID:    o.OfferId,
		})
	}
	return offers
}

// Purchase implements bridge.Store: the device completes the Billing Library
// flow and submits its purchase token; fetching the purchase state for that
// token is the purchase result.
func (g *Google) Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error) {
	if req.Android == nil {
		return nil, apperrors.NewValidationError("android", apperrors.ErrMissingPlatformFields.Error())
	}
	if req.Android.PurchaseToken == "" {
		return nil, apperrors.NewValidationError("purchaseToken", apperrors.ErrMissingPurchaseToken.Error())
	}

	var purchases []*entity.Purchase
	for _, sku := range req.Android.SKUs {
		var (
			p   *entity.Purchase
			err error
		)
		if req.Type.IsSubscription() {
			p, err = g.fetchSubscription(ctx, sku, req.Android.PurchaseToken)
		} else {
			p, err = g.fetchProduct(ctx, sku, req.Android.PurchaseToken)
		}
		if err != nil {
			return nil, err
		}
		p.ObfuscatedAccountIDAndroid = req.Android.ObfuscatedAccountID
		purchases = append(purchases, p)
	}
	return purchases, nil
}

// AvailablePurchases implements bridge.Store by refreshing the purchase
// state of every known token.
func (g *Google) AvailablePurchases(ctx context.Context, opts entity.AvailablePurchasesOptions) ([]*entity.Purchase, error) {
	var purchases []*entity.Purchase
	for sku, token := range opts.PurchaseTokensAndroid {
		p, err := g.fetchSubscription(ctx, sku, token)
		if err != nil {
			var perr *apperrors.PurchaseError
			if errors.As(err, &perr) && perr.Code == apperrors.CodeItemUnavailable {
				continue // token no longer valid, not an entitlement anymore
			}
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

// FinishTransaction implements bridge.Store: consume consumables,
// acknowledge everything else that is still unacknowledged.
func (g *Google) FinishTransaction(ctx context.Context, purchase *entity.Purchase, isConsumable bool) error {
	if isConsumable {
		return g.ConsumePurchase(ctx, purchase.ProductID, purchase.PurchaseTokenAndroid)
	}
	if !purchase.NeedsAcknowledgementAndroid() {
		return nil
	}
	return g.AcknowledgePurchase(ctx, purchase.ProductID, purchase.PurchaseTokenAndroid, purchase.IsSubscriptionAndroid)
}

// AcknowledgePurchase implements bridge.AndroidCapabilities.
func (g *Google) AcknowledgePurchase(ctx context.Context, sku, token string, subscription bool) error {
	service, err := g.api()
	if err != nil {
		return err
	}
	if subscription {
		err = service.Purchases.Subscriptions.Acknowledge(g.packageName, sku, token,
			&androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	} else {
		err = service.Purchases.Products.Acknowledge(g.packageName, sku, token,
			&androidpublisher.ProductPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	}
	if err != nil {
		return g.mapError(err, sku)
	}
	return nil
}

// ConsumePurchase implements bridge.AndroidCapabilities.
func (g *Google) ConsumePurchase(ctx context.Context, sku, token string) error {
	service, err := g.api()
	if err != nil {
		return err
	}
	if err := service.Purchases.Products.Consume(g.packageName, sku, token).Context(ctx).Do(); err != nil {
		return g.mapError(err, sku)
	}
	return nil
}

// Storefront implements bridge.Store. Play reports country per purchase, not
// per connection.
func (g *Google) Storefront(ctx context.Context) (string, error) {
	return "", apperrors.NewPurchaseError(apperrors.CodeFeatureNotSupported,
		valueobject.PlatformAndroid.String(), "storefront is not queryable server-side on Android")
}

// SubscriptionManagementURL implements bridge.Store.
func (g *Google) SubscriptionManagementURL(sku string) string {
	return fmt.Sprintf("https://play.google.com/store/account/subscriptions?sku=%s&package=%s",
		sku, g.packageName)
}

func (g *Google) fetchSubscription(ctx context.Context, sku, token string) (*entity.Purchase, error) {
	service, err := g.api()
	if err != nil {
		return nil, err
	}
	sub, err := service.Purchases.Subscriptions.Get(g.packageName, sku, token).Context(ctx).Do()
	if err != nil {
		return nil, g.mapError(err, sku)
	}

	return &entity.Purchase{
		ID:                    subscriptionTransactionID(sub, token),
		ProductID:             sku,
		Platform:              valueobject.PlatformAndroid,
		TransactionDate:       timeFromMillis(sub.StartTimeMillis),
		Quantity:              1,
		PurchaseTokenAndroid:  token,
		PackageNameAndroid:    g.packageName,
		AutoRenewingAndroid:   sub.AutoRenewing,
		IsAcknowledgedAndroid: sub.AcknowledgementState == 1,
		IsSubscriptionAndroid: true,
	}, nil
}

func (g *Google) fetchProduct(ctx context.Context, sku, token string) (*entity.Purchase, error) {
	service, err := g.api()
	if err != nil {
		return nil, err
	}
	pp, err := service.Purchases.Products.Get(g.packageName, sku, token).Context(ctx).Do()
	if err != nil {
		return nil, g.mapError(err, sku)
	}

	switch pp.PurchaseState {
	case googlePurchaseStateCancelled:
		perr := apperrors.NewPurchaseError(apperrors.CodeUserCancelled,
			valueobject.PlatformAndroid.String(), "purchase was cancelled")
		perr.ProductID = sku
		return nil, perr
	case googlePurchaseStatePending:
		perr := apperrors.NewPurchaseError(apperrors.CodeServiceUnavailable,
			valueobject.PlatformAndroid.String(), "purchase is still pending")
		perr.ProductID = sku
		return nil, perr
	}

	id := pp.OrderId
	if id == "" {
		id = token
	}
	return &entity.Purchase{
		ID:                    id,
		ProductID:             sku,
		Platform:              valueobject.PlatformAndroid,
		TransactionDate:       timeFromMillis(pp.PurchaseTimeMillis),
		Quantity:              max64(pp.Quantity, 1),
		PurchaseTokenAndroid:  token,
		PackageNameAndroid:    g.packageName,
		IsAcknowledgedAndroid: pp.AcknowledgementState == 1,
	}, nil
}

// mapError maps googleapi errors onto the normalized taxonomy.
func (g *Google) mapError(err error, sku string) error {
	code := apperrors.CodeNetworkError
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 400:
			code = apperrors.CodeDeveloperError
		case gerr.Code == 401 || gerr.Code == 403:
			code = apperrors.CodeDeveloperError
		case gerr.Code == 404 || gerr.Code == 410:
			code = apperrors.CodeItemUnavailable
		case gerr.Code == 409:
			code = apperrors.CodeAlreadyOwned
		case gerr.Code >= 500:
			code = apperrors.CodeServiceUnavailable
		default:
			code = apperrors.CodeUnknown
		}
	}
	perr := apperrors.NewPurchaseError(code, valueobject.PlatformAndroid.String(), err.Error())
	perr.ProductID = sku
	return perr
}

func isGoogleNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

func googleProduct(iap *androidpublisher.InAppProduct) *entity.Product {
	p := &entity.Product{
		ID:       iap.Sku,
		Platform: valueobject.PlatformAndroid,
		Type:     valueobject.ProductTypeInApp,
	}
	if iap.PurchaseType == "subscription" || iap.SubscriptionPeriod != "" {
		p.Type = valueobject.ProductTypeSubs
	}
	if iap.DefaultPrice != nil {
		p.Currency = iap.DefaultPrice.Currency
		if micros, err := strconv.ParseInt(iap.DefaultPrice.PriceMicros, 10, 64); err == nil {
			p.PriceMicros = micros
			p.DisplayPrice = fmt.Sprintf("%.2f %s", float64(micros)/1e6, iap.DefaultPrice.Currency)
		}
	}
	if listing, ok := iap.Listings[iap.DefaultLanguage]; ok {
		p.Title = listing.Title
		p.Description = listing.Description
	}
	return p
}

func subscriptionTransactionID(sub *androidpublisher.SubscriptionPurchase, token string) string {
	if sub.OrderId != "" {
		return sub.OrderId
	}
	return token
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
