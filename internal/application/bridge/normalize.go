package bridge

import (
	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// NormalizeRequest resolves a cross-platform PurchaseParams into exactly one
// platform-native record, discarding fields irrelevant to the target
// platform. All field aliasing is resolved here, in one place: the
// platform-specific sub-record always wins over the flat legacy spelling.
func NormalizeRequest(params *entity.PurchaseParams) (*entity.NativePurchaseRequest, error) {
	if params == nil {
		return nil, apperrors.NewValidationError("request", "purchase request is required")
	}

	platform, err := resolvePlatform(params)
	if err != nil {
		return nil, err
	}

	productType := valueobject.ParseProductType(params.Type)

	switch platform {
	case valueobject.PlatformIOS:
		return normalizeIOS(params, productType)
	default:
		return normalizeAndroid(params, productType)
	}
}

func resolvePlatform(params *entity.PurchaseParams) (valueobject.Platform, error) {
	switch {
	case params.IOS != nil && params.Android == nil:
		return valueobject.PlatformIOS, nil
	case params.Android != nil && params.IOS == nil:
		return valueobject.PlatformAndroid, nil
	case params.IOS == nil && params.Android == nil:
		return "", apperrors.NewValidationError("request",
			apperrors.ErrMissingPlatformFields.Error())
	default:
		// Both sub-records present: legacy callers send the full
		// cross-platform object. Prefer iOS when it names a SKU,
		// otherwise Android.
		if params.IOS.SKU != "" {
			return valueobject.PlatformIOS, nil
		}
		return valueobject.PlatformAndroid, nil
	}
}

func normalizeIOS(params *entity.PurchaseParams, productType valueobject.ProductType) (*entity.NativePurchaseRequest, error) {
	ios := params.IOS
	if ios == nil {
		ios = &entity.IOSPurchaseParams{}
	}

	sku := firstNonEmpty(ios.SKU, params.SKU)
	if sku == "" && len(params.SKUs) > 0 {
		sku = params.SKUs[0]
	}
	if sku == "" {
		return nil, apperrors.NewValidationError("sku", apperrors.ErrEmptySKUList.Error())
	}

	quantity := ios.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return &entity.NativePurchaseRequest{
		Platform: valueobject.PlatformIOS,
		Type:     productType,
		IOS: &entity.IOSNativeRequest{
			SKU:                sku,
			Quantity:           quantity,
			AppAccountToken:    firstNonEmpty(ios.AppAccountToken, params.AppAccountToken),
			PromotionalOfferID: ios.PromotionalOfferID,
			ReceiptData:        firstNonEmpty(ios.ReceiptData, params.ReceiptData),
		},
	}, nil
}

func normalizeAndroid(params *entity.PurchaseParams, productType valueobject.ProductType) (*entity.NativePurchaseRequest, error) {
	android := params.Android
	if android == nil {
		android = &entity.AndroidPurchaseParams{}
	}

	skus := android.SKUs
	if len(skus) == 0 {
		skus = params.SKUs
	}
	if len(skus) == 0 && params.SKU != "" {
		skus = []string{params.SKU}
	}
	if len(skus) == 0 {
		return nil, apperrors.NewValidationError("skus", apperrors.ErrEmptySKUList.Error())
	}

	offers := resolveSubscriptionOffers(skus, android)
	if productType.IsSubscription() && len(offers) == 0 {
		return nil, apperrors.NewValidationError("subscriptionOffers",
			apperrors.ErrMissingOfferToken.Error())
	}

	return &entity.NativePurchaseRequest{
		Platform: valueobject.PlatformAndroid,
		Type:     productType,
		Android: &entity.AndroidNativeRequest{
			SKUs:                skus,
			SubscriptionOffers:  offers,
			ObfuscatedAccountID: firstNonEmpty(android.ObfuscatedAccountID, params.ObfuscatedAccountID),
			ObfuscatedProfileID: android.ObfuscatedProfileID,
			ReplacementMode:     android.ReplacementMode,
			PurchaseToken:       firstNonEmpty(android.PurchaseToken, params.PurchaseToken),
			IsOfferPersonalized: android.IsOfferPersonalized,
		},
	}, nil
}

// resolveSubscriptionOffers picks the subscription offers for an Android
// request. Explicit (sku, offerToken) pairs take precedence. Failing that,
// the legacy positional form zips SKUs against bare offer tokens by index; a
// SKU whose token slot is empty or missing is omitted from the offer list,
// never defaulted to a placeholder.
func resolveSubscriptionOffers(skus []string, android *entity.AndroidPurchaseParams) []entity.SubscriptionOffer {
	if len(android.SubscriptionOffers) > 0 {
		return android.SubscriptionOffers
	}
	if len(android.OfferTokens) == 0 {
		return nil
	}

	var offers []entity.SubscriptionOffer
	for i, sku := range skus {
		if i >= len(android.OfferTokens) {
			break
		}
		if android.OfferTokens[i] == "" {
			continue
		}
		offers = append(offers, entity.SubscriptionOffer{
			SKU:        sku,
			OfferToken: android.OfferTokens[i],
		})
	}
	return offers
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
