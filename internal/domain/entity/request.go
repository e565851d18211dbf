package entity

import (
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// SubscriptionOffer selects a specific Android subscription pricing plan for
// one SKU.
type SubscriptionOffer struct {
	SKU        string `json:"sku"`
	OfferToken string `json:"offerToken"`
}

// IOSPurchaseParams are the iOS-specific fields of a purchase request.
type IOSPurchaseParams struct {
	SKU                string `json:"sku"`
	Quantity           int64  `json:"quantity,omitempty"`
	AppAccountToken    string `json:"appAccountToken,omitempty"`
	PromotionalOfferID string `json:"promotionalOfferId,omitempty"`
	ReceiptData        string `json:"receiptData,omitempty"`
}

// AndroidPurchaseParams are the Android-specific fields of a purchase request.
type AndroidPurchaseParams struct {
	SKUs                []string            `json:"skus"`
	SubscriptionOffers  []SubscriptionOffer `json:"subscriptionOffers,omitempty"`
	OfferTokens         []string            `json:"offerTokens,omitempty"` // legacy positional form, zipped against SKUs
	ObfuscatedAccountID string              `json:"obfuscatedAccountId,omitempty"`
	ObfuscatedProfileID string              `json:"obfuscatedProfileId,omitempty"`
	ReplacementMode     int                 `json:"replacementMode,omitempty"`
	PurchaseToken       string              `json:"purchaseToken,omitempty"`
	IsOfferPersonalized bool                `json:"isOfferPersonalized,omitempty"`
}

// PurchaseParams is the single cross-platform purchase request accepted by
// the bridge. Platform sub-records carry the platform-suffixed spellings;
// the flat legacy fields are the unsuffixed aliases kept for older callers.
// When both are present, the platform sub-record always wins.
type PurchaseParams struct {
	Type    string                 `json:"type"` // raw product-type string, parsed permissively
	IOS     *IOSPurchaseParams     `json:"ios,omitempty"`
	Android *AndroidPurchaseParams `json:"android,omitempty"`

	// Legacy unsuffixed aliases
	SKU                 string   `json:"sku,omitempty"`
	SKUs                []string `json:"skus,omitempty"`
	AppAccountToken     string   `json:"appAccountToken,omitempty"`
	ObfuscatedAccountID string   `json:"obfuscatedAccountId,omitempty"`
	PurchaseToken       string   `json:"purchaseToken,omitempty"`
	ReceiptData         string   `json:"receiptData,omitempty"`
}

// IOSNativeRequest is the fully resolved iOS purchase record.
type IOSNativeRequest struct {
	SKU                string
	Quantity           int64
	AppAccountToken    string
	PromotionalOfferID string
	ReceiptData        string
}

// AndroidNativeRequest is the fully resolved Android purchase record.
type AndroidNativeRequest struct {
	SKUs                []string
	SubscriptionOffers  []SubscriptionOffer
	ObfuscatedAccountID string
	ObfuscatedProfileID string
	ReplacementMode     int
	PurchaseToken       string
	IsOfferPersonalized bool
}

// NativePurchaseRequest is the platform-native record handed to a store.
// Exactly one of IOS/Android is non-nil, discriminated by Platform.
type NativePurchaseRequest struct {
	Platform valueobject.Platform
	Type     valueobject.ProductType
	IOS      *IOSNativeRequest
	Android  *AndroidNativeRequest
}

// FirstSKU returns the primary SKU of the request, for error reporting.
func (r *NativePurchaseRequest) FirstSKU() string {
	switch {
	case r.IOS != nil:
		return r.IOS.SKU
	case r.Android != nil && len(r.Android.SKUs) > 0:
		return r.Android.SKUs[0]
	default:
		return ""
	}
}

// AvailablePurchasesOptions scopes an available-purchases query.
type AvailablePurchasesOptions struct {
	// iOS: the app receipt to derive current entitlements from.
	ReceiptDataIOS string `json:"receiptDataIos,omitempty"`
	// Android: known purchase tokens to refresh, keyed by SKU.
	PurchaseTokensAndroid map[string]string `json:"purchaseTokensAndroid,omitempty"`
	// Restrict to one product type; defaults to all.
	Type valueobject.ProductType `json:"type,omitempty"`
}
