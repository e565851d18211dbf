package dto

import (
	"github.com/bivex/store-bridge/internal/domain/entity"
)

// ========== CONNECTION DTOs ==========

// ConnectionStatusResponse reports the bridge connection lifecycle state.
type ConnectionStatusResponse struct {
	State          string `json:"state"`
	BufferedEvents int    `json:"buffered_events"`
}

// ========== PRODUCT DTOs ==========

// FetchProductsRequest represents a product metadata query
type FetchProductsRequest struct {
	SKUs []string `json:"skus" binding:"required"`
	Type string   `json:"type,omitempty"`
}

// ========== PURCHASE DTOs ==========

// FinishTransactionRequest closes out a delivered purchase
type FinishTransactionRequest struct {
	Purchase     *entity.Purchase `json:"purchase" binding:"required"`
	IsConsumable bool             `json:"is_consumable,omitempty"`
}

// AcknowledgeRequest acknowledges an Android purchase
type AcknowledgeRequest struct {
	SKU            string `json:"sku" binding:"required"`
	PurchaseToken  string `json:"purchase_token" binding:"required"`
	IsSubscription bool   `json:"is_subscription,omitempty"`
}

// ConsumeRequest consumes an Android one-time purchase
type ConsumeRequest struct {
	SKU           string `json:"sku" binding:"required"`
	PurchaseToken string `json:"purchase_token" binding:"required"`
}

// ========== SUBSCRIPTION DTOs ==========

// ActiveSubscriptionsRequest scopes an active-subscriptions query
type ActiveSubscriptionsRequest struct {
	Options         entity.AvailablePurchasesOptions `json:"options"`
	SubscriptionIDs []string                         `json:"subscription_ids,omitempty"`
}

// SubscriptionStatusResponse is the boolean entitlement check
type SubscriptionStatusResponse struct {
	HasActiveSubscriptions bool `json:"has_active_subscriptions"`
}

// ManageSubscriptionResponse carries the store deep link for a subscription
type ManageSubscriptionResponse struct {
	URL string `json:"url"`
}

// StorefrontResponse carries the store's storefront country code
type StorefrontResponse struct {
	CountryCode string `json:"country_code"`
}

// ========== WEBHOOK DTOs ==========

// GoogleDeveloperNotification is the envelope of a Google Play real-time
// developer notification, delivered through a Pub/Sub push subscription.
type GoogleDeveloperNotification struct {
	Message struct {
		Data      string `json:"data"` // base64-encoded notification payload
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GoogleNotificationPayload is the decoded notification body
type GoogleNotificationPayload struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	SubscriptionNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification,omitempty"`
}
