package entity

import (
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// Product is store product metadata as returned by a product query.
type Product struct {
	ID           string                  `json:"id"` // SKU
	Type         valueobject.ProductType `json:"type"`
	Platform     valueobject.Platform    `json:"platform"`
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	DisplayPrice string                  `json:"displayPrice"`
	Currency     string                  `json:"currency"`
	PriceMicros  int64                   `json:"priceMicros,omitempty"`

	// Android subscription pricing plans
	SubscriptionOffersAndroid []ProductSubscriptionOffer `json:"subscriptionOffersAndroid,omitempty"`
}

// ProductSubscriptionOffer describes one Android subscription pricing plan
type ProductSubscriptionOffer struct {
	OfferToken string `json:"offerToken"`
	BasePlanID string `json:"basePlanId,omitempty"`
	OfferID    string `json:"offerId,omitempty"`
}

// ProductRequest is a cross-platform product query.
type ProductRequest struct {
	SKUs []string                `json:"skus"`
	Type valueobject.ProductType `json:"type"`
}
