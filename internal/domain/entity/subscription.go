package entity

import (
	"time"

	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// ActiveSubscription is a derived, read-only projection of one currently
// active subscription. It is computed from the available-purchases snapshot
// and never persisted.
type ActiveSubscription struct {
	ProductID     string               `json:"productId"`
	TransactionID string               `json:"transactionId"`
	Platform      valueobject.Platform `json:"platform"`
	IsActive      bool                 `json:"isActive"`

	TransactionDate time.Time `json:"transactionDate"`

	// iOS
	ExpirationDateIOS      *time.Time `json:"expirationDateIos,omitempty"`
	DaysUntilExpirationIOS *int       `json:"daysUntilExpirationIos,omitempty"`
	EnvironmentIOS         string     `json:"environmentIos,omitempty"`

	// Android
	AutoRenewingAndroid  bool   `json:"autoRenewingAndroid,omitempty"`
	PurchaseTokenAndroid string `json:"purchaseTokenAndroid,omitempty"`

	// WillExpireSoon is true when the subscription is within seven days of
	// expiry (iOS) or auto-renew has been turned off (Android).
	WillExpireSoon bool `json:"willExpireSoon"`
}
