package entity

import (
	"time"

	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// AppleEnvironment values as reported by the verification endpoint.
const (
	AppleEnvironmentSandbox    = "Sandbox"
	AppleEnvironmentProduction = "Production"
)

// Purchase is the cross-platform purchase record carried by
// purchase-updated events and returned from purchase calls. Platform-suffixed
// fields are populated only for their platform.
type Purchase struct {
	ID              string               `json:"id"` // store transaction identifier
	ProductID       string               `json:"productId"`
	Platform        valueobject.Platform `json:"platform"`
	TransactionDate time.Time            `json:"transactionDate"`
	Quantity        int64                `json:"quantity"`

	// iOS
	ExpirationDateIOS        *time.Time `json:"expirationDateIos,omitempty"`
	OriginalTransactionIDIOS string     `json:"originalTransactionIdIos,omitempty"`
	EnvironmentIOS           string     `json:"environmentIos,omitempty"`
	AppAccountTokenIOS       string     `json:"appAccountTokenIos,omitempty"`

	// Android
	PurchaseTokenAndroid       string `json:"purchaseTokenAndroid,omitempty"`
	PackageNameAndroid         string `json:"packageNameAndroid,omitempty"`
	AutoRenewingAndroid        bool   `json:"autoRenewingAndroid,omitempty"`
	IsAcknowledgedAndroid      bool   `json:"isAcknowledgedAndroid,omitempty"`
	ObfuscatedAccountIDAndroid string `json:"obfuscatedAccountIdAndroid,omitempty"`
	IsSubscriptionAndroid      bool   `json:"isSubscriptionAndroid,omitempty"`
}

// IsSubscriptionShaped reports whether the purchase carries subscription
// fields and therefore participates in active-subscription derivation.
func (p *Purchase) IsSubscriptionShaped() bool {
	switch p.Platform {
	case valueobject.PlatformIOS:
		return p.ExpirationDateIOS != nil || p.EnvironmentIOS == AppleEnvironmentSandbox
	case valueobject.PlatformAndroid:
		return p.IsSubscriptionAndroid
	default:
		return false
	}
}

// IsSandboxIOS returns true for purchases made against the Apple sandbox
func (p *Purchase) IsSandboxIOS() bool {
	return p.Platform == valueobject.PlatformIOS && p.EnvironmentIOS == AppleEnvironmentSandbox
}

// NeedsAcknowledgementAndroid reports whether the purchase still has to be
// acknowledged with Google Play to avoid an automatic refund.
func (p *Purchase) NeedsAcknowledgementAndroid() bool {
	return p.Platform == valueobject.PlatformAndroid &&
		p.PurchaseTokenAndroid != "" &&
		!p.IsAcknowledgedAndroid
}
