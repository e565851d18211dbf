package service

import (
	"math"
	"time"

	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

const (
	// sandboxGraceWindow is how long an Apple sandbox transaction without an
	// expiration date is still considered active.
	sandboxGraceWindow = 24 * time.Hour

	// expirySoonThresholdDays marks an iOS subscription as expiring soon.
	expirySoonThresholdDays = 7
)

// DeriveActiveSubscriptions computes the active-subscription projection from
// an available-purchases snapshot. Pure function: no store calls, no side
// effects, safe to call repeatedly.
//
// Platform freshness rules: an iOS purchase is active while its expiration
// date is in the future. Without an expiration date it is active only as a
// sandbox transaction younger than 24 hours. An Android purchase is active
// by presence in the snapshot; auto-renew switched off signals near-term
// expiry.
func DeriveActiveSubscriptions(purchases []*entity.Purchase, productIDs []string, now time.Time) []*entity.ActiveSubscription {
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}

	seen := make(map[string]bool, len(purchases))
	active := make([]*entity.ActiveSubscription, 0, len(purchases))

	for _, p := range purchases {
		if p == nil || !p.IsSubscriptionShaped() {
			continue
		}
		if len(wanted) > 0 && !wanted[p.ProductID] {
			continue
		}
		if p.ID != "" && seen[p.ID] {
			continue
		}

		sub := deriveOne(p, now)
		if sub == nil {
			continue
		}
		seen[p.ID] = true
		active = append(active, sub)
	}
	return active
}

// HasActiveSubscription reports whether the snapshot holds at least one
// active subscription among productIDs (any subscription when empty).
func HasActiveSubscription(purchases []*entity.Purchase, productIDs []string, now time.Time) bool {
	return len(DeriveActiveSubscriptions(purchases, productIDs, now)) > 0
}

func deriveOne(p *entity.Purchase, now time.Time) *entity.ActiveSubscription {
	switch p.Platform {
	case valueobject.PlatformIOS:
		return deriveIOS(p, now)
	case valueobject.PlatformAndroid:
		return deriveAndroid(p)
	default:
		return nil
	}
}

func deriveIOS(p *entity.Purchase, now time.Time) *entity.ActiveSubscription {
	sub := &entity.ActiveSubscription{
		ProductID:       p.ProductID,
		TransactionID:   p.ID,
		Platform:        p.Platform,
		IsActive:        true,
		TransactionDate: p.TransactionDate,
		EnvironmentIOS:  p.EnvironmentIOS,
	}

	if p.ExpirationDateIOS == nil {
		// No expiration date: only very recent sandbox transactions count.
		if !p.IsSandboxIOS() || now.Sub(p.TransactionDate) > sandboxGraceWindow {
			return nil
		}
		return sub
	}

	if !p.ExpirationDateIOS.After(now) {
		return nil
	}

	days := int(math.Round(p.ExpirationDateIOS.Sub(now).Hours() / 24))
	sub.ExpirationDateIOS = p.ExpirationDateIOS
	sub.DaysUntilExpirationIOS = &days
	sub.WillExpireSoon = days <= expirySoonThresholdDays
	return sub
}

func deriveAndroid(p *entity.Purchase) *entity.ActiveSubscription {
	return &entity.ActiveSubscription{
		ProductID:            p.ProductID,
		TransactionID:        p.ID,
		Platform:             p.Platform,
		IsActive:             true,
		TransactionDate:      p.TransactionDate,
		AutoRenewingAndroid:  p.AutoRenewingAndroid,
		PurchaseTokenAndroid: p.PurchaseTokenAndroid,
		WillExpireSoon:       !p.AutoRenewingAndroid,
	}
}
