package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/service"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

func iosSubscription(id, productID string, expiresAt time.Time) *entity.Purchase {
	return &entity.Purchase{
		ID:                id,
		ProductID:         productID,
		Platform:          valueobject.PlatformIOS,
		TransactionDate:   expiresAt.Add(-30 * 24 * time.Hour),
		EnvironmentIOS:    entity.AppleEnvironmentProduction,
		ExpirationDateIOS: &expiresAt,
	}
}

func TestDeriveActiveSubscriptions_IOSExpiration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		expiresIn      time.Duration
		wantActive     bool
		wantDays       int
		wantExpireSoon bool
	}{
		{
			name:           "expires in five days",
			expiresIn:      5 * 24 * time.Hour,
			wantActive:     true,
			wantDays:       5,
			wantExpireSoon: true,
		},
		{
			name:           "expires in exactly seven days",
			expiresIn:      7 * 24 * time.Hour,
			wantActive:     true,
			wantDays:       7,
			wantExpireSoon: true,
		},
		{
			name:           "expires in ten days",
			expiresIn:      10 * 24 * time.Hour,
			wantActive:     true,
			wantDays:       10,
			wantExpireSoon: false,
		},
		{
			name:       "expired an hour ago",
			expiresIn:  -time.Hour,
			wantActive: false,
		},
		{
			name:       "expires exactly now",
			expiresIn:  0,
			wantActive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := iosSubscription("tx-1", "com.app.premium", now.Add(tt.expiresIn))
			subs := service.DeriveActiveSubscriptions([]*entity.Purchase{p}, nil, now)

			if !tt.wantActive {
				assert.Empty(t, subs)
				return
			}
			require.Len(t, subs, 1)
			sub := subs[0]
			assert.True(t, sub.IsActive)
			require.NotNil(t, sub.DaysUntilExpirationIOS)
			assert.Equal(t, tt.wantDays, *sub.DaysUntilExpirationIOS)
			assert.Equal(t, tt.wantExpireSoon, sub.WillExpireSoon)
		})
	}
}

func TestDeriveActiveSubscriptions_DaysRoundToNearest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 6 days and 20 hours rounds to 7, still inside the expiring-soon window.
	p := iosSubscription("tx-1", "com.app.premium", now.Add(6*24*time.Hour+20*time.Hour))
	subs := service.DeriveActiveSubscriptions([]*entity.Purchase{p}, nil, now)

	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].DaysUntilExpirationIOS)
	assert.Equal(t, 7, *subs[0].DaysUntilExpirationIOS)
	assert.True(t, subs[0].WillExpireSoon)
}

func TestDeriveActiveSubscriptions_IOSSandboxGrace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sandbox := func(age time.Duration) *entity.Purchase {
		return &entity.Purchase{
			ID:              "tx-sandbox",
			ProductID:       "com.app.premium",
			Platform:        valueobject.PlatformIOS,
			TransactionDate: now.Add(-age),
			EnvironmentIOS:  entity.AppleEnvironmentSandbox,
		}
	}

	t.Run("recent sandbox transaction without expiration is active", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{sandbox(2 * time.Hour)}, nil, now)
		require.Len(t, subs, 1)
		assert.True(t, subs[0].IsActive)
	})

	t.Run("stale sandbox transaction is not", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{sandbox(25 * time.Hour)}, nil, now)
		assert.Empty(t, subs)
	})

	t.Run("production transaction without expiration is not", func(t *testing.T) {
		p := sandbox(time.Hour)
		p.EnvironmentIOS = entity.AppleEnvironmentProduction
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{p}, nil, now)
		assert.Empty(t, subs)
	})
}

func TestDeriveActiveSubscriptions_Android(t *testing.T) {
	now := time.Now()

	android := func(autoRenew bool) *entity.Purchase {
		return &entity.Purchase{
			ID:                    "tx-android",
			ProductID:             "premium_monthly",
			Platform:              valueobject.PlatformAndroid,
			TransactionDate:       now.Add(-time.Hour),
			PurchaseTokenAndroid:  "token-1",
			IsSubscriptionAndroid: true,
			AutoRenewingAndroid:   autoRenew,
		}
	}

	t.Run("presence in snapshot implies active", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{android(true)}, nil, now)
		require.Len(t, subs, 1)
		assert.True(t, subs[0].IsActive)
		assert.False(t, subs[0].WillExpireSoon)
		assert.Equal(t, "token-1", subs[0].PurchaseTokenAndroid)
	})

	t.Run("auto-renew off flags near-term expiry", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{android(false)}, nil, now)
		require.Len(t, subs, 1)
		assert.True(t, subs[0].IsActive)
		assert.True(t, subs[0].WillExpireSoon)
	})

	t.Run("non-subscription purchases are skipped", func(t *testing.T) {
		p := android(true)
		p.IsSubscriptionAndroid = false
		subs := service.DeriveActiveSubscriptions([]*entity.Purchase{p}, nil, now)
		assert.Empty(t, subs)
	})
}

func TestDeriveActiveSubscriptions_FilterAndDedupe(t *testing.T) {
	now := time.Now()
	expires := now.Add(30 * 24 * time.Hour)

	premium := iosSubscription("tx-1", "com.app.premium", expires)
	duplicate := iosSubscription("tx-1", "com.app.premium", expires)
	gold := iosSubscription("tx-2", "com.app.gold", expires)

	t.Run("duplicate transactions collapse to one", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions(
			[]*entity.Purchase{premium, duplicate, gold}, nil, now)
		assert.Len(t, subs, 2)
	})

	t.Run("product filter restricts the projection", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions(
			[]*entity.Purchase{premium, gold}, []string{"com.app.gold"}, now)
		require.Len(t, subs, 1)
		assert.Equal(t, "com.app.gold", subs[0].ProductID)
	})

	t.Run("nil purchases are tolerated", func(t *testing.T) {
		subs := service.DeriveActiveSubscriptions(
			[]*entity.Purchase{nil, premium}, nil, now)
		assert.Len(t, subs, 1)
	})
}

func TestHasActiveSubscription(t *testing.T) {
	now := time.Now()
	p := iosSubscription("tx-1", "com.app.premium", now.Add(24*time.Hour))

	assert.True(t, service.HasActiveSubscription([]*entity.Purchase{p}, nil, now))
	assert.False(t, service.HasActiveSubscription([]*entity.Purchase{p}, []string{"com.app.other"}, now))
	assert.False(t, service.HasActiveSubscription(nil, nil, now))
}
