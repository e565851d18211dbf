package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

func newGoogleAgainst(t *testing.T, handler http.Handler) *Google {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	service, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	g := NewGoogle("{}", "com.example.app", zap.NewNop())
	g.service = service
	return g
}

func premiumMonthlyCatalog(t *testing.T, offersStatus int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/offers"):
			if offersStatus != http.StatusOK {
				http.Error(w, "{}", offersStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(&androidpublisher.ListSubscriptionOffersResponse{
				SubscriptionOffers: []*androidpublisher.SubscriptionOffer{
					{BasePlanId: "monthly", OfferId: "intro-week"},
					{BasePlanId: "monthly"},
				},
			})
		case strings.Contains(r.URL.Path, "/inappproducts/"):
			_ = json.NewEncoder(w).Encode(&androidpublisher.InAppProduct{
				Sku:                "premium_monthly",
				SubscriptionPeriod: "P1M",
				DefaultLanguage:    "en-US",
				DefaultPrice:       &androidpublisher.Price{Currency: "USD", PriceMicros: "4990000"},
				Listings: map[string]androidpublisher.InAppProductListing{
					"en-US": {Title: "Premium", Description: "Monthly premium plan"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestGoogleFetchProducts_PopulatesSubscriptionOffers(t *testing.T) {
	g := newGoogleAgainst(t, premiumMonthlyCatalog(t, http.StatusOK))

	products, err := g.FetchProducts(context.Background(), entity.ProductRequest{
		SKUs: []string{"premium_monthly"},
	})
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, valueobject.ProductTypeSubs, p.Type)
	assert.Equal(t, "Premium", p.Title)
	assert.Equal(t, "4.99 USD", p.DisplayPrice)
	require.Len(t, p.SubscriptionOffersAndroid, 2)
	assert.Equal(t, "monthly", p.SubscriptionOffersAndroid[0].BasePlanID)
	assert.Equal(t, "intro-week", p.SubscriptionOffersAndroid[0].OfferID)
}

func TestGoogleFetchProducts_OfferListFailureDegradesToNoOffers(t *testing.T) {
	g := newGoogleAgainst(t, premiumMonthlyCatalog(t, http.StatusNotFound))

	products, err := g.FetchProducts(context.Background(), entity.ProductRequest{
		SKUs: []string{"premium_monthly"},
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, valueobject.ProductTypeSubs, products[0].Type)
	assert.Empty(t, products[0].SubscriptionOffersAndroid)
}
