package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appbridge "github.com/bivex/store-bridge/internal/application/bridge"
	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	app_handler "github.com/bivex/store-bridge/internal/interfaces/http/handlers"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := logging.Init(nil); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// newTestRouter wires the bridge endpoints over the in-memory store without
// auth or rate limiting; those layers are exercised separately.
func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	mem.AddProduct(&entity.Product{ID: "com.app.coins", Type: valueobject.ProductTypeInApp})
	mem.AddProduct(&entity.Product{ID: "com.app.premium", Type: valueobject.ProductTypeSubs})

	b := appbridge.New(mem, appbridge.Options{})
	t.Cleanup(b.Close)

	h := app_handler.NewBridgeHandler(b, nil)

	router := gin.New()
	router.GET("/v1/connection", h.ConnectionStatus)
	router.POST("/v1/connection", h.InitConnection)
	router.DELETE("/v1/connection", h.EndConnection)
	router.POST("/v1/products/fetch", h.FetchProducts)
	router.POST("/v1/purchases", h.RequestPurchase)
	router.POST("/v1/purchases/available", h.GetAvailablePurchases)
	router.POST("/v1/subscriptions/active", h.GetActiveSubscriptions)
	router.POST("/v1/subscriptions/status", h.SubscriptionStatus)
	router.GET("/v1/subscriptions/manage", h.ManageSubscription)
	router.GET("/v1/storefront", h.GetStorefront)
	return router, mem
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestConnectionEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/connection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"disconnected"`)

	w = doJSON(t, router, http.MethodPost, "/v1/connection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"ready"`)

	w = doJSON(t, router, http.MethodDelete, "/v1/connection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"disconnected"`)
}

func TestRequestPurchaseEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("not ready maps to conflict", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/purchases", gin.H{
			"ios": gin.H{"sku": "com.app.coins"},
		})
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "not-ready")
	})

	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/v1/connection", nil).Code)

	t.Run("validation maps to bad request", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/purchases", gin.H{"type": "inapp"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("successful purchase returns created", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/purchases", gin.H{
			"type": "inapp",
			"ios":  gin.H{"sku": "com.app.coins"},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var purchases []*entity.Purchase
		require.NoError(t, json.Unmarshal(dataField(t, w), &purchases))
		require.Len(t, purchases, 1)
		assert.Equal(t, "com.app.coins", purchases[0].ProductID)
	})
}

func TestFetchProductsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/v1/connection", nil).Code)

	t.Run("missing skus is rejected by binding", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/products/fetch", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns matching products", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/products/fetch", gin.H{
			"skus": []string{"com.app.coins", "com.app.premium"},
			"type": "subs",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var products []*entity.Product
		require.NoError(t, json.Unmarshal(dataField(t, w), &products))
		require.Len(t, products, 1)
		assert.Equal(t, "com.app.premium", products[0].ID)
	})
}

func TestSubscriptionEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/v1/connection", nil).Code)

	// Buy a subscription so the projection has something to derive.
	w := doJSON(t, router, http.MethodPost, "/v1/purchases", gin.H{
		"type": "subs",
		"ios":  gin.H{"sku": "com.app.premium"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("active subscriptions", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/subscriptions/active", gin.H{})
		require.Equal(t, http.StatusOK, w.Code)

		var subs []*entity.ActiveSubscription
		require.NoError(t, json.Unmarshal(dataField(t, w), &subs))
		require.Len(t, subs, 1)
		assert.Equal(t, "com.app.premium", subs[0].ProductID)
	})

	t.Run("status check", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/subscriptions/status", gin.H{})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"has_active_subscriptions":true`)
	})

	t.Run("manage deep link", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/subscriptions/manage?sku=com.app.premium", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "memory://subscriptions?sku=com.app.premium")
	})
}

func TestActiveSubscriptionsEmptyOnFetchFailure(t *testing.T) {
	router, mem := newTestRouter(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/v1/connection", nil).Code)

	mem.FailAvailablePurchases(assert.AnError)

	w := doJSON(t, router, http.MethodPost, "/v1/subscriptions/active", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var subs []*entity.ActiveSubscription
	require.NoError(t, json.Unmarshal(dataField(t, w), &subs))
	assert.Empty(t, subs)
}

func TestStorefrontEndpoint(t *testing.T) {
	router, mem := newTestRouter(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/v1/connection", nil).Code)

	mem.SetStorefront("GBR")
	w := doJSON(t, router, http.MethodGet, "/v1/storefront", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"country_code":"GBR"`)
}
