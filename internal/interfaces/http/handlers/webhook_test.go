package handlers_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	app_handler "github.com/bivex/store-bridge/internal/interfaces/http/handlers"
)

// fakeJWS builds an unsigned JWS-shaped token around claims; the webhook
// handler only decodes the middle segment.
func fakeJWS(t *testing.T, claims interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	encode := base64.RawURLEncoding.EncodeToString
	return encode([]byte(`{"alg":"ES256"}`)) + "." + encode(payload) + ".sig"
}

func newWebhookRouter(t *testing.T) (*gin.Engine, *store.Apple) {
	t.Helper()

	apple := store.NewApple("shared-secret", logging.Logger)
	google := store.NewGoogle("{}", "com.example.app", logging.Logger)
	h := app_handler.NewWebhookHandler(apple, google, nil)

	router := gin.New()
	router.POST("/webhook/apple", h.AppleWebhook)
	return router, apple
}

func TestAppleWebhook_EmitsDecodedTransaction(t *testing.T) {
	router, apple := newWebhookRouter(t)

	var captured *entity.Purchase
	apple.SetListeners(func(p *entity.Purchase) { captured = p }, func(*apperrors.PurchaseError) {})

	purchaseDate := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	expiresDate := purchaseDate.Add(30 * 24 * time.Hour)

	tx := fakeJWS(t, gin.H{
		"transactionId":         "2000000123",
		"originalTransactionId": "2000000001",
		"productId":             "com.app.premium.monthly",
		"purchaseDate":          purchaseDate.UnixMilli(),
		"expiresDate":           expiresDate.UnixMilli(),
		"environment":           "Production",
	})
	payload := fakeJWS(t, gin.H{
		"notificationType": "DID_RENEW",
		"data":             gin.H{"environment": "Production", "signedTransactionInfo": tx},
	})

	w := doJSON(t, router, http.MethodPost, "/webhook/apple", gin.H{"signedPayload": payload})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, captured)
	assert.Equal(t, "2000000123", captured.ID)
	assert.Equal(t, "com.app.premium.monthly", captured.ProductID)
	assert.Equal(t, "2000000001", captured.OriginalTransactionIDIOS)
	require.NotNil(t, captured.ExpirationDateIOS)
	assert.True(t, captured.ExpirationDateIOS.Equal(expiresDate))
}

func TestAppleWebhook_RejectsMalformedPayloads(t *testing.T) {
	router, _ := newWebhookRouter(t)

	t.Run("missing signedPayload", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/webhook/apple", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not a JWS token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/webhook/apple", gin.H{
			"signedPayload": "definitely-not-a-token",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("payload segment is not json", func(t *testing.T) {
		bad := "eyJh.!!!.sig"
		w := doJSON(t, router, http.MethodPost, "/webhook/apple", gin.H{
			"signedPayload": bad,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
