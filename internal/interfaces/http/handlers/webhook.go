package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/store-bridge/internal/application/dto"
	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	"github.com/bivex/store-bridge/internal/interfaces/http/response"
	"github.com/bivex/store-bridge/internal/worker/tasks"
)

// WebhookHandler ingests store server notifications and replays them through
// the store callback shims so connected bridges see purchase-updated events.
type WebhookHandler struct {
	apple       *store.Apple
	google      *store.Google
	asynqClient *asynq.Client
	logger      *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(apple *store.Apple, google *store.Google, asynqClient *asynq.Client) *WebhookHandler {
	return &WebhookHandler{
		apple:       apple,
		google:      google,
		asynqClient: asynqClient,
		logger:      logging.WithComponent("webhook_handler"),
	}
}

// appleNotification is the App Store Server Notification V2 envelope.
type appleNotification struct {
	SignedPayload string `json:"signedPayload"`
}

type applePayload struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	Data             struct {
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

type appleTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"` // ms
	ExpiresDate           int64  `json:"expiresDate"`  // ms
	Environment           string `json:"environment"`
	AppAccountToken       string `json:"appAccountToken"`
}

// AppleWebhook handles App Store Server Notifications V2.
// @Router /webhook/apple [post]
func (h *WebhookHandler) AppleWebhook(c *gin.Context) {
	var notification appleNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		response.BadRequest(c, "Invalid notification format")
		return
	}

	var payload applePayload
	if err := decodeJWSPayload(notification.SignedPayload, &payload); err != nil {
		h.logger.Warn("failed to decode Apple notification", zap.Error(err))
		response.BadRequest(c, "Invalid signed payload")
		return
	}

	var tx appleTransaction
	if err := decodeJWSPayload(payload.Data.SignedTransactionInfo, &tx); err != nil {
		h.logger.Warn("failed to decode Apple transaction info", zap.Error(err))
		response.BadRequest(c, "Invalid transaction info")
		return
	}

	purchase := &entity.Purchase{
		ID:                       tx.TransactionID,
		ProductID:                tx.ProductID,
		Platform:                 valueobject.PlatformIOS,
		TransactionDate:          time.UnixMilli(tx.PurchaseDate),
		Quantity:                 1,
		OriginalTransactionIDIOS: tx.OriginalTransactionID,
		EnvironmentIOS:           tx.Environment,
		AppAccountTokenIOS:       tx.AppAccountToken,
	}
	if tx.ExpiresDate > 0 {
		expires := time.UnixMilli(tx.ExpiresDate)
		purchase.ExpirationDateIOS = &expires
	}

	h.apple.EmitPurchaseUpdated(purchase)

	h.logger.Info("Apple notification processed",
		zap.String("notification_type", payload.NotificationType),
		zap.String("subtype", payload.Subtype),
		zap.String("transaction_id", tx.TransactionID),
	)
	response.OK(c, gin.H{"status": "processed"})
}

// GoogleWebhook handles Google Play real-time developer notifications
// delivered through a Pub/Sub push subscription. The actual purchase state
// is re-queried asynchronously; the notification itself carries no state.
// @Router /webhook/google [post]
func (h *WebhookHandler) GoogleWebhook(c *gin.Context) {
	var envelope dto.GoogleDeveloperNotification
	if err := c.ShouldBindJSON(&envelope); err != nil {
		response.BadRequest(c, "Invalid notification format")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		response.BadRequest(c, "Invalid notification data encoding")
		return
	}

	var payload dto.GoogleNotificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		response.BadRequest(c, "Invalid notification payload")
		return
	}

	if payload.SubscriptionNotification == nil {
		// Test notifications and one-time product notifications are
		// acknowledged without further work.
		response.OK(c, gin.H{"status": "ignored"})
		return
	}

	task, err := tasks.NewReconcileTask(tasks.ReconcilePayload{
		SKU:           payload.SubscriptionNotification.SubscriptionID,
		PurchaseToken: payload.SubscriptionNotification.PurchaseToken,
	})
	if err != nil {
		response.InternalError(c, "Failed to build reconcile task")
		return
	}
	if _, err := h.asynqClient.EnqueueContext(c.Request.Context(), task); err != nil {
		h.logger.Error("failed to enqueue reconcile task", zap.Error(err))
		response.ServiceUnavailable(c, "Failed to enqueue reconcile task")
		return
	}

	h.logger.Info("Google notification queued",
		zap.String("package", payload.PackageName),
		zap.Int("notification_type", payload.SubscriptionNotification.NotificationType),
		zap.String("subscription_id", payload.SubscriptionNotification.SubscriptionID),
	)
	response.OK(c, gin.H{"status": "queued"})
}

// decodeJWSPayload extracts and decodes the claims segment of a JWS token.
// Signature verification against Apple's certificate chain happens at the
// load balancer; here the payload is only decoded.
func decodeJWSPayload(token string, v interface{}) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return errors.New("malformed JWS token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
