package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbridge "github.com/bivex/store-bridge/internal/application/bridge"
	"github.com/bivex/store-bridge/internal/application/dto"
	"github.com/bivex/store-bridge/internal/application/middleware"
	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	"github.com/bivex/store-bridge/internal/infrastructure/persistence/repository"
	"github.com/bivex/store-bridge/internal/interfaces/http/response"
)

// BridgeHandler exposes the store bridge over HTTP.
type BridgeHandler struct {
	bridge *appbridge.Bridge
	ledger *repository.PurchaseLedger
	logger *zap.Logger
}

// NewBridgeHandler creates a new bridge handler. The ledger may be nil; the
// bridge then runs without a purchase journal.
func NewBridgeHandler(b *appbridge.Bridge, ledger *repository.PurchaseLedger) *BridgeHandler {
	return &BridgeHandler{
		bridge: b,
		ledger: ledger,
		logger: logging.WithComponent("bridge_handler"),
	}
}

// InitConnection opens the store connection and replays buffered events.
// @Router /v1/connection [post]
func (h *BridgeHandler) InitConnection(c *gin.Context) {
	if err := h.bridge.InitConnection(c.Request.Context()); err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.OK(c, h.status())
}

// EndConnection closes the store connection, rejecting every in-flight
// purchase and discarding buffered events.
// @Router /v1/connection [delete]
func (h *BridgeHandler) EndConnection(c *gin.Context) {
	if err := h.bridge.EndConnection(c.Request.Context()); err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.OK(c, h.status())
}

// ConnectionStatus reports the current connection state.
// @Router /v1/connection [get]
func (h *BridgeHandler) ConnectionStatus(c *gin.Context) {
	response.OK(c, h.status())
}

func (h *BridgeHandler) status() dto.ConnectionStatusResponse {
	return dto.ConnectionStatusResponse{
		State:          h.bridge.State().String(),
		BufferedEvents: h.bridge.BufferedEventCount(),
	}
}

// FetchProducts queries store product metadata.
// @Router /v1/products/fetch [post]
func (h *BridgeHandler) FetchProducts(c *gin.Context) {
	var req dto.FetchProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	products, err := h.bridge.FetchProducts(c.Request.Context(), entity.ProductRequest{
		SKUs: req.SKUs,
		Type: valueobject.ParseProductType(req.Type),
	})
	if err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.OK(c, products)
}

// RequestPurchase issues a purchase and waits for it to settle.
// @Router /v1/purchases [post]
func (h *BridgeHandler) RequestPurchase(c *gin.Context) {
	var params entity.PurchaseParams
	if err := c.ShouldBindJSON(&params); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	purchases, err := h.bridge.RequestPurchase(c.Request.Context(), &params)
	if err != nil {
		h.writeBridgeError(c, err)
		return
	}

	userID := middleware.UserID(c)
	if h.ledger != nil && userID != "" {
		for _, p := range purchases {
			if err := h.ledger.Record(c.Request.Context(), userID, p); err != nil {
				h.logger.Error("failed to journal purchase",
					zap.String("transaction_id", p.ID),
					zap.Error(err),
				)
			}
		}
	}
	h.logger.Info("purchase settled",
		zap.String("user_id", userID),
		zap.Int("purchases", len(purchases)),
	)
	response.Created(c, purchases)
}

// PurchaseHistory returns the journaled purchases for the caller.
// @Router /v1/purchases/history [get]
func (h *BridgeHandler) PurchaseHistory(c *gin.Context) {
	if h.ledger == nil {
		response.NotFound(c, "Purchase journal not configured")
		return
	}

	userID := middleware.UserID(c)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	purchases, err := h.ledger.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read purchase journal", zap.Error(err))
		response.InternalError(c, "Failed to read purchase history")
		return
	}
	response.OK(c, purchases)
}

// FinishTransaction closes out a delivered purchase with the store.
// @Router /v1/purchases/finish [post]
func (h *BridgeHandler) FinishTransaction(c *gin.Context) {
	var req dto.FinishTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := h.bridge.FinishTransaction(c.Request.Context(), req.Purchase, req.IsConsumable); err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.NoContent(c)
}

// GetAvailablePurchases returns the current entitlement snapshot.
// @Router /v1/purchases/available [post]
func (h *BridgeHandler) GetAvailablePurchases(c *gin.Context) {
	var opts entity.AvailablePurchasesOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	purchases, err := h.bridge.GetAvailablePurchases(c.Request.Context(), opts)
	if err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.OK(c, purchases)
}

// AcknowledgePurchase acknowledges an Android purchase.
// @Router /v1/purchases/acknowledge [post]
func (h *BridgeHandler) AcknowledgePurchase(c *gin.Context) {
	var req dto.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := h.bridge.AcknowledgePurchaseAndroid(c.Request.Context(), req.SKU, req.PurchaseToken, req.IsSubscription); err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.NoContent(c)
}

// ConsumePurchase consumes an Android one-time purchase.
// @Router /v1/purchases/consume [post]
func (h *BridgeHandler) ConsumePurchase(c *gin.Context) {
	var req dto.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := h.bridge.ConsumePurchaseAndroid(c.Request.Context(), req.SKU, req.PurchaseToken); err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.NoContent(c)
}

// GetActiveSubscriptions returns the derived active-subscription projections.
// Fetch failures yield an empty list, never an error.
// @Router /v1/subscriptions/active [post]
func (h *BridgeHandler) GetActiveSubscriptions(c *gin.Context) {
	var req dto.ActiveSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	subs := h.bridge.GetActiveSubscriptions(c.Request.Context(), req.Options, req.SubscriptionIDs)
	response.OK(c, subs)
}

// SubscriptionStatus is the boolean entitlement check.
// @Router /v1/subscriptions/status [post]
func (h *BridgeHandler) SubscriptionStatus(c *gin.Context) {
	var req dto.ActiveSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	response.OK(c, dto.SubscriptionStatusResponse{
		HasActiveSubscriptions: h.bridge.HasActiveSubscriptions(c.Request.Context(), req.Options, req.SubscriptionIDs),
	})
}

// ManageSubscription returns the store deep link for managing a subscription.
// @Router /v1/subscriptions/manage [get]
func (h *BridgeHandler) ManageSubscription(c *gin.Context) {
	sku := c.Query("sku")
	response.OK(c, dto.ManageSubscriptionResponse{
		URL: h.bridge.DeepLinkToSubscriptions(sku),
	})
}

// GetStorefront returns the store's storefront country code.
// @Router /v1/storefront [get]
func (h *BridgeHandler) GetStorefront(c *gin.Context) {
	code, err := h.bridge.GetStorefront(c.Request.Context())
	if err != nil {
		h.writeBridgeError(c, err)
		return
	}
	response.OK(c, dto.StorefrontResponse{CountryCode: code})
}

// writeBridgeError maps domain errors onto HTTP statuses while keeping the
// machine-readable purchase error code in the payload.
func (h *BridgeHandler) writeBridgeError(c *gin.Context, err error) {
	var vErr *apperrors.ValidationError
	if errors.As(err, &vErr) {
		response.BadRequest(c, vErr.Error())
		return
	}

	var pErr *apperrors.PurchaseError
	if errors.As(err, &pErr) {
		status := purchaseErrorStatus(pErr.Code)
		response.ErrorWithCode(c, status, "PURCHASE_ERROR", string(pErr.Code), pErr.Message)
		return
	}

	var cErr *apperrors.ConnectionError
	if errors.As(err, &cErr) {
		response.ServiceUnavailable(c, cErr.Error())
		return
	}

	h.logger.Error("unmapped bridge error", zap.Error(err))
	response.InternalError(c, err.Error())
}

func purchaseErrorStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeUserCancelled:
		return http.StatusConflict
	case apperrors.CodeItemUnavailable:
		return http.StatusNotFound
	case apperrors.CodeAlreadyOwned:
		return http.StatusConflict
	case apperrors.CodeDeveloperError, apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotReady, apperrors.CodeConnectionClosed, apperrors.CodeInitConnection:
		return http.StatusConflict
	case apperrors.CodeNetworkError, apperrors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.CodeFeatureNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusUnprocessableEntity
	}
}
