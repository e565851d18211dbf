package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbridge "github.com/bivex/store-bridge/internal/application/bridge"
	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
)

// EventsHandler streams bridge purchase events to clients over SSE.
type EventsHandler struct {
	bridge *appbridge.Bridge
	logger *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(b *appbridge.Bridge) *EventsHandler {
	return &EventsHandler{
		bridge: b,
		logger: logging.WithComponent("events_handler"),
	}
}

// Stream subscribes the client to purchase-updated and purchase-error events
// for the lifetime of the request.
// @Router /v1/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Buffered so a slow client stalls its own stream, not the dispatcher.
	events := make(chan appbridge.Event, 64)

	updated := h.bridge.OnPurchaseUpdated(func(p *entity.Purchase) {
		select {
		case events <- appbridge.Event{Name: appbridge.EventPurchaseUpdated, Purchase: p}:
		default:
			h.logger.Warn("dropping event for slow SSE client",
				zap.String("transaction_id", p.ID))
		}
	})
	defer updated.Remove()

	failed := h.bridge.OnPurchaseError(func(e *apperrors.PurchaseError) {
		select {
		case events <- appbridge.Event{Name: appbridge.EventPurchaseError, Err: e}:
		default:
			h.logger.Warn("dropping error event for slow SSE client",
				zap.String("code", string(e.Code)))
		}
	})
	defer failed.Remove()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			switch ev.Name {
			case appbridge.EventPurchaseUpdated:
				c.SSEvent(string(ev.Name), ev.Purchase)
			case appbridge.EventPurchaseError:
				c.SSEvent(string(ev.Name), ev.Err)
			}
			return true
		}
	})
}
