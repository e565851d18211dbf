package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	"github.com/bivex/store-bridge/internal/infrastructure/persistence/repository"
)

// Task names
const (
	TypeAcknowledgePurchase = "purchase:acknowledge"
	TypeConsumePurchase     = "purchase:consume"
	TypeReconcilePurchase   = "purchase:reconcile"
	TypeSweepUnacknowledged = "purchase:sweep_unacknowledged"
)

// AcknowledgePayload identifies one Android purchase to acknowledge or
// consume.
type AcknowledgePayload struct {
	SKU            string `json:"sku"`
	PurchaseToken  string `json:"purchase_token"`
	IsSubscription bool   `json:"is_subscription"`
	TransactionID  string `json:"transaction_id,omitempty"`
}

// ReconcilePayload identifies one Android purchase token to re-query after a
// real-time developer notification.
type ReconcilePayload struct {
	SKU           string `json:"sku"`
	PurchaseToken string `json:"purchase_token"`
	UserID        string `json:"user_id,omitempty"`
}

// NewAcknowledgeTask builds an acknowledgement task.
func NewAcknowledgeTask(p AcknowledgePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAcknowledgePurchase, payload), nil
}

// NewConsumeTask builds a consume task.
func NewConsumeTask(p AcknowledgePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeConsumePurchase, payload), nil
}

// NewReconcileTask builds a reconcile task.
func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcilePurchase, payload), nil
}

// TaskHandlers holds dependencies for all task handlers.
type TaskHandlers struct {
	google *store.Google
	ledger *repository.PurchaseLedger
	logger *zap.Logger
}

// NewTaskHandlers creates task handlers with store and ledger access.
func NewTaskHandlers(google *store.Google, ledger *repository.PurchaseLedger) *TaskHandlers {
	return &TaskHandlers{
		google: google,
		ledger: ledger,
		logger: logging.Logger,
	}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandlers) {
	mux.HandleFunc(TypeAcknowledgePurchase, h.HandleAcknowledgePurchase)
	mux.HandleFunc(TypeConsumePurchase, h.HandleConsumePurchase)
	mux.HandleFunc(TypeReconcilePurchase, h.HandleReconcilePurchase)
	mux.HandleFunc(TypeSweepUnacknowledged, h.HandleSweepUnacknowledged)
}

// RegisterScheduledTasks registers all scheduled (cron) tasks
func RegisterScheduledTasks(scheduler *asynq.Scheduler) {
	// Retry missed acknowledgements every 10 minutes; Google refunds
	// unacknowledged purchases after three days.
	_, err := scheduler.Register("*/10 * * * *", asynq.NewTask(TypeSweepUnacknowledged, nil))
	if err != nil {
		logging.Logger.Error("Failed to schedule acknowledgement sweep", zap.Error(err))
	}
}

// HandleAcknowledgePurchase acknowledges one Android purchase with the store
// and marks it acknowledged in the ledger.
func (h *TaskHandlers) HandleAcknowledgePurchase(ctx context.Context, t *asynq.Task) error {
	var payload AcknowledgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid acknowledge payload: %w", err)
	}

	if err := h.google.AcknowledgePurchase(ctx, payload.SKU, payload.PurchaseToken, payload.IsSubscription); err != nil {
		return fmt.Errorf("failed to acknowledge purchase: %w", err)
	}
	if h.ledger != nil && payload.TransactionID != "" {
		if err := h.ledger.MarkAcknowledged(ctx, payload.TransactionID); err != nil {
			h.logger.Error("failed to mark purchase acknowledged", zap.Error(err))
		}
	}

	h.logger.Info("purchase acknowledged",
		zap.String("sku", payload.SKU),
	)
	return nil
}

// HandleConsumePurchase consumes one Android one-time purchase so the product
// can be bought again.
func (h *TaskHandlers) HandleConsumePurchase(ctx context.Context, t *asynq.Task) error {
	var payload AcknowledgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid consume payload: %w", err)
	}

	if err := h.google.ConsumePurchase(ctx, payload.SKU, payload.PurchaseToken); err != nil {
		return fmt.Errorf("failed to consume purchase: %w", err)
	}
	if h.ledger != nil && payload.TransactionID != "" {
		if err := h.ledger.MarkConsumed(ctx, payload.TransactionID); err != nil {
			h.logger.Error("failed to mark purchase consumed", zap.Error(err))
		}
	}

	h.logger.Info("purchase consumed",
		zap.String("sku", payload.SKU),
	)
	return nil
}

// HandleReconcilePurchase re-queries one purchase token after a developer
// notification and replays the result through the store callback shim so
// connected bridges see a purchase-updated event.
func (h *TaskHandlers) HandleReconcilePurchase(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}

	purchases, err := h.google.AvailablePurchases(ctx, entity.AvailablePurchasesOptions{
		PurchaseTokensAndroid: map[string]string{payload.SKU: payload.PurchaseToken},
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile purchase: %w", err)
	}

	for _, p := range purchases {
		if h.ledger != nil && payload.UserID != "" {
			if err := h.ledger.Record(ctx, payload.UserID, p); err != nil {
				h.logger.Error("failed to journal reconciled purchase",
					zap.String("transaction_id", p.ID),
					zap.Error(err),
				)
			}
		}
		h.google.EmitPurchaseUpdated(p)
	}

	h.logger.Info("purchase reconciled",
		zap.String("sku", payload.SKU),
		zap.Int("purchases", len(purchases)),
	)
	return nil
}

// HandleSweepUnacknowledged retries acknowledgement for journaled purchases
// that never made it through the synchronous path.
func (h *TaskHandlers) HandleSweepUnacknowledged(ctx context.Context, t *asynq.Task) error {
	if h.ledger == nil {
		return nil
	}

	purchases, err := h.ledger.ListUnacknowledged(ctx, 100)
	if err != nil {
		return fmt.Errorf("failed to list unacknowledged purchases: %w", err)
	}

	var failed int
	for _, p := range purchases {
		err := h.google.AcknowledgePurchase(ctx, p.ProductID, p.PurchaseTokenAndroid, p.IsSubscriptionAndroid)
		if err != nil {
			failed++
			h.logger.Warn("acknowledgement retry failed",
				zap.String("transaction_id", p.ID),
				zap.Error(err),
			)
			continue
		}
		if err := h.ledger.MarkAcknowledged(ctx, p.ID); err != nil {
			h.logger.Error("failed to mark purchase acknowledged",
				zap.String("transaction_id", p.ID),
				zap.Error(err),
			)
		}
	}

	if len(purchases) > 0 {
		h.logger.Info("acknowledgement sweep complete",
			zap.Int("attempted", len(purchases)),
			zap.Int("failed", failed),
		)
	}
	return nil
}
