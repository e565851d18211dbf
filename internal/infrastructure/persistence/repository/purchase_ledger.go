package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bivex/store-bridge/internal/domain/entity"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
)

// PurchaseLedger journals every purchase-updated event so acknowledgement
// retries and reconciliation survive process restarts.
type PurchaseLedger struct {
	db *pgxpool.Pool
}

// NewPurchaseLedger creates a new purchase ledger repository
func NewPurchaseLedger(db *pgxpool.Pool) *PurchaseLedger {
	return &PurchaseLedger{db: db}
}

// Record upserts a purchase keyed by its store transaction ID. Replaying the
// same transaction (duplicate store callback, reconnect flush) is idempotent.
func (r *PurchaseLedger) Record(ctx context.Context, userID string, p *entity.Purchase) error {
	query := `
		INSERT INTO purchases (
			user_id, transaction_id, product_id, platform,
			purchase_token, transaction_date, expiration_date,
			is_subscription, auto_renewing, acknowledged
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_id) DO UPDATE SET
			auto_renewing = EXCLUDED.auto_renewing,
			acknowledged = EXCLUDED.acknowledged,
			expiration_date = EXCLUDED.expiration_date,
			updated_at = now()`

	isSubscription := p.ExpirationDateIOS != nil || p.IsSubscriptionAndroid
	_, err := r.db.Exec(ctx, query,
		userID, p.ID, p.ProductID, p.Platform.String(),
		p.PurchaseTokenAndroid, p.TransactionDate, p.ExpirationDateIOS,
		isSubscription, p.AutoRenewingAndroid, p.IsAcknowledgedAndroid,
	)
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	return nil
}

// ListByUser returns every journaled purchase for a user, newest first.
func (r *PurchaseLedger) ListByUser(ctx context.Context, userID string) ([]*entity.Purchase, error) {
	query := `
		SELECT transaction_id, product_id, platform, purchase_token,
		       transaction_date, expiration_date, is_subscription,
		       auto_renewing, acknowledged
		FROM purchases
		WHERE user_id = $1 AND NOT consumed
		ORDER BY transaction_date DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// ListUnacknowledged returns Android purchases that still need to be
// acknowledged with the store, oldest first so they are retried before
// Google's refund window closes.
func (r *PurchaseLedger) ListUnacknowledged(ctx context.Context, limit int) ([]*entity.Purchase, error) {
	query := `
		SELECT transaction_id, product_id, platform, purchase_token,
		       transaction_date, expiration_date, is_subscription,
		       auto_renewing, acknowledged
		FROM purchases
		WHERE platform = 'android' AND NOT acknowledged AND NOT consumed
		ORDER BY transaction_date ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unacknowledged purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// MarkAcknowledged records that a transaction has been acknowledged.
func (r *PurchaseLedger) MarkAcknowledged(ctx context.Context, transactionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE purchases SET acknowledged = true, updated_at = now() WHERE transaction_id = $1`,
		transactionID)
	if err != nil {
		return fmt.Errorf("failed to mark purchase acknowledged: %w", err)
	}
	return nil
}

// MarkConsumed records that a transaction has been consumed.
func (r *PurchaseLedger) MarkConsumed(ctx context.Context, transactionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE purchases SET consumed = true, acknowledged = true, updated_at = now() WHERE transaction_id = $1`,
		transactionID)
	if err != nil {
		return fmt.Errorf("failed to mark purchase consumed: %w", err)
	}
	return nil
}

func scanPurchases(rows pgx.Rows) ([]*entity.Purchase, error) {
	var purchases []*entity.Purchase
	for rows.Next() {
		var (
			p              entity.Purchase
			platform       string
			expiration     *time.Time
			isSubscription bool
			acknowledged   bool
		)
		if err := rows.Scan(
			&p.ID, &p.ProductID, &platform, &p.PurchaseTokenAndroid,
			&p.TransactionDate, &expiration, &isSubscription,
			&p.AutoRenewingAndroid, &acknowledged,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase row: %w", err)
		}
		p.Platform = valueobject.Platform(platform)
		p.IsAcknowledgedAndroid = acknowledged
		if p.Platform == valueobject.PlatformIOS {
			p.ExpirationDateIOS = expiration
		} else {
			p.IsSubscriptionAndroid = isSubscription
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read purchase rows: %w", err)
	}
	return purchases, nil
}
