package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveriesRepository is the delivery audit log (webhook_deliveries).
// Append is the only write; rows are never updated.
type DeliveriesRepository interface {
	Append(ctx context.Context, a model.DeliveryAttempt) error
	ListBySubscription(ctx context.Context, subscriptionID int64, limit, offset int) ([]model.DeliveryAttempt, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

func (r *DeliveriesRepositoryImpl) Append(ctx context.Context, a model.DeliveryAttempt) error {
	const q = `
		INSERT INTO webhook_deliveries
		    (id, delivery_id, subscription_id, event_type, payload, attempt_number,
		     response_status, response_body, delivered_at, error, duration_ms, created_at)
		VALUES
		    (:id, :delivery_id, :subscription_id, :event_type, :payload, :attempt_number,
		     :response_status, :response_body, :delivered_at, :error, :duration_ms, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, q, a)
	return err
}

// ListBySubscription returns attempts newest first.
func (r *DeliveriesRepositoryImpl) ListBySubscription(ctx context.Context, subscriptionID int64, limit, offset int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []model.DeliveryAttempt
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, delivery_id, subscription_id, event_type, payload, attempt_number,
		       response_status, response_body, delivered_at, error, duration_ms, created_at
		  FROM webhook_deliveries
		 WHERE subscription_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?
	`, subscriptionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
