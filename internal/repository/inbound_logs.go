package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// InboundLogsRepository persists inbound_webhook_logs. Rows are insert-only.
type InboundLogsRepository interface {
	Insert(ctx context.Context, l model.InboundWebhookLog) error
}

type InboundLogsRepositoryImpl struct {
	db *sqlx.DB
}

func NewInboundLogsRepository(db *sqlx.DB) *InboundLogsRepositoryImpl {
	return &InboundLogsRepositoryImpl{db: db}
}

var _ InboundLogsRepository = (*InboundLogsRepositoryImpl)(nil)

func (r *InboundLogsRepositoryImpl) Insert(ctx context.Context, l model.InboundWebhookLog) error {
	const q = `
		INSERT INTO inbound_webhook_logs
		    (id, provider, external_id, event_type, payload, headers,
		     signature_valid, processed, error, created_at)
		VALUES
		    (:id, :provider, :external_id, :event_type, :payload, :headers,
		     :signature_valid, :processed, :error, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, q, l)
	return err
}
