package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// SubscriptionsRepository is the read-only view of outgoing_webhooks used by
// the delivery engine. Registration CRUD lives in the admin console.
type SubscriptionsRepository interface {
	ListActive(ctx context.Context) ([]model.Subscription, error)
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

func (r *SubscriptionsRepositoryImpl) ListActive(ctx context.Context) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT id, url, secret, events, is_active, created_at, updated_at
		  FROM outgoing_webhooks
		 WHERE is_active = TRUE
		 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return subs, nil
}
