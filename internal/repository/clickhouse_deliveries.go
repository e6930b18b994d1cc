package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveryReportFilter narrows the ClickHouse delivery report.
type DeliveryReportFilter struct {
	SubscriptionID int64
	EventType      string
	Status         model.DeliveryStatus
	Limit          int
	Offset         int
}

// DeliveryReportRow is one logical delivery (all attempts folded together).
type DeliveryReportRow struct {
	DeliveryID     string    `db:"delivery_id"      json:"delivery_id"`
	SubscriptionID int64     `db:"subscription_id"  json:"subscription_id"`
	EventType      string    `db:"event_type"       json:"event_type"`
	Attempts       uint64    `db:"attempts"         json:"attempts"`
	LastStatus     *int32    `db:"last_status"      json:"last_status"`
	Status         string    `db:"status"           json:"status"`
	FirstAttemptAt time.Time `db:"first_attempt_at" json:"first_attempt_at"`
	LastAttemptAt  time.Time `db:"last_attempt_at"  json:"last_attempt_at"`
}

// CHDeliveriesRepository reports over the ClickHouse replica of webhook_deliveries.
type CHDeliveriesRepository interface {
	List(ctx context.Context, f DeliveryReportFilter) ([]DeliveryReportRow, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) List(ctx context.Context, f DeliveryReportFilter) ([]DeliveryReportRow, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT delivery_id, subscription_id, event_type, attempts, last_status, status,
		       first_attempt_at, last_attempt_at
		FROM hookgw.deliveries_summary
		WHERE 1 = 1
	`
	var args []any

	if f.SubscriptionID > 0 {
		q += " AND subscription_id = ?"
		args = append(args, f.SubscriptionID)
	}
	if f.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY last_attempt_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []DeliveryReportRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
