package model

import (
	"encoding/json"
	"time"
)

// DeliveryAttempt is one HTTP attempt of one event to one subscription.
// Rows are append-only; all attempts of a logical delivery share DeliveryID.
type DeliveryAttempt struct {
	ID             string          `db:"id"`
	DeliveryID     string          `db:"delivery_id"`
	SubscriptionID int64           `db:"subscription_id"`
	EventType      string          `db:"event_type"`
	Payload        json.RawMessage `db:"payload"` // exact signed body
	AttemptNumber  int             `db:"attempt_number"`
	ResponseStatus *int            `db:"response_status"` // nil => transport failure
	ResponseBody   *string         `db:"response_body"`
	DeliveredAt    *time.Time      `db:"delivered_at"` // set only on 2xx
	Error          *string         `db:"error"`
	DurationMs     int64           `db:"duration_ms"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (a DeliveryAttempt) Delivered() bool { return a.DeliveredAt != nil }

// DeliveryStatus is the derived outcome used by the reporting read model.
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}
