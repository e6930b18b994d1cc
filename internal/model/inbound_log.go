package model

import (
	"encoding/json"
	"time"
)

// InboundWebhookLog is written exactly once per inbound request and never updated.
type InboundWebhookLog struct {
	ID             string          `db:"id"`
	Provider       Provider        `db:"provider"`
	ExternalID     *string         `db:"external_id"` // provider event / delivery id
	EventType      *string         `db:"event_type"`
	Payload        json.RawMessage `db:"payload"` // NULL when the body did not parse
	Headers        JSONMap         `db:"headers"`
	SignatureValid bool            `db:"signature_valid"`
	Processed      bool            `db:"processed"`
	Error          *string         `db:"error"`
	CreatedAt      time.Time       `db:"created_at"`
}
