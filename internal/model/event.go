package model

import "time"

// EventPayload is handed from business logic to the delivery engine. It is
// never stored on its own, only inside DeliveryAttempt.Payload.
type EventPayload struct {
	EventType string
	Timestamp time.Time
	EntityID  string
	Actor     string
	Data      map[string]any
}
