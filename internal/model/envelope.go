package model

import "time"

// Envelope is the business event message consumed from Kafka by the delivery
// worker. Producers live elsewhere in the platform.
type Envelope struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	EntityID  string         `json:"entity_id"`
	Actor     string         `json:"actor"`
	Data      map[string]any `json:"data,omitempty"`
}

func (e Envelope) Valid() bool { return e.EventType != "" }

// Payload converts the envelope into an engine payload.
func (e Envelope) Payload() EventPayload {
	return EventPayload{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		EntityID:  e.EntityID,
		Actor:     e.Actor,
		Data:      e.Data,
	}
}
