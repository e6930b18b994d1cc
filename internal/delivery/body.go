package delivery

import (
	"encoding/json"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// body is the wire shape sent to subscribers. Field order is fixed by the
// struct and encoding/json sorts map keys, so equal input gives equal bytes.
type body struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// encodeBody renders the payload once per event; every subscriber receives
// the same bytes and only the signature differs.
func encodeBody(p model.EventPayload, now time.Time) ([]byte, error) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}

	data := make(map[string]any, len(p.Data)+2)
	data["entityId"] = p.EntityID
	data["actor"] = p.Actor
	for k, v := range p.Data {
		data[k] = v
	}

	return json.Marshal(body{
		Event:     p.EventType,
		Timestamp: ts.UTC().Format(timestampLayout),
		Data:      data,
	})
}
