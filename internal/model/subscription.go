package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WildcardEvent subscribes an endpoint to every event type.
const WildcardEvent = "*"

// Subscription is an outbound webhook endpoint registered by a client.
// Secret == nil means deliveries are sent unsigned.
type Subscription struct {
	ID        int64     `db:"id"`
	URL       string    `db:"url"`
	Secret    *string   `db:"secret"`
	Events    EventSet  `db:"events"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Wants reports whether the subscription should receive eventType.
func (s Subscription) Wants(eventType string) bool {
	return s.IsActive && s.Events.Matches(eventType)
}

// EventSet is stored as a JSON array column.
type EventSet []string

func (e EventSet) Matches(eventType string) bool {
	for _, ev := range e {
		if ev == WildcardEvent || ev == eventType {
			return true
		}
	}
	return false
}

func (e EventSet) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(e))
}

func (e *EventSet) Scan(src any) error {
	b, err := asBytes(src)
	if err != nil {
		return fmt.Errorf("event set: %w", err)
	}
	if len(b) == 0 {
		*e = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("event set: %w", err)
	}
	*e = out
	return nil
}

// JSONMap is a string map stored as a JSON object column.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

func (m *JSONMap) Scan(src any) error {
	b, err := asBytes(src)
	if err != nil {
		return fmt.Errorf("json map: %w", err)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("json map: %w", err)
	}
	*m = out
	return nil
}

func asBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", src)
	}
}
