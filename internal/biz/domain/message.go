package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTypeOrderCancelled is the only event type that triggers a claim.
const EventTypeOrderCancelled = "order_cancelled"

// InboundMessage is a raw broker delivery.
type InboundMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// CancellationEvent is the classified view of an inbound payload.
// MessageID may be empty, in which case the event cannot be deduplicated.
type CancellationEvent struct {
	MessageID string
	EventType string
}

// IsCancellation reports whether the event is an order cancellation.
func (e CancellationEvent) IsCancellation() bool {
	return e.EventType == EventTypeOrderCancelled
}

// HasID reports whether the event carries a deduplication key.
func (e CancellationEvent) HasID() bool {
	return e.MessageID != ""
}

// eventEnvelope mirrors the broker payload. The event type normally lives
// under data.event_type; a top-level eventType/event_type is accepted too.
type eventEnvelope struct {
	ID        json.RawMessage `json:"id"`
	EventType string          `json:"eventType"`
	EventTyp2 string          `json:"event_type"`
	Data      *struct {
		EventType string `json:"event_type"`
	} `json:"data"`
}

// ParseEvent decodes a broker payload into a CancellationEvent.
func ParseEvent(payload []byte) (CancellationEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return CancellationEvent{}, fmt.Errorf("decode payload: %w", err)
	}

	ev := CancellationEvent{MessageID: rawID(env.ID)}
	switch {
	case env.Data != nil && env.Data.EventType != "":
		ev.EventType = env.Data.EventType
	case env.EventType != "":
		ev.EventType = env.EventType
	default:
		ev.EventType = env.EventTyp2
	}
	if ev.EventType == "" {
		return CancellationEvent{}, fmt.Errorf("payload has no event type")
	}
	return ev, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
