package events

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Envelope is the wire form of an outbox entry on the queue.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

var errMissingAggregate = errors.New("events: aggregate is required")

// NewEnvelope wraps an outbox entry for publishing.
func NewEnvelope(entry OutboxEntry) (Envelope, error) {
	if strings.TrimSpace(entry.Aggregate) == "" {
		return Envelope{}, errMissingAggregate
	}
	if strings.TrimSpace(entry.Type) == "" {
		return Envelope{}, errors.New("events: event type missing")
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		EventID:         entry.ID,
		EventType:       entry.Type,
		Aggregate:       entry.Aggregate,
		TimestampMicros: entry.CreatedAt.UTC().UnixMicro(),
		Payload:         payload,
	}, nil
}
