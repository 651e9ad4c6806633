package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType labels delivery outcome events on the stream.
type EventType string

const (
	EventSent       EventType = "notification.sent"
	EventFailed     EventType = "notification.failed"
	EventSuppressed EventType = "notification.suppressed"
)

// Event is the envelope published to the outcome topic.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OutcomePayload is the event body for every outcome type.
type OutcomePayload struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	Type           NotificationType `json:"notification_type"`
	Channel        Channel          `json:"channel,omitempty"`
	RetryCount     int              `json:"retry_count"`
	Error          string           `json:"error,omitempty"`
	At             time.Time        `json:"at"`
}

// NewEvent wraps data in an envelope with a fresh ID and UTC timestamp.
func NewEvent(eventType EventType, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        "evt_" + uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// ParseOutcome decodes the event body.
func (e *Event) ParseOutcome() (*OutcomePayload, error) {
	var p OutcomePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Publisher pushes encoded events to the outcome stream; pkg/messaging's
// Kafka producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}
