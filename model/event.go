package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is one published message instance belonging to an event type.
// Events are immutable once created.
//
// MessageID is the broker-generated identifier used for delivery tracking and
// acknowledgment. It is distinct from the persisted row ID: delivery records
// and ACK commands reference the MessageID, while PendingMessage rows
// reference the row ID for deletion.
type Event struct {
	ID          int64     `json:"id"`
	EventTypeID int64     `json:"eventTypeID" db:"event_type_id"`
	MessageID   string    `json:"messageID" db:"message_id"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Event.
func (e Event) TableName() string {
	return tablePrefix + "event"
}

// NewEvent creates a new event for publication with a fresh message ID.
func NewEvent(eventTypeID int64, payload string) Event {
	return Event{
		EventTypeID: eventTypeID,
		MessageID:   uuid.NewString(),
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
}
