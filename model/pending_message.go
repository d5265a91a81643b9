package model

import (
	"database/sql"
	"fmt"
	"time"
)

// PendingMessage is an event stored for a subscriber who could not be reached
// at publish time. Rows are deleted once the message has been delivered over a
// live connection; rows whose attempt count reaches the configured maximum are
// kept but no longer retried, so undelivered traffic stays visible instead of
// silently disappearing.
type PendingMessage struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"userID" db:"user_id"`
	EventTypeID   int64          `json:"eventTypeID" db:"event_type_id"`
	MessageID     string         `json:"messageID" db:"message_id"`
	Payload       string         `json:"payload"`
	AttemptCount  int            `json:"attemptCount" db:"attempt_count"`
	LastAttemptAt sql.NullTime   `json:"lastAttemptAt" db:"last_attempt_at"`
	LastError     sql.NullString `json:"lastError" db:"last_error"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for PendingMessage.
func (p PendingMessage) TableName() string {
	return tablePrefix + "pending_message"
}

// NewPendingMessage records an undeliverable event for a subscriber.
func NewPendingMessage(userID int64, event Event) PendingMessage {
	return PendingMessage{
		UserID:      userID,
		EventTypeID: event.EventTypeID,
		MessageID:   event.MessageID,
		Payload:     event.Payload,
		CreatedAt:   time.Now(),
	}
}

// MarkAttempt records one failed redelivery attempt.
func (p *PendingMessage) MarkAttempt(err error) {
	p.AttemptCount++
	p.LastAttemptAt = sql.NullTime{Time: time.Now(), Valid: true}
	if err != nil {
		p.LastError = sql.NullString{String: err.Error(), Valid: true}
	}
}

// Exhausted reports whether the row has used up its delivery attempts.
func (p *PendingMessage) Exhausted(maxAttempts int) bool {
	return p.AttemptCount >= maxAttempts
}

// DedupeKey identifies messages that carry the same content for the same
// subscriber. Repeated publish attempts (including cluster re-fanout) can
// accumulate identical pending rows; replay on reconnect sends each key once.
func (p *PendingMessage) DedupeKey() string {
	return fmt.Sprintf("%d:%s", p.EventTypeID, p.Payload)
}

// Age returns how long the row has been waiting since creation.
func (p *PendingMessage) Age() time.Duration {
	return time.Since(p.CreatedAt)
}
