package model

import (
	"database/sql"
	"time"
)

// Subscription is a (user, event type) interest registration.
// Unsubscribing deactivates the row instead of deleting it, so a later
// re-subscribe is a reactivation rather than a fresh insert. At most one row
// exists per (user, event type) pair; the persistence layer enforces the
// uniqueness.
type Subscription struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"userID" db:"user_id"`
	EventTypeID int64        `json:"eventTypeID" db:"event_type_id"`
	IsActive    bool         `json:"isActive" db:"is_active"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	DeletedAt   sql.NullTime `json:"deletedAt" db:"deleted_at"`
}

// TableName returns the database table name for Subscription.
func (s Subscription) TableName() string {
	return tablePrefix + "subscription"
}

// NewSubscription creates a new active subscription.
func NewSubscription(userID, eventTypeID int64) Subscription {
	return Subscription{
		UserID:      userID,
		EventTypeID: eventTypeID,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
}

// Deactivate soft-deletes the subscription. The row is retained so it can be
// reactivated on a later subscribe.
func (s *Subscription) Deactivate() {
	s.IsActive = false
	s.DeletedAt = sql.NullTime{Time: time.Now(), Valid: true}
}

// Reactivate re-enables a previously deactivated subscription.
func (s *Subscription) Reactivate() {
	s.IsActive = true
	s.DeletedAt = sql.NullTime{}
}
