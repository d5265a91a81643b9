package model

import "time"

// DeliveryStatus is the lifecycle state of one (message, recipient) pair.
type DeliveryStatus string

const (
	// StatusDelivered indicates the event was written to a live connection.
	StatusDelivered DeliveryStatus = "DELIVERED"

	// StatusPending indicates the recipient was unreachable and a pending
	// row was stored for later delivery.
	StatusPending DeliveryStatus = "PENDING"

	// StatusFailed indicates a delivery attempt errored; the redelivery
	// scheduler picks these up.
	StatusFailed DeliveryStatus = "FAILED"

	// StatusAcknowledged indicates the recipient confirmed receipt.
	StatusAcknowledged DeliveryStatus = "ACKNOWLEDGED"
)

// DeliveryRecord tracks the delivery lifecycle of one (message, recipient)
// pair, independent of any PendingMessage row, so status stays queryable after
// the pending row is gone. One record exists per (MessageID, UserID); status
// transitions are last-write-wins.
type DeliveryRecord struct {
	ID        int64          `json:"id"`
	MessageID string         `json:"messageID" db:"message_id"`
	UserID    int64          `json:"userID" db:"user_id"`
	Status    DeliveryStatus `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for DeliveryRecord.
func (d DeliveryRecord) TableName() string {
	return tablePrefix + "delivery_record"
}

// NewDeliveryRecord creates a record for a (message, recipient) pair.
func NewDeliveryRecord(messageID string, userID int64, status DeliveryStatus) DeliveryRecord {
	return DeliveryRecord{
		MessageID: messageID,
		UserID:    userID,
		Status:    status,
		UpdatedAt: time.Now(),
	}
}

// Settled reports whether the record needs no further delivery work.
func (d DeliveryRecord) Settled() bool {
	return d.Status == StatusDelivered || d.Status == StatusAcknowledged
}
