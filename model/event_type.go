package model

// EventType is a named category of publishable events.
// Event types are created by admin action and referenced by events and
// subscriptions by ID. Names are unique.
type EventType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TableName returns the database table name for EventType.
func (t EventType) TableName() string {
	return tablePrefix + "event_type"
}

// NewEventType creates a new event type definition.
func NewEventType(name, description string) EventType {
	return EventType{
		Name:        name,
		Description: description,
	}
}
