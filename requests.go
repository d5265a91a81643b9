package broker

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// RegisterRequest carries the fields of a REGISTER command.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Validate checks the registration fields before they reach the account
// service.
func (m RegisterRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Username, validation.Required, validation.Length(3, 64)),
		validation.Field(&m.Password, validation.Required, validation.Length(6, 128)),
		validation.Field(&m.Role, validation.Required, validation.In("CLIENT", "ADMIN")),
	)
}

// CreateEventTypeRequest carries the fields of a CREATE EVENT TYPE command.
type CreateEventTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate checks the event type fields.
func (m CreateEventTypeRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&m.Description, validation.Length(0, 512)),
	)
}

// PublishRequest carries the fields of a CREATE EVENT command.
type PublishRequest struct {
	EventTypeID int64  `json:"eventTypeID"`
	Payload     string `json:"payload"`
}

// Validate checks the publish fields.
func (m PublishRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.EventTypeID, validation.Required, validation.Min(int64(1))),
		validation.Field(&m.Payload, validation.Required),
	)
}
