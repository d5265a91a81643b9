package broker

import (
	"context"
	"fmt"

	"github.com/coregx/broker/model"
)

// EventTypeService manages the event type catalog. Creation is an admin
// action; names are unique and checked before insert.
type EventTypeService struct {
	eventTypeRepo EventTypeRepository
	logger        Logger
}

// NewEventTypeService creates an EventTypeService.
func NewEventTypeService(eventTypeRepo EventTypeRepository, logger Logger) (*EventTypeService, error) {
	if eventTypeRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "EventTypeRepository is required")
	}
	if logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required")
	}
	return &EventTypeService{eventTypeRepo: eventTypeRepo, logger: logger}, nil
}

// ErrEventTypeExists reports a create for a name already in the catalog.
var ErrEventTypeExists = NewError(ErrCodeValidation, "event type already exists")

// Create defines a new event type. Returns ErrEventTypeExists if the name is
// already taken.
func (s *EventTypeService) Create(ctx context.Context, req CreateEventTypeRequest) (*model.EventType, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid event type request", err)
	}

	if _, err := s.eventTypeRepo.FindIDByName(ctx, req.Name); err == nil {
		return nil, ErrEventTypeExists
	} else if !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to check event type name", err)
	}

	eventType, err := s.eventTypeRepo.Create(ctx, model.NewEventType(req.Name, req.Description))
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to create event type", err)
	}

	s.logger.Infof("Created event type %q (id=%d)", eventType.Name, eventType.ID)
	return &eventType, nil
}

// List returns every event type in the catalog.
func (s *EventTypeService) List(ctx context.Context) ([]model.EventType, error) {
	types, err := s.eventTypeRepo.All(ctx)
	if err != nil {
		if IsNoData(err) {
			return []model.EventType{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list event types", err)
	}
	return types, nil
}

// Get returns an event type by ID.
func (s *EventTypeService) Get(ctx context.Context, id int64) (*model.EventType, error) {
	eventType, err := s.eventTypeRepo.FindByID(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("event type not found: %d", id), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load event type", err)
	}
	return &eventType, nil
}
