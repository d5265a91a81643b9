package broker

import (
	"context"
	"fmt"

	"github.com/coregx/broker/model"
)

// SubscriptionService handles subscription lifecycle for the broker.
// Unsubscribe deactivates rows instead of deleting them, so a later subscribe
// reactivates the existing row; at most one row ever exists per (user, event
// type) pair.
//
// Thread safety: safe for concurrent use. Two concurrent subscribes for the
// same pair cannot create two active rows: the persistence layer enforces
// pair uniqueness and a violation is treated as "already subscribed".
type SubscriptionService struct {
	subscriptionRepo SubscriptionRepository
	eventTypeRepo    EventTypeRepository
	logger           Logger
}

// SubscriptionOption configures a SubscriptionService.
type SubscriptionOption func(*SubscriptionService) error

// NewSubscriptionService creates a new SubscriptionService with the provided
// options.
//
// Required options:
//   - WithSubscriptionRepositories: subscription and event type repositories
//   - WithSubscriptionLogger: logger instance
func NewSubscriptionService(opts ...SubscriptionOption) (*SubscriptionService, error) {
	s := &SubscriptionService{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply subscription option", err)
		}
	}

	if s.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required")
	}
	if s.eventTypeRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "EventTypeRepository is required")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required")
	}

	return s, nil
}

// WithSubscriptionRepositories sets the required repository dependencies.
func WithSubscriptionRepositories(subscriptionRepo SubscriptionRepository, eventTypeRepo EventTypeRepository) SubscriptionOption {
	return func(s *SubscriptionService) error {
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		if eventTypeRepo == nil {
			return fmt.Errorf("eventTypeRepo cannot be nil")
		}
		s.subscriptionRepo = subscriptionRepo
		s.eventTypeRepo = eventTypeRepo
		return nil
	}
}

// WithSubscriptionLogger sets the logger instance.
func WithSubscriptionLogger(logger Logger) SubscriptionOption {
	return func(s *SubscriptionService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// SubscribeResult describes how a subscribe request was satisfied.
type SubscribeResult int

const (
	// Subscribed means a new subscription row was created.
	Subscribed SubscribeResult = iota

	// Resubscribed means an inactive row was reactivated.
	Resubscribed

	// AlreadySubscribed means an active row already existed.
	AlreadySubscribed
)

// Subscribe activates the user's interest in an event type: an existing
// active row is reported as AlreadySubscribed, an inactive row is
// reactivated, otherwise a fresh row is created.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, eventTypeID int64) (SubscribeResult, error) {
	if userID == 0 || eventTypeID == 0 {
		return 0, NewError(ErrCodeValidation, "user ID and event type ID are required")
	}

	if _, err := s.eventTypeRepo.FindByID(ctx, eventTypeID); err != nil {
		if IsNoData(err) {
			return 0, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("event type not found: %d", eventTypeID), err)
		}
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to load event type", err)
	}

	active, err := s.subscriptionRepo.IsActive(ctx, userID, eventTypeID)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to check subscription", err)
	}
	if active {
		s.logger.Warnf("Subscription already active: user=%d, eventType=%d", userID, eventTypeID)
		return AlreadySubscribed, nil
	}

	inactive, err := s.subscriptionRepo.HasInactive(ctx, userID, eventTypeID)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to check inactive subscription", err)
	}
	if inactive {
		if err := s.subscriptionRepo.Reactivate(ctx, userID, eventTypeID); err != nil {
			return 0, NewErrorWithCause(ErrCodeDatabase, "failed to reactivate subscription", err)
		}
		s.logger.Infof("Subscription reactivated: user=%d, eventType=%d", userID, eventTypeID)
		return Resubscribed, nil
	}

	if _, err := s.subscriptionRepo.Create(ctx, model.NewSubscription(userID, eventTypeID)); err != nil {
		// A concurrent subscribe may have won the insert; the pair
		// uniqueness makes that equivalent to "already subscribed".
		if already, checkErr := s.subscriptionRepo.IsActive(ctx, userID, eventTypeID); checkErr == nil && already {
			return AlreadySubscribed, nil
		}
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to create subscription", err)
	}

	s.logger.Infof("Subscription created: user=%d, eventType=%d", userID, eventTypeID)
	return Subscribed, nil
}

// Unsubscribe deactivates the user's subscription to an event type.
// Returns ErrNoData (wrapped) if no active subscription exists.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, userID, eventTypeID int64) error {
	if userID == 0 || eventTypeID == 0 {
		return NewError(ErrCodeValidation, "user ID and event type ID are required")
	}

	if err := s.subscriptionRepo.Deactivate(ctx, userID, eventTypeID); err != nil {
		if IsNoData(err) {
			return err
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to deactivate subscription", err)
	}

	s.logger.Infof("Subscription deactivated: user=%d, eventType=%d", userID, eventTypeID)
	return nil
}

// SubscribedTypes returns the event types the user actively subscribes to.
// Returns an empty slice if there are none.
func (s *SubscriptionService) SubscribedTypes(ctx context.Context, userID int64) ([]model.EventType, error) {
	if userID == 0 {
		return nil, NewError(ErrCodeValidation, "user ID is required")
	}

	types, err := s.subscriptionRepo.SubscribedTypes(ctx, userID)
	if err != nil {
		if IsNoData(err) {
			return []model.EventType{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load subscribed event types", err)
	}
	if types == nil {
		// A repository returning a nil slice would serialize as JSON null;
		// the wire format promises an array.
		types = []model.EventType{}
	}
	return types, nil
}
