package broker

import (
	"context"
	"fmt"

	"github.com/coregx/broker/model"
)

// DeliveryEngine publishes events to subscribers: it delivers immediately to
// connected subscribers, stores a pending row for unreachable ones, and tracks
// a delivery record per (message, recipient) pair for acknowledgment.
//
// Reachability is decided against the connection registry at publish time,
// never against a cached handle. Each subscriber send is attempted
// independently; a failure for one subscriber never prevents delivery to
// others.
type DeliveryEngine struct {
	subscriptionRepo SubscriptionRepository
	pendingRepo      PendingMessageRepository
	deliveryRepo     DeliveryRepository
	eventRepo        EventRepository
	eventTypeRepo    EventTypeRepository
	registry         *ConnRegistry
	logger           Logger
}

// DeliveryOption configures a DeliveryEngine.
type DeliveryOption func(*DeliveryEngine) error

// NewDeliveryEngine creates a new DeliveryEngine with the provided options.
//
// Required options:
//   - WithDeliveryRepositories: subscription, pending, delivery, event and
//     event type repositories
//   - WithDeliveryRegistry: the live connection registry
//   - WithDeliveryLogger: logger instance
func NewDeliveryEngine(opts ...DeliveryOption) (*DeliveryEngine, error) {
	e := &DeliveryEngine{}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply delivery option", err)
		}
	}

	// Validate required dependencies
	if e.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithDeliveryRepositories)")
	}
	if e.pendingRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "PendingMessageRepository is required (use WithDeliveryRepositories)")
	}
	if e.deliveryRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryRepository is required (use WithDeliveryRepositories)")
	}
	if e.eventRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "EventRepository is required (use WithDeliveryRepositories)")
	}
	if e.eventTypeRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "EventTypeRepository is required (use WithDeliveryRepositories)")
	}
	if e.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "ConnRegistry is required (use WithDeliveryRegistry)")
	}
	if e.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithDeliveryLogger)")
	}

	return e, nil
}

// WithDeliveryRepositories sets the required repository dependencies.
func WithDeliveryRepositories(
	subscriptionRepo SubscriptionRepository,
	pendingRepo PendingMessageRepository,
	deliveryRepo DeliveryRepository,
	eventRepo EventRepository,
	eventTypeRepo EventTypeRepository,
) DeliveryOption {
	return func(e *DeliveryEngine) error {
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		if pendingRepo == nil {
			return fmt.Errorf("pendingRepo cannot be nil")
		}
		if deliveryRepo == nil {
			return fmt.Errorf("deliveryRepo cannot be nil")
		}
		if eventRepo == nil {
			return fmt.Errorf("eventRepo cannot be nil")
		}
		if eventTypeRepo == nil {
			return fmt.Errorf("eventTypeRepo cannot be nil")
		}

		e.subscriptionRepo = subscriptionRepo
		e.pendingRepo = pendingRepo
		e.deliveryRepo = deliveryRepo
		e.eventRepo = eventRepo
		e.eventTypeRepo = eventTypeRepo
		return nil
	}
}

// WithDeliveryRegistry sets the live connection registry.
func WithDeliveryRegistry(registry *ConnRegistry) DeliveryOption {
	return func(e *DeliveryEngine) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		e.registry = registry
		return nil
	}
}

// WithDeliveryLogger sets the logger instance.
func WithDeliveryLogger(logger Logger) DeliveryOption {
	return func(e *DeliveryEngine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// EventLine formats the wire notification for one event:
// "EVENT <type>:<messageId>:<payload>".
func EventLine(typeName, messageID, payload string) string {
	return fmt.Sprintf("EVENT %s:%s:%s", typeName, messageID, payload)
}

// Publish persists a new event for the given type and fans it out to every
// active subscriber. The returned event carries the broker-generated message
// ID used for acknowledgment.
//
// The process:
//  1. Validate the event type exists
//  2. Create the event record
//  3. Fan out to subscribers (deliver now or store pending)
func (e *DeliveryEngine) Publish(ctx context.Context, req PublishRequest) (*model.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid publish request", err)
	}

	eventType, err := e.eventTypeRepo.FindByID(ctx, req.EventTypeID)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("event type not found: %d", req.EventTypeID), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load event type", err)
	}

	event := model.NewEvent(eventType.ID, req.Payload)
	event, err = e.eventRepo.Create(ctx, event)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save event", err)
	}

	e.logger.Infof("Event created: id=%d, messageID=%s, type=%s", event.ID, event.MessageID, eventType.Name)

	e.Fanout(ctx, event)
	return &event, nil
}

// Fanout delivers an already-persisted event to every active subscriber of
// its type. Used by Publish and by the cluster coordinator when a forwarded
// event arrives from a peer node; forwarded events must not be re-published,
// only fanned out.
//
// Per-subscriber errors are recorded as pending state, never returned: the
// fan-out always visits every subscriber.
func (e *DeliveryEngine) Fanout(ctx context.Context, event model.Event) {
	subscribers, err := e.subscriptionRepo.SubscriberIDs(ctx, event.EventTypeID)
	if err != nil && !IsNoData(err) {
		e.logger.Errorf("Failed to load subscribers for event type %d: %v", event.EventTypeID, err)
		return
	}
	if len(subscribers) == 0 {
		e.logger.Debugf("No subscribers for event type %d", event.EventTypeID)
		return
	}

	eventType, err := e.eventTypeRepo.FindByID(ctx, event.EventTypeID)
	if err != nil {
		e.logger.Errorf("Failed to load event type %d for fan-out: %v", event.EventTypeID, err)
		return
	}
	line := EventLine(eventType.Name, event.MessageID, event.Payload)

	delivered := 0
	for _, userID := range subscribers {
		if err := e.registry.Send(userID, line); err != nil {
			e.storePending(ctx, userID, event, err)
			continue
		}

		if err := e.deliveryRepo.Track(ctx, event.MessageID, userID, model.StatusDelivered); err != nil {
			e.logger.Errorf("Failed to track delivery for message %s, user %d: %v", event.MessageID, userID, err)
		}
		delivered++
	}

	e.logger.Infof("Fanned out message %s to %d/%d subscribers (type=%s)",
		event.MessageID, delivered, len(subscribers), eventType.Name)
}

// storePending records the offline path for one unreachable subscriber.
func (e *DeliveryEngine) storePending(ctx context.Context, userID int64, event model.Event, cause error) {
	if cause == ErrNotConnected {
		e.logger.Debugf("User %d offline, storing pending message %s", userID, event.MessageID)
	} else {
		e.logger.Warnf("Send to user %d failed (%v), storing pending message %s", userID, cause, event.MessageID)
	}

	if _, err := e.pendingRepo.Store(ctx, model.NewPendingMessage(userID, event)); err != nil {
		e.logger.Errorf("Failed to store pending message for user %d: %v", userID, err)
	}
	if err := e.deliveryRepo.Track(ctx, event.MessageID, userID, model.StatusPending); err != nil {
		e.logger.Errorf("Failed to track pending status for message %s, user %d: %v", event.MessageID, userID, err)
	}
}

// DeliverPending replays stored messages for a user whose identity was just
// bound to a live connection. The batch is de-duplicated by (event type,
// payload) so identical rows accumulated by repeated publish attempts are
// sent once; every row covered by a successful send is deleted. A send
// failure leaves the remaining rows in place for a future attempt.
//
// Returns the number of unique messages written to the connection.
func (e *DeliveryEngine) DeliverPending(ctx context.Context, userID int64) (int, error) {
	pending, err := e.pendingRepo.ForUser(ctx, userID)
	if err != nil {
		if IsNoData(err) {
			return 0, nil
		}
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to load pending messages", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	e.logger.Infof("Replaying %d pending messages for user %d", len(pending), userID)

	if err := e.registry.Send(userID, fmt.Sprintf("You have %d pending messages:", len(pending))); err != nil {
		e.logger.Warnf("Failed to announce pending messages to user %d: %v", userID, err)
	}

	typeNames := make(map[int64]string)
	seen := make(map[string]bool)
	sent := 0

	for i := range pending {
		pm := &pending[i]

		key := pm.DedupeKey()
		if seen[key] {
			// Duplicate content: drop the row and settle its record
			// against the already-sent copy.
			if err := e.deliveryRepo.Track(ctx, pm.MessageID, userID, model.StatusDelivered); err != nil {
				e.logger.Errorf("Failed to track duplicate pending row %d: %v", pm.ID, err)
			}
			if err := e.pendingRepo.Delete(ctx, pm.ID); err != nil {
				e.logger.Errorf("Failed to delete duplicate pending row %d: %v", pm.ID, err)
			}
			continue
		}

		if e.alreadyDelivered(ctx, pm.MessageID, userID) {
			// A peer node delivered this message over its own registry
			// while the row sat here; replaying it would duplicate.
			if err := e.pendingRepo.Delete(ctx, pm.ID); err != nil {
				e.logger.Errorf("Failed to delete delivered pending row %d: %v", pm.ID, err)
			}
			continue
		}

		typeName, ok := typeNames[pm.EventTypeID]
		if !ok {
			et, err := e.eventTypeRepo.FindByID(ctx, pm.EventTypeID)
			if err != nil {
				e.logger.Errorf("Failed to load event type %d for pending row %d: %v", pm.EventTypeID, pm.ID, err)
				continue
			}
			typeName = et.Name
			typeNames[pm.EventTypeID] = typeName
		}

		if err := e.registry.Send(userID, EventLine(typeName, pm.MessageID, pm.Payload)); err != nil {
			// Leave the row for the redelivery scheduler.
			e.logger.Warnf("Failed to replay pending row %d to user %d: %v", pm.ID, userID, err)
			continue
		}

		seen[key] = true
		sent++

		if err := e.deliveryRepo.Track(ctx, pm.MessageID, userID, model.StatusDelivered); err != nil {
			e.logger.Errorf("Failed to track replay delivery for message %s: %v", pm.MessageID, err)
		}
		if err := e.pendingRepo.Delete(ctx, pm.ID); err != nil {
			e.logger.Errorf("Failed to delete pending row %d: %v", pm.ID, err)
		}
	}

	e.logger.Infof("Delivered %d unique pending messages to user %d", sent, userID)
	return sent, nil
}

// alreadyDelivered reports whether the (message, recipient) pair's delivery
// record is settled. With clustering, a peer node delivers to subscribers the
// publishing node stored pending rows for; those rows must be dropped, not
// redelivered.
func (e *DeliveryEngine) alreadyDelivered(ctx context.Context, messageID string, userID int64) bool {
	record, err := e.deliveryRepo.Find(ctx, messageID, userID)
	if err != nil {
		return false
	}
	return record.Settled()
}

// Redeliver re-attempts one pending row over a live connection. A row whose
// delivery record is already settled (delivered by a peer node) is dropped
// without a send. On success the row is deleted and the delivery record
// marked DELIVERED; on failure the attempt is recorded on the row and the
// record marked FAILED. The returned row carries the updated attempt
// bookkeeping. Used by the redelivery scheduler.
func (e *DeliveryEngine) Redeliver(ctx context.Context, pm model.PendingMessage) (model.PendingMessage, error) {
	if e.alreadyDelivered(ctx, pm.MessageID, pm.UserID) {
		e.logger.Debugf("Pending row %d for message %s already delivered, dropping", pm.ID, pm.MessageID)
		if err := e.pendingRepo.Delete(ctx, pm.ID); err != nil {
			e.logger.Errorf("Failed to delete delivered pending row %d: %v", pm.ID, err)
		}
		return pm, nil
	}

	eventType, err := e.eventTypeRepo.FindByID(ctx, pm.EventTypeID)
	if err != nil {
		return pm, NewErrorWithCause(ErrCodeDatabase, "failed to load event type for redelivery", err)
	}

	sendErr := e.registry.Send(pm.UserID, EventLine(eventType.Name, pm.MessageID, pm.Payload))
	if sendErr == nil {
		if err := e.deliveryRepo.Track(ctx, pm.MessageID, pm.UserID, model.StatusDelivered); err != nil {
			e.logger.Errorf("Failed to track redelivery for message %s: %v", pm.MessageID, err)
		}
		if err := e.pendingRepo.Delete(ctx, pm.ID); err != nil {
			e.logger.Errorf("Failed to delete redelivered pending row %d: %v", pm.ID, err)
		}
		return pm, nil
	}

	pm.MarkAttempt(sendErr)
	if err := e.pendingRepo.Update(ctx, pm); err != nil {
		e.logger.Errorf("Failed to record attempt on pending row %d: %v", pm.ID, err)
	}
	if err := e.deliveryRepo.Track(ctx, pm.MessageID, pm.UserID, model.StatusFailed); err != nil {
		e.logger.Errorf("Failed to track failed redelivery for message %s: %v", pm.MessageID, err)
	}
	return pm, NewErrorWithCause(ErrCodeDelivery, fmt.Sprintf("redelivery to user %d failed", pm.UserID), sendErr)
}

// Acknowledge marks the delivery record for (messageID, userID) as
// ACKNOWLEDGED. Idempotent; a missing record is logged and ignored since
// acknowledgments may arrive after eviction or duplicate delivery.
func (e *DeliveryEngine) Acknowledge(ctx context.Context, messageID string, userID int64) error {
	err := e.deliveryRepo.Acknowledge(ctx, messageID, userID)
	if err != nil {
		if IsNoData(err) {
			e.logger.Warnf("Acknowledgment for unknown message %s from user %d ignored", messageID, userID)
			return nil
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to acknowledge message", err)
	}

	e.logger.Debugf("Message %s acknowledged by user %d", messageID, userID)
	e.cleanupSettledEvent(ctx, messageID)
	return nil
}

// cleanupSettledEvent deletes the event row once every tracked recipient has
// settled. A failure here is logged and ignored; the row survives until a
// later acknowledgment retries the cleanup.
func (e *DeliveryEngine) cleanupSettledEvent(ctx context.Context, messageID string) {
	records, err := e.deliveryRepo.ListForMessage(ctx, messageID)
	if err != nil {
		e.logger.Warnf("Failed to load delivery records for message %s: %v", messageID, err)
		return
	}
	for _, rec := range records {
		if !rec.Settled() {
			return
		}
	}
	if err := e.eventRepo.Delete(ctx, messageID); err != nil {
		e.logger.Warnf("Failed to delete settled event %s: %v", messageID, err)
		return
	}
	e.logger.Debugf("Deleted event %s, all recipients settled", messageID)
}
