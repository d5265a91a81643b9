package broker

import (
	"context"
	"time"

	"github.com/coregx/broker/model"
)

// UserRepository defines the persistence interface for broker accounts.
//
// Implementations must be safe for concurrent use.
type UserRepository interface {
	// Save creates a new account and populates its ID.
	// Returns an error if the username is already taken.
	Save(ctx context.Context, u model.User) (model.User, error)

	// FindByUsername retrieves an account by username.
	// Returns ErrNoData if not found.
	FindByUsername(ctx context.Context, username string) (model.User, error)
}

// EventTypeRepository defines the persistence interface for event type
// definitions. Event types are read-mostly after creation.
type EventTypeRepository interface {
	// Create inserts a new event type and populates its ID.
	Create(ctx context.Context, t model.EventType) (model.EventType, error)

	// FindByID retrieves an event type by ID.
	// Returns ErrNoData if not found.
	FindByID(ctx context.Context, id int64) (model.EventType, error)

	// FindIDByName retrieves the ID of the event type with the given name.
	// Returns ErrNoData if no such type exists.
	FindIDByName(ctx context.Context, name string) (int64, error)

	// All retrieves every event type definition.
	// Returns an empty slice if none exist.
	All(ctx context.Context) ([]model.EventType, error)
}

// EventRepository defines the persistence interface for published events.
// Events are immutable once created.
type EventRepository interface {
	// Create inserts a new event and populates its row ID.
	Create(ctx context.Context, e model.Event) (model.Event, error)

	// Delete permanently removes the event with the given broker message ID.
	// Used for cleanup once every tracked recipient has settled; deleting an
	// event that is already gone is not an error.
	Delete(ctx context.Context, messageID string) error
}

// SubscriptionRepository defines the persistence interface for subscription
// rows. At most one row exists per (user, event type) pair; Create must
// enforce the uniqueness and callers treat a violation as "already
// subscribed".
type SubscriptionRepository interface {
	// Create inserts a new active subscription.
	Create(ctx context.Context, s model.Subscription) (model.Subscription, error)

	// IsActive reports whether an active subscription exists for the pair.
	IsActive(ctx context.Context, userID, eventTypeID int64) (bool, error)

	// HasInactive reports whether a deactivated row exists for the pair.
	HasInactive(ctx context.Context, userID, eventTypeID int64) (bool, error)

	// Reactivate re-enables a deactivated row for the pair.
	Reactivate(ctx context.Context, userID, eventTypeID int64) error

	// Deactivate soft-deletes the active row for the pair.
	// Returns ErrNoData if no active row exists.
	Deactivate(ctx context.Context, userID, eventTypeID int64) error

	// SubscriberIDs returns the user IDs with an active subscription to the
	// event type. Returns an empty slice if there are none.
	SubscriberIDs(ctx context.Context, eventTypeID int64) ([]int64, error)

	// SubscribedTypes returns the event types the user actively subscribes to.
	SubscribedTypes(ctx context.Context, userID int64) ([]model.EventType, error)
}

// PendingMessageRepository defines the persistence interface for events
// stored for unreachable subscribers.
type PendingMessageRepository interface {
	// Store inserts a pending row and populates its ID.
	Store(ctx context.Context, p model.PendingMessage) (model.PendingMessage, error)

	// ForUser retrieves all pending rows for a subscriber, oldest first.
	// Returns an empty slice if none exist.
	ForUser(ctx context.Context, userID int64) ([]model.PendingMessage, error)

	// Update persists attempt bookkeeping for an existing row.
	Update(ctx context.Context, p model.PendingMessage) error

	// Delete removes a pending row. Deleting an already-removed row is not
	// an error; two sweeps may race on the same ID.
	Delete(ctx context.Context, id int64) error

	// FindRetryable finds rows whose last attempt (or creation, if never
	// attempted) is older than minAge and whose attempt count is below
	// maxAttempts, oldest first, bounded by limit.
	FindRetryable(ctx context.Context, minAge time.Duration, maxAttempts, limit int) ([]model.PendingMessage, error)
}

// DeliveryRepository defines the persistence interface for delivery records.
// One record tracks one (message, recipient) pair.
type DeliveryRepository interface {
	// Track upserts the status for a (message, recipient) pair.
	// Status transitions are last-write-wins.
	Track(ctx context.Context, messageID string, userID int64, status model.DeliveryStatus) error

	// Acknowledge marks the pair ACKNOWLEDGED. Idempotent; returns ErrNoData
	// if no record exists for the pair.
	Acknowledge(ctx context.Context, messageID string, userID int64) error

	// Find retrieves the record for a (message, recipient) pair.
	// Returns ErrNoData if not found.
	Find(ctx context.Context, messageID string, userID int64) (model.DeliveryRecord, error)

	// ListForMessage retrieves every record tracked for a message.
	// Returns an empty slice if none exist.
	ListForMessage(ctx context.Context, messageID string) ([]model.DeliveryRecord, error)
}

// NodeRepository defines the persistence interface for cluster membership
// rows. Every broker process upserts its own row and reads the others.
type NodeRepository interface {
	// Upsert inserts or refreshes this node's membership row.
	Upsert(ctx context.Context, n model.ClusterNode) (model.ClusterNode, error)

	// Heartbeat refreshes the node's last-heartbeat timestamp and alive flag.
	Heartbeat(ctx context.Context, nodeID string) error

	// Alive retrieves every node currently marked alive.
	Alive(ctx context.Context) ([]model.ClusterNode, error)

	// MarkDead clears the alive flag on a node whose heartbeat went stale.
	MarkDead(ctx context.Context, nodeID string) error
}

// StatsRepository provides the persisted counters behind GET SYSTEM STATUS.
type StatsRepository interface {
	// BrokerStats returns event and pending-message counts. The caller fills
	// in live-connection and uptime figures.
	BrokerStats(ctx context.Context) (model.BrokerStats, error)
}
