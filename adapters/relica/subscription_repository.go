package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// SubscriptionRepository implements broker.SubscriptionRepository using Relica.
type SubscriptionRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSubscriptionRepository creates a new SubscriptionRepository with default table prefix.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewSubscriptionRepositoryWithPrefix creates a new SubscriptionRepository with custom table prefix.
func NewSubscriptionRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SubscriptionRepository) tableName() string {
	return r.tablePrefix + "subscription"
}

// Create inserts a new active subscription. The (user_id, event_type_id)
// pair carries a unique index; a duplicate insert surfaces as a database
// error and callers re-check the pair's state.
func (r *SubscriptionRepository) Create(ctx context.Context, s model.Subscription) (model.Subscription, error) {
	err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Insert()
	if err != nil {
		return s, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert subscription", err)
	}
	return s, nil
}

// IsActive reports whether an active subscription exists for the pair.
func (r *SubscriptionRepository) IsActive(ctx context.Context, userID, eventTypeID int64) (bool, error) {
	return r.exists(ctx, userID, eventTypeID, true)
}

// HasInactive reports whether a deactivated row exists for the pair.
func (r *SubscriptionRepository) HasInactive(ctx context.Context, userID, eventTypeID int64) (bool, error) {
	return r.exists(ctx, userID, eventTypeID, false)
}

func (r *SubscriptionRepository) exists(ctx context.Context, userID, eventTypeID int64, active bool) (bool, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("user_id = ? AND event_type_id = ? AND is_active = ?", userID, eventTypeID, active).
		WithContext(ctx).
		One(&sub)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to check subscription", err)
	}
	return true, nil
}

// Reactivate re-enables a deactivated row for the pair.
func (r *SubscriptionRepository) Reactivate(ctx context.Context, userID, eventTypeID int64) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"is_active":  true,
			"deleted_at": nil,
		}).
		Where("user_id = ? AND event_type_id = ?", userID, eventTypeID).
		WithContext(ctx).
		Execute()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to reactivate subscription", err)
	}
	return nil
}

// Deactivate soft-deletes the active row for the pair.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, userID, eventTypeID int64) error {
	result, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"is_active":  false,
			"deleted_at": time.Now(),
		}).
		Where("user_id = ? AND event_type_id = ? AND is_active = ?", userID, eventTypeID, true).
		WithContext(ctx).
		Execute()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to deactivate subscription", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return broker.ErrNoData
	}
	return nil
}

// SubscriberIDs returns the user IDs with an active subscription to the
// event type.
func (r *SubscriptionRepository) SubscriberIDs(ctx context.Context, eventTypeID int64) ([]int64, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("event_type_id = ? AND is_active = ?", eventTypeID, true).
		WithContext(ctx).
		All(&subs)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find subscribers", err)
	}

	ids := make([]int64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.UserID)
	}
	return ids, nil
}

// SubscribedTypes returns the event types the user actively subscribes to.
func (r *SubscriptionRepository) SubscribedTypes(ctx context.Context, userID int64) ([]model.EventType, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("user_id = ? AND is_active = ?", userID, true).
		OrderBy("event_type_id ASC").
		WithContext(ctx).
		All(&subs)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find subscriptions", err)
	}

	types := make([]model.EventType, 0, len(subs))
	for _, s := range subs {
		var t model.EventType
		err := r.db.WithContext(ctx).Select("*").
			From(r.tablePrefix + "event_type").
			Where("id = ?", s.EventTypeID).
			WithContext(ctx).
			One(&t)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load subscribed event type", err)
		}
		types = append(types, t)
	}
	return types, nil
}
