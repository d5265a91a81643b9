package relica

import (
	"context"
	"database/sql"
	"errors"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// EventRepository implements broker.EventRepository using Relica.
type EventRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewEventRepository creates a new EventRepository with default table prefix.
func NewEventRepository(sqlDB *sql.DB, driverName string) *EventRepository {
	return &EventRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewEventRepositoryWithPrefix creates a new EventRepository with custom table prefix.
func NewEventRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *EventRepository {
	return &EventRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *EventRepository) tableName() string {
	return r.tablePrefix + "event"
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e model.Event) (model.Event, error) {
	err := r.db.WithContext(ctx).Model(&e).Table(r.tableName()).Insert()
	if err != nil {
		return e, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert event", err)
	}
	return e, nil
}

// Delete permanently removes the event with the given broker message ID.
// Deleting an event that is already gone is not an error.
func (r *EventRepository) Delete(ctx context.Context, messageID string) error {
	var e model.Event
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("message_id = ?", messageID).
		WithContext(ctx).
		One(&e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load event", err)
	}

	if err := r.db.WithContext(ctx).Model(&e).Table(r.tableName()).Delete(); err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete event", err)
	}
	return nil
}
