package relica

import (
	"context"
	"database/sql"
	"errors"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// EventTypeRepository implements broker.EventTypeRepository using Relica.
type EventTypeRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewEventTypeRepository creates a new EventTypeRepository with default table prefix.
func NewEventTypeRepository(sqlDB *sql.DB, driverName string) *EventTypeRepository {
	return &EventTypeRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewEventTypeRepositoryWithPrefix creates a new EventTypeRepository with custom table prefix.
func NewEventTypeRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *EventTypeRepository {
	return &EventTypeRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *EventTypeRepository) tableName() string {
	return r.tablePrefix + "event_type"
}

// Create inserts a new event type.
func (r *EventTypeRepository) Create(ctx context.Context, t model.EventType) (model.EventType, error) {
	err := r.db.WithContext(ctx).Model(&t).Table(r.tableName()).Insert()
	if err != nil {
		return t, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert event type", err)
	}
	return t, nil
}

// FindByID retrieves an event type by ID.
func (r *EventTypeRepository) FindByID(ctx context.Context, id int64) (model.EventType, error) {
	var t model.EventType
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return t, broker.ErrNoData
	}
	if err != nil {
		return t, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load event type", err)
	}
	return t, nil
}

// FindIDByName retrieves the ID of the event type with the given name.
func (r *EventTypeRepository) FindIDByName(ctx context.Context, name string) (int64, error) {
	var t model.EventType
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("name = ?", name).One(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, broker.ErrNoData
	}
	if err != nil {
		return 0, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find event type by name", err)
	}
	return t.ID, nil
}

// All retrieves every event type definition.
func (r *EventTypeRepository) All(ctx context.Context) ([]model.EventType, error) {
	var types []model.EventType
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		OrderBy("id ASC").
		WithContext(ctx).
		All(&types)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list event types", err)
	}
	return types, nil
}
