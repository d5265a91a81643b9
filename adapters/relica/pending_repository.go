package relica

import (
	"context"
	"database/sql"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// PendingMessageRepository implements broker.PendingMessageRepository using Relica.
type PendingMessageRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewPendingMessageRepository creates a new PendingMessageRepository with default table prefix.
func NewPendingMessageRepository(sqlDB *sql.DB, driverName string) *PendingMessageRepository {
	return &PendingMessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewPendingMessageRepositoryWithPrefix creates a new PendingMessageRepository with custom table prefix.
func NewPendingMessageRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *PendingMessageRepository {
	return &PendingMessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *PendingMessageRepository) tableName() string {
	return r.tablePrefix + "pending_message"
}

// Store inserts a pending row.
func (r *PendingMessageRepository) Store(ctx context.Context, p model.PendingMessage) (model.PendingMessage, error) {
	err := r.db.WithContext(ctx).Model(&p).Table(r.tableName()).Insert()
	if err != nil {
		return p, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert pending message", err)
	}
	return p, nil
}

// ForUser retrieves all pending rows for a subscriber, oldest first.
func (r *PendingMessageRepository) ForUser(ctx context.Context, userID int64) ([]model.PendingMessage, error) {
	var pending []model.PendingMessage
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("user_id = ?", userID).
		OrderBy("created_at ASC").
		WithContext(ctx).
		All(&pending)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find pending messages", err)
	}
	return pending, nil
}

// Update persists attempt bookkeeping for an existing row.
func (r *PendingMessageRepository) Update(ctx context.Context, p model.PendingMessage) error {
	err := r.db.WithContext(ctx).Model(&p).Table(r.tableName()).Update()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update pending message", err)
	}
	return nil
}

// Delete removes a pending row. Deleting a row that is already gone is not
// an error.
func (r *PendingMessageRepository) Delete(ctx context.Context, id int64) error {
	// Delete using Model() API - auto WHERE id = ?
	p := model.PendingMessage{ID: id}
	err := r.db.WithContext(ctx).Model(&p).Table(r.tableName()).Delete()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete pending message", err)
	}
	return nil
}

// FindRetryable finds rows ready for a redelivery attempt: the last attempt
// (or creation, if never attempted) is older than minAge and the attempt
// count is below maxAttempts.
func (r *PendingMessageRepository) FindRetryable(ctx context.Context, minAge time.Duration, maxAttempts, limit int) ([]model.PendingMessage, error) {
	var pending []model.PendingMessage
	cutoff := time.Now().Add(-minAge)

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("attempt_count < ? AND COALESCE(last_attempt_at, created_at) <= ?", maxAttempts, cutoff).
		OrderBy("created_at ASC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&pending)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find retryable messages", err)
	}
	return pending, nil
}
