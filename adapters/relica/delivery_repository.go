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

// DeliveryRepository implements broker.DeliveryRepository using Relica.
type DeliveryRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewDeliveryRepository creates a new DeliveryRepository with default table prefix.
func NewDeliveryRepository(sqlDB *sql.DB, driverName string) *DeliveryRepository {
	return &DeliveryRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewDeliveryRepositoryWithPrefix creates a new DeliveryRepository with custom table prefix.
func NewDeliveryRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *DeliveryRepository {
	return &DeliveryRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *DeliveryRepository) tableName() string {
	return r.tablePrefix + "delivery_record"
}

// Track upserts the delivery status for a (message, recipient) pair.
func (r *DeliveryRepository) Track(ctx context.Context, messageID string, userID int64, status model.DeliveryStatus) error {
	existing, err := r.Find(ctx, messageID, userID)
	if err != nil {
		if !broker.IsNoData(err) {
			return err
		}
		rec := model.NewDeliveryRecord(messageID, userID, status)
		if err := r.db.WithContext(ctx).Model(&rec).Table(r.tableName()).Insert(); err != nil {
			return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert delivery record", err)
		}
		return nil
	}

	return r.setStatus(ctx, existing.ID, status)
}

// Acknowledge marks the pair ACKNOWLEDGED.
func (r *DeliveryRepository) Acknowledge(ctx context.Context, messageID string, userID int64) error {
	existing, err := r.Find(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if existing.Status == model.StatusAcknowledged {
		return nil
	}
	return r.setStatus(ctx, existing.ID, model.StatusAcknowledged)
}

func (r *DeliveryRepository) setStatus(ctx context.Context, id int64, status model.DeliveryStatus) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		}).
		Where("id = ?", id).
		WithContext(ctx).
		Execute()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update delivery record", err)
	}
	return nil
}

// Find retrieves the record for a (message, recipient) pair.
func (r *DeliveryRepository) Find(ctx context.Context, messageID string, userID int64) (model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		WithContext(ctx).
		One(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, broker.ErrNoData
	}
	if err != nil {
		return rec, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load delivery record", err)
	}
	return rec, nil
}

// ListForMessage retrieves every record tracked for a message.
func (r *DeliveryRepository) ListForMessage(ctx context.Context, messageID string) ([]model.DeliveryRecord, error) {
	var recs []model.DeliveryRecord
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("message_id = ?", messageID).
		WithContext(ctx).
		All(&recs)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list delivery records", err)
	}
	return recs, nil
}
