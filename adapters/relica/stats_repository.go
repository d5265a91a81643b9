package relica

import (
	"context"
	"database/sql"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// StatsRepository implements broker.StatsRepository using Relica.
type StatsRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewStatsRepository creates a new StatsRepository with default table prefix.
func NewStatsRepository(sqlDB *sql.DB, driverName string) *StatsRepository {
	return &StatsRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewStatsRepositoryWithPrefix creates a new StatsRepository with custom table prefix.
func NewStatsRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *StatsRepository {
	return &StatsRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

// rowCount receives COUNT(*) scans.
type rowCount struct {
	Cnt int64 `db:"cnt"`
}

// BrokerStats returns the persisted counters behind the system status block.
func (r *StatsRepository) BrokerStats(ctx context.Context) (model.BrokerStats, error) {
	var stats model.BrokerStats

	events, err := r.count(ctx, r.tablePrefix+"event")
	if err != nil {
		return stats, err
	}
	pending, err := r.count(ctx, r.tablePrefix+"pending_message")
	if err != nil {
		return stats, err
	}

	stats.EventCount = events
	stats.PendingCount = pending
	return stats, nil
}

func (r *StatsRepository) count(ctx context.Context, table string) (int64, error) {
	var c rowCount
	err := r.db.WithContext(ctx).Select("COUNT(*) AS cnt").
		From(table).
		WithContext(ctx).
		One(&c)
	if err != nil && err != sql.ErrNoRows {
		return 0, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to count "+table, err)
	}
	return c.Cnt, nil
}
