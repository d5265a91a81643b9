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

// NodeRepository implements broker.NodeRepository using Relica.
type NodeRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewNodeRepository creates a new NodeRepository with default table prefix.
func NewNodeRepository(sqlDB *sql.DB, driverName string) *NodeRepository {
	return &NodeRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewNodeRepositoryWithPrefix creates a new NodeRepository with custom table prefix.
func NewNodeRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *NodeRepository {
	return &NodeRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *NodeRepository) tableName() string {
	return r.tablePrefix + "cluster_node"
}

// Upsert inserts or refreshes a node's membership row, keyed by node_id.
func (r *NodeRepository) Upsert(ctx context.Context, n model.ClusterNode) (model.ClusterNode, error) {
	var existing model.ClusterNode
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("node_id = ?", n.NodeID).
		WithContext(ctx).
		One(&existing)

	if errors.Is(err, sql.ErrNoRows) {
		if err := r.db.WithContext(ctx).Model(&n).Table(r.tableName()).Insert(); err != nil {
			return n, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert cluster node", err)
		}
		return n, nil
	}
	if err != nil {
		return n, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load cluster node", err)
	}

	n.ID = existing.ID
	if err := r.db.WithContext(ctx).Model(&n).Table(r.tableName()).Update(); err != nil {
		return n, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update cluster node", err)
	}
	return n, nil
}

// Heartbeat refreshes the node's last-heartbeat timestamp and alive flag.
func (r *NodeRepository) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"last_heartbeat": time.Now(),
			"alive":          true,
		}).
		Where("node_id = ?", nodeID).
		WithContext(ctx).
		Execute()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to refresh node heartbeat", err)
	}
	return nil
}

// Alive retrieves every node currently marked alive.
func (r *NodeRepository) Alive(ctx context.Context) ([]model.ClusterNode, error) {
	var nodes []model.ClusterNode
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("alive = ?", true).
		OrderBy("node_id ASC").
		WithContext(ctx).
		All(&nodes)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list cluster nodes", err)
	}
	return nodes, nil
}

// MarkDead clears the alive flag on a node.
func (r *NodeRepository) MarkDead(ctx context.Context, nodeID string) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{"alive": false}).
		Where("node_id = ?", nodeID).
		WithContext(ctx).
		Execute()
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to mark node dead", err)
	}
	return nil
}
