package model

import (
	"fmt"
	"time"
)

// ClusterNode is a sibling broker process participating in cross-node
// fan-out. Nodes announce themselves on startup, refresh their heartbeat row
// periodically, and are considered dead once the heartbeat goes stale past the
// cluster timeout.
type ClusterNode struct {
	ID            int64     `json:"id"`
	NodeID        string    `json:"nodeID" db:"node_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	LastHeartbeat time.Time `json:"lastHeartbeat" db:"last_heartbeat"`
	Alive         bool      `json:"alive"`
}

// TableName returns the database table name for ClusterNode.
func (n ClusterNode) TableName() string {
	return tablePrefix + "cluster_node"
}

// NewClusterNode creates a membership row for this process.
func NewClusterNode(nodeID, host string, port int) ClusterNode {
	return ClusterNode{
		NodeID:        nodeID,
		Host:          host,
		Port:          port,
		LastHeartbeat: time.Now(),
		Alive:         true,
	}
}

// Addr returns the host:port the node's cluster endpoint listens on.
func (n ClusterNode) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Stale reports whether the node has been silent longer than timeout.
func (n ClusterNode) Stale(timeout time.Duration) bool {
	return time.Since(n.LastHeartbeat) > timeout
}
