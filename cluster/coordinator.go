// Package cluster connects multiple broker processes into one logical
// broker. Membership lives in the shared database: every node periodically
// refreshes its own row and marks peers whose heartbeat went stale. Published
// events are forwarded to live peers over HTTP as JSON so each node can fan
// out to its own connected clients.
//
// Forwarding is a single hop: a node fans a received event out locally and
// never forwards it again, so two nodes cannot bounce an event between each
// other.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultStaleTimeout      = 30 * time.Second

	// EventsPath is the HTTP route peers POST forwarded events to.
	EventsPath = "/cluster/events"

	// HealthPath is the HTTP route used to probe a peer before declaring
	// it dead.
	HealthPath = "/cluster/health"
)

// healthStatus is the wire form of a health probe response.
type healthStatus struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"`
}

// remoteEvent is the wire form of a forwarded event.
type remoteEvent struct {
	EventTypeID int64  `json:"event_type_id"`
	MessageID   string `json:"message_id"`
	Payload     string `json:"payload"`
	Origin      string `json:"origin"`
}

// Coordinator maintains this node's cluster membership and moves published
// events between nodes. It implements broker.EventForwarder.
type Coordinator struct {
	self   model.ClusterNode
	nodes  broker.NodeRepository
	engine *broker.DeliveryEngine

	heartbeatInterval time.Duration
	staleTimeout      time.Duration

	logger       broker.Logger
	notification broker.NotificationService
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNode sets this node's identity and advertised address (required).
func WithNode(nodeID, host string, port int) CoordinatorOption {
	return func(c *Coordinator) {
		c.self = model.NewClusterNode(nodeID, host, port)
	}
}

// WithNodeRepository sets the membership repository (required).
func WithNodeRepository(nodes broker.NodeRepository) CoordinatorOption {
	return func(c *Coordinator) {
		c.nodes = nodes
	}
}

// WithEngine sets the delivery engine that fans out received events
// (required).
func WithEngine(engine *broker.DeliveryEngine) CoordinatorOption {
	return func(c *Coordinator) {
		c.engine = engine
	}
}

// WithHeartbeat overrides the membership heartbeat cadence. Optional,
// defaults to a 10s refresh with a 30s stale cutoff.
func WithHeartbeat(interval, staleTimeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.heartbeatInterval = interval
		c.staleTimeout = staleTimeout
	}
}

// WithLogger sets the logger. Optional, defaults to NoopLogger.
func WithLogger(logger broker.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithNotifications sets the service alerted when a peer is marked dead.
// Optional, defaults to no-op.
func WithNotifications(n broker.NotificationService) CoordinatorOption {
	return func(c *Coordinator) {
		c.notification = n
	}
}

// NewCoordinator creates a Coordinator with the given options.
func NewCoordinator(opts ...CoordinatorOption) (*Coordinator, error) {
	c := &Coordinator{
		heartbeatInterval: defaultHeartbeatInterval,
		staleTimeout:      defaultStaleTimeout,
		logger:            &broker.NoopLogger{},
		notification:      &broker.NoOpNotificationService{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.self.NodeID == "" {
		return nil, broker.NewError(broker.ErrCodeConfiguration, "node identity is required (use WithNode)")
	}
	if c.nodes == nil {
		return nil, broker.NewError(broker.ErrCodeConfiguration, "node repository is required (use WithNodeRepository)")
	}
	if c.engine == nil {
		return nil, broker.NewError(broker.ErrCodeConfiguration, "delivery engine is required (use WithEngine)")
	}

	return c, nil
}

// Join registers this node's membership row. Call once before Run.
func (c *Coordinator) Join(ctx context.Context) error {
	node, err := c.nodes.Upsert(ctx, c.self)
	if err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to join cluster", err)
	}
	c.self = node
	c.logger.Infof("Joined cluster as node %s (%s)", c.self.NodeID, c.self.Addr())
	return nil
}

// Run refreshes this node's heartbeat and prunes stale peers until ctx is
// canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Cluster coordinator stopped")
			return
		case <-ticker.C:
			c.heartbeat(ctx)
		}
	}
}

func (c *Coordinator) heartbeat(ctx context.Context) {
	if err := c.nodes.Heartbeat(ctx, c.self.NodeID); err != nil {
		c.logger.Errorf("Failed to refresh cluster heartbeat: %v", err)
	}

	peers, err := c.peers(ctx)
	if err != nil {
		c.logger.Errorf("Failed to load cluster members: %v", err)
		return
	}

	for _, peer := range peers {
		if !peer.Stale(c.staleTimeout) {
			continue
		}
		// A stale heartbeat row can also mean the peer lost its database
		// connection; probe it directly before declaring it dead.
		if err := c.probe(ctx, peer); err == nil {
			c.logger.Warnf("Node %s heartbeat is stale but node responds, keeping", peer.NodeID)
			continue
		}
		c.logger.Warnf("Node %s heartbeat is stale, marking dead", peer.NodeID)
		if err := c.nodes.MarkDead(ctx, peer.NodeID); err != nil {
			c.logger.Errorf("Failed to mark node %s dead: %v", peer.NodeID, err)
			continue
		}
		c.notification.NotifyNodeDown(ctx, peer)
	}
}

// probe asks a peer for its health status over HTTP.
func (c *Coordinator) probe(ctx context.Context, peer model.ClusterNode) error {
	var status healthStatus
	url := fmt.Sprintf("http://%s%s", peer.Addr(), HealthPath)
	if err := GetJSON(ctx, url, &status); err != nil {
		return err
	}
	if status.NodeID != peer.NodeID {
		return fmt.Errorf("node %s answered as %s", peer.NodeID, status.NodeID)
	}
	return nil
}

// peers returns the live members excluding this node.
func (c *Coordinator) peers(ctx context.Context) ([]model.ClusterNode, error) {
	members, err := c.nodes.Alive(ctx)
	if err != nil {
		if broker.IsNoData(err) {
			return nil, nil
		}
		return nil, err
	}

	peers := members[:0]
	for _, m := range members {
		if m.NodeID != c.self.NodeID {
			peers = append(peers, m)
		}
	}
	return peers, nil
}

// ForwardEvent sends a locally published event to every live peer. Failures
// are logged and skipped: the peer's clients still have pending rows in the
// shared database, so a missed forward delays delivery rather than losing it.
func (c *Coordinator) ForwardEvent(ctx context.Context, event model.Event) {
	peers, err := c.peers(ctx)
	if err != nil {
		c.logger.Errorf("Failed to load peers for event forward: %v", err)
		return
	}

	msg := remoteEvent{
		EventTypeID: event.EventTypeID,
		MessageID:   event.MessageID,
		Payload:     event.Payload,
		Origin:      c.self.NodeID,
	}

	for _, peer := range peers {
		url := fmt.Sprintf("http://%s%s", peer.Addr(), EventsPath)
		if err := PostJSON(ctx, url, msg, nil); err != nil {
			c.logger.Warnf("Failed to forward event %s to node %s: %v", event.MessageID, peer.NodeID, err)
			continue
		}
		c.logger.Debugf("Forwarded event %s to node %s", event.MessageID, peer.NodeID)
	}
}

// Handler returns the HTTP handler peers POST forwarded events to. A
// received event is fanned out to this node's local subscribers only; it is
// not persisted again and never forwarded onward.
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, c.handleEvent)
	mux.HandleFunc(HealthPath, c.handleHealth)
	return mux
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthStatus{NodeID: c.self.NodeID, Status: "RUNNING"})
}

func (c *Coordinator) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg remoteEvent
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if msg.EventTypeID <= 0 || msg.MessageID == "" {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	c.logger.Debugf("Received event %s from node %s", msg.MessageID, msg.Origin)

	event := model.Event{
		EventTypeID: msg.EventTypeID,
		MessageID:   msg.MessageID,
		Payload:     msg.Payload,
	}
	c.engine.Fanout(r.Context(), event)

	w.WriteHeader(http.StatusNoContent)
}
