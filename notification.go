package broker

import (
	"context"

	"github.com/coregx/broker/model"
)

// NotificationService defines an optional interface for surfacing broker
// events (delivery failures, exhausted retries, dead cluster peers).
//
// Implementations might send emails, Slack messages, or feed a monitoring
// system.
type NotificationService interface {
	// NotifyDeliveryFailure is called after a failed redelivery attempt.
	// Informational; the row may still be retried.
	NotifyDeliveryFailure(ctx context.Context, pm *model.PendingMessage, err error) error

	// NotifyRetryExhausted is called when a pending message has used up its
	// delivery attempts and will no longer be retried. The row is kept; this
	// is the observability signal that replaces silent loss.
	NotifyRetryExhausted(ctx context.Context, pm model.PendingMessage) error

	// NotifyNodeDown is called when a cluster peer's heartbeat goes stale
	// and the node is marked dead.
	NotifyNodeDown(ctx context.Context, node model.ClusterNode) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyDeliveryFailure does nothing.
func (n *NoOpNotificationService) NotifyDeliveryFailure(_ context.Context, _ *model.PendingMessage, _ error) error {
	return nil
}

// NotifyRetryExhausted does nothing.
func (n *NoOpNotificationService) NotifyRetryExhausted(_ context.Context, _ model.PendingMessage) error {
	return nil
}

// NotifyNodeDown does nothing.
func (n *NoOpNotificationService) NotifyNodeDown(_ context.Context, _ model.ClusterNode) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs
// notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyDeliveryFailure logs the failed attempt.
func (n *LoggingNotificationService) NotifyDeliveryFailure(_ context.Context, pm *model.PendingMessage, err error) error {
	n.logger.Warnf("Delivery failed: pending_id=%d, message_id=%s, user_id=%d, attempt=%d, error=%v",
		pm.ID, pm.MessageID, pm.UserID, pm.AttemptCount, err)
	return nil
}

// NotifyRetryExhausted logs the stuck row.
func (n *LoggingNotificationService) NotifyRetryExhausted(_ context.Context, pm model.PendingMessage) error {
	n.logger.Errorf("Message undeliverable after %d attempts: pending_id=%d, message_id=%s, user_id=%d",
		pm.AttemptCount, pm.ID, pm.MessageID, pm.UserID)
	return nil
}

// NotifyNodeDown logs the dead peer.
func (n *LoggingNotificationService) NotifyNodeDown(_ context.Context, node model.ClusterNode) error {
	n.logger.Warnf("Cluster node down: node_id=%s, addr=%s, last_heartbeat=%v",
		node.NodeID, node.Addr(), node.LastHeartbeat)
	return nil
}
