package broker

import (
	"context"
	"time"

	"github.com/coregx/broker/model"
	"github.com/coregx/broker/retry"
)

// RedeliveryScheduler retries pending and failed deliveries in the
// background. On a fixed check interval it scans pending rows older than the
// redelivery delay and re-attempts each through the delivery engine, up to
// the strategy's maximum attempt count. Rows that exhaust their attempts are
// kept and reported, never deleted: a stuck queue entry is preferred over
// silent message loss.
//
// The scheduler runs independently of any connection's lifecycle; an empty
// scan is a no-op sweep and a persistence error is logged and retried next
// cycle.
type RedeliveryScheduler struct {
	pendingRepo  PendingMessageRepository
	engine       *DeliveryEngine
	strategy     retry.Strategy
	logger       Logger
	notification NotificationService
	batchSize    int
}

// SchedulerOption configures a RedeliveryScheduler.
type SchedulerOption func(*RedeliveryScheduler) error

// NewRedeliveryScheduler creates a new scheduler with the provided options.
//
// Required options:
//   - WithSchedulerRepository: pending message repository
//   - WithSchedulerEngine: the delivery engine
//   - WithSchedulerLogger: logger instance
//
// Optional options:
//   - WithSchedulerStrategy: retry policy (default: retry.DefaultStrategy())
//   - WithSchedulerBatchSize: scan batch size (default: 100)
//   - WithSchedulerNotifications: notification hooks (default: no-op)
func NewRedeliveryScheduler(opts ...SchedulerOption) (*RedeliveryScheduler, error) {
	s := &RedeliveryScheduler{
		strategy:     retry.DefaultStrategy(),
		batchSize:    100,
		notification: &NoOpNotificationService{},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply scheduler option", err)
		}
	}

	if s.pendingRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "PendingMessageRepository is required (use WithSchedulerRepository)")
	}
	if s.engine == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryEngine is required (use WithSchedulerEngine)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithSchedulerLogger)")
	}

	return s, nil
}

// WithSchedulerRepository sets the pending message repository.
func WithSchedulerRepository(pendingRepo PendingMessageRepository) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		if pendingRepo == nil {
			return NewError(ErrCodeConfiguration, "pendingRepo cannot be nil")
		}
		s.pendingRepo = pendingRepo
		return nil
	}
}

// WithSchedulerEngine sets the delivery engine used for send attempts.
func WithSchedulerEngine(engine *DeliveryEngine) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		if engine == nil {
			return NewError(ErrCodeConfiguration, "engine cannot be nil")
		}
		s.engine = engine
		return nil
	}
}

// WithSchedulerLogger sets the logger instance.
func WithSchedulerLogger(logger Logger) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		if logger == nil {
			return NewError(ErrCodeConfiguration, "logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithSchedulerStrategy sets a custom retry policy.
func WithSchedulerStrategy(strategy retry.Strategy) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		s.strategy = strategy
		return nil
	}
}

// WithSchedulerBatchSize sets the number of pending rows scanned per sweep.
func WithSchedulerBatchSize(size int) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		if size <= 0 {
			return NewError(ErrCodeConfiguration, "batch size must be > 0")
		}
		s.batchSize = size
		return nil
	}
}

// WithSchedulerNotifications sets the notification hooks fired on delivery
// failures and retry exhaustion.
func WithSchedulerNotifications(service NotificationService) SchedulerOption {
	return func(s *RedeliveryScheduler) error {
		if service == nil {
			return NewError(ErrCodeConfiguration, "notification service cannot be nil")
		}
		s.notification = service
		return nil
	}
}

// Run drives the scheduler until the context is canceled, sweeping every
// checkInterval.
//
// This method blocks and should typically be run in a goroutine.
func (s *RedeliveryScheduler) Run(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	s.logger.Infof("Redelivery scheduler started (check=%v, maxAttempts=%d)",
		checkInterval, s.strategy.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Redelivery scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Errorf("Redelivery sweep failed: %v", err)
			} else if n > 0 {
				s.logger.Infof("Redelivery sweep delivered %d messages", n)
			}
		}
	}
}

// Sweep performs one redelivery pass and returns the number of messages
// successfully delivered. Individual row failures are recorded and do not
// stop the batch.
func (s *RedeliveryScheduler) Sweep(ctx context.Context) (int, error) {
	rows, err := s.pendingRepo.FindRetryable(ctx, s.strategy.BaseDelay, s.strategy.MaxAttempts, s.batchSize)
	if err != nil {
		if IsNoData(err) {
			return 0, nil
		}
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to find retryable messages", err)
	}

	delivered := 0
	for i := range rows {
		if !s.ready(rows[i]) {
			continue
		}

		updated, err := s.engine.Redeliver(ctx, rows[i])
		if err != nil {
			s.logger.Debugf("Redelivery of pending row %d failed: %v", rows[i].ID, err)
			if notifyErr := s.notification.NotifyDeliveryFailure(ctx, &updated, err); notifyErr != nil {
				s.logger.Warnf("Failed to send delivery failure notification: %v", notifyErr)
			}
			if updated.Exhausted(s.strategy.MaxAttempts) {
				// Keep-and-report: the row stays, but stops being retried.
				s.logger.Warnf("Pending row %d exhausted %d delivery attempts, leaving undelivered",
					updated.ID, updated.AttemptCount)
				if notifyErr := s.notification.NotifyRetryExhausted(ctx, updated); notifyErr != nil {
					s.logger.Warnf("Failed to send retry exhaustion notification: %v", notifyErr)
				}
			}
			continue
		}
		delivered++
	}

	return delivered, nil
}

// ready applies the per-row backoff: a row is retried only once the
// strategy's delay for its next attempt has elapsed since the last attempt
// (or creation, if never attempted).
func (s *RedeliveryScheduler) ready(pm model.PendingMessage) bool {
	since := pm.CreatedAt
	if pm.LastAttemptAt.Valid {
		since = pm.LastAttemptAt.Time
	}
	return time.Since(since) >= s.strategy.Delay(pm.AttemptCount+1)
}
