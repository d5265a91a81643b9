package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coregx/broker/model"
	"github.com/coregx/broker/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifications captures notification calls for assertions.
type recordingNotifications struct {
	mu        sync.Mutex
	failures  []int64
	exhausted []int64
	deadNodes []string
}

func (r *recordingNotifications) NotifyDeliveryFailure(_ context.Context, pm *model.PendingMessage, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, pm.ID)
	return nil
}

func (r *recordingNotifications) NotifyRetryExhausted(_ context.Context, pm model.PendingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = append(r.exhausted, pm.ID)
	return nil
}

func (r *recordingNotifications) NotifyNodeDown(_ context.Context, n model.ClusterNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadNodes = append(r.deadNodes, n.NodeID)
	return nil
}

// immediateStrategy retries with no spacing so sweeps act synchronously.
func immediateStrategy(maxAttempts int) retry.Strategy {
	return retry.Strategy{
		MaxAttempts:     maxAttempts,
		BaseDelay:       0,
		MaxDelay:        time.Minute,
		ExponentialBase: 1.0,
	}
}

func newTestScheduler(t *testing.T, te *testEngine, strategy retry.Strategy, n NotificationService) *RedeliveryScheduler {
	t.Helper()
	opts := []SchedulerOption{
		WithSchedulerRepository(te.pending),
		WithSchedulerEngine(te.engine),
		WithSchedulerLogger(&NoopLogger{}),
		WithSchedulerStrategy(strategy),
	}
	if n != nil {
		opts = append(opts, WithSchedulerNotifications(n))
	}
	s, err := NewRedeliveryScheduler(opts...)
	require.NoError(t, err)
	return s
}

func TestRedeliveryScheduler_RequiresDependencies(t *testing.T) {
	_, err := NewRedeliveryScheduler()
	assert.Error(t, err)

	_, err = NewRedeliveryScheduler(WithSchedulerRepository(newMemPendingRepo()))
	assert.Error(t, err, "engine and logger still missing")
}

func TestRedeliveryScheduler_EmptySweepIsNoop(t *testing.T) {
	te := newTestEngine(t)
	s := newTestScheduler(t, te, immediateStrategy(3), nil)

	delivered, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestRedeliveryScheduler_SweepDeliversToReconnectedUser(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	pm, err := te.pending.Store(ctx, model.NewPendingMessage(1, model.NewEvent(et.ID, "x")))
	require.NoError(t, err)

	conn := &fakeConn{}
	te.registry.Register(1, conn)

	s := newTestScheduler(t, te, immediateStrategy(3), nil)
	delivered, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, te.pending.count())
	assert.Len(t, conn.sent(), 1)

	rec, err := te.delivery.Find(ctx, pm.MessageID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, rec.Status)
}

func TestRedeliveryScheduler_SweepDropsRowsDeliveredByPeer(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	pm, err := te.pending.Store(ctx, model.NewPendingMessage(1, model.NewEvent(et.ID, "x")))
	require.NoError(t, err)

	// A cluster peer delivered this message to the user's connection on its
	// own node; the shared record is settled but the row stayed behind.
	require.NoError(t, te.delivery.Track(ctx, pm.MessageID, 1, model.StatusDelivered))

	conn := &fakeConn{}
	te.registry.Register(1, conn)

	notes := &recordingNotifications{}
	s := newTestScheduler(t, te, immediateStrategy(3), notes)
	_, err = s.Sweep(ctx)
	require.NoError(t, err)

	// No second delivery, no failure notification; the stale row is gone.
	assert.Empty(t, conn.sent())
	assert.Equal(t, 0, te.pending.count())
	assert.Empty(t, notes.failures)
}

func TestRedeliveryScheduler_FailedAttemptIsCountedAndNotified(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	pm, err := te.pending.Store(ctx, model.NewPendingMessage(1, model.NewEvent(et.ID, "x")))
	require.NoError(t, err)

	notes := &recordingNotifications{}
	s := newTestScheduler(t, te, immediateStrategy(3), notes)

	// User offline: the attempt fails and is recorded.
	delivered, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	stored, ok := te.pending.get(pm.ID)
	require.True(t, ok)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, []int64{pm.ID}, notes.failures)
	assert.Empty(t, notes.exhausted)
}

func TestRedeliveryScheduler_ExhaustionKeepsRowAndNotifies(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)
	pm, err := te.pending.Store(ctx, model.NewPendingMessage(1, model.NewEvent(et.ID, "x")))
	require.NoError(t, err)

	notes := &recordingNotifications{}
	s := newTestScheduler(t, te, immediateStrategy(2), notes)

	// Two sweeps with the user offline use up both attempts.
	_, err = s.Sweep(ctx)
	require.NoError(t, err)
	_, err = s.Sweep(ctx)
	require.NoError(t, err)

	// The row is kept, not deleted, and exhaustion was reported once.
	stored, ok := te.pending.get(pm.ID)
	require.True(t, ok, "exhausted row must stay visible")
	assert.Equal(t, 2, stored.AttemptCount)
	assert.True(t, stored.Exhausted(2))
	assert.Equal(t, []int64{pm.ID}, notes.exhausted)

	// Further sweeps skip the exhausted row entirely.
	_, err = s.Sweep(ctx)
	require.NoError(t, err)
	stored, _ = te.pending.get(pm.ID)
	assert.Equal(t, 2, stored.AttemptCount)
	assert.Equal(t, []int64{pm.ID}, notes.exhausted, "no duplicate exhaustion report")
}

func TestRedeliveryScheduler_BackoffDelaysNextAttempt(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	et, err := te.types.Create(ctx, model.NewEventType("orders", ""))
	require.NoError(t, err)

	pm := model.NewPendingMessage(1, model.NewEvent(et.ID, "x"))
	pm.MarkAttempt(ErrNotConnected)
	pm, err = te.pending.Store(ctx, pm)
	require.NoError(t, err)

	conn := &fakeConn{}
	te.registry.Register(1, conn)

	// An hour-long delay means the row just attempted is not ready yet.
	strategy := immediateStrategy(5)
	strategy.BaseDelay = time.Hour
	s := newTestScheduler(t, te, strategy, nil)

	delivered, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, te.pending.count())
}
