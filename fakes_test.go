package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/broker/model"
)

// fakeConn records sent lines and can be told to fail.
type fakeConn struct {
	mu      sync.Mutex
	lines   []string
	sendErr error
	closed  bool
}

func (c *fakeConn) SendLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]model.User)}
}

func (r *memUserRepo) Save(_ context.Context, u model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return u, NewError(ErrCodeDatabase, "username already taken")
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.users[u.ID] = u
	return u, nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, ErrNoData
}

// memEventTypeRepo is an in-memory EventTypeRepository.
type memEventTypeRepo struct {
	mu     sync.Mutex
	nextID int64
	types  map[int64]model.EventType
}

func newMemEventTypeRepo() *memEventTypeRepo {
	return &memEventTypeRepo{types: make(map[int64]model.EventType)}
}

func (r *memEventTypeRepo) Create(_ context.Context, t model.EventType) (model.EventType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	r.types[t.ID] = t
	return t, nil
}

func (r *memEventTypeRepo) FindByID(_ context.Context, id int64) (model.EventType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[id]
	if !ok {
		return model.EventType{}, ErrNoData
	}
	return t, nil
}

func (r *memEventTypeRepo) FindIDByName(_ context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.types {
		if t.Name == name {
			return t.ID, nil
		}
	}
	return 0, ErrNoData
}

func (r *memEventTypeRepo) All(_ context.Context) ([]model.EventType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.types))
	for id := int64(1); id <= r.nextID; id++ {
		if t, ok := r.types[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// memEventRepo is an in-memory EventRepository.
type memEventRepo struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]model.Event
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[int64]model.Event)}
}

func (r *memEventRepo) Create(_ context.Context, e model.Event) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.events[e.ID] = e
	return e, nil
}

func (r *memEventRepo) Delete(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.events {
		if e.MessageID == messageID {
			delete(r.events, id)
		}
	}
	return nil
}

func (r *memEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// memSubscriptionRepo is an in-memory SubscriptionRepository.
type memSubscriptionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{rows: make(map[int64]*model.Subscription)}
}

func (r *memSubscriptionRepo) find(userID, eventTypeID int64) *model.Subscription {
	for _, s := range r.rows {
		if s.UserID == userID && s.EventTypeID == eventTypeID {
			return s
		}
	}
	return nil
}

func (r *memSubscriptionRepo) Create(_ context.Context, s model.Subscription) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(s.UserID, s.EventTypeID) != nil {
		return s, NewError(ErrCodeDatabase, "subscription pair already exists")
	}
	r.nextID++
	s.ID = r.nextID
	r.rows[s.ID] = &s
	return s, nil
}

func (r *memSubscriptionRepo) IsActive(_ context.Context, userID, eventTypeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(userID, eventTypeID)
	return s != nil && s.IsActive, nil
}

func (r *memSubscriptionRepo) HasInactive(_ context.Context, userID, eventTypeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(userID, eventTypeID)
	return s != nil && !s.IsActive, nil
}

func (r *memSubscriptionRepo) Reactivate(_ context.Context, userID, eventTypeID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(userID, eventTypeID)
	if s == nil {
		return ErrNoData
	}
	s.Reactivate()
	return nil
}

func (r *memSubscriptionRepo) Deactivate(_ context.Context, userID, eventTypeID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(userID, eventTypeID)
	if s == nil || !s.IsActive {
		return ErrNoData
	}
	s.Deactivate()
	return nil
}

func (r *memSubscriptionRepo) SubscriberIDs(_ context.Context, eventTypeID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for rowID := int64(1); rowID <= r.nextID; rowID++ {
		s, ok := r.rows[rowID]
		if ok && s.EventTypeID == eventTypeID && s.IsActive {
			ids = append(ids, s.UserID)
		}
	}
	return ids, nil
}

func (r *memSubscriptionRepo) SubscribedTypes(_ context.Context, userID int64) ([]model.EventType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := []model.EventType{}
	for rowID := int64(1); rowID <= r.nextID; rowID++ {
		s, ok := r.rows[rowID]
		if ok && s.UserID == userID && s.IsActive {
			types = append(types, model.EventType{ID: s.EventTypeID})
		}
	}
	return types, nil
}

// memPendingRepo is an in-memory PendingMessageRepository.
type memPendingRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.PendingMessage
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{rows: make(map[int64]model.PendingMessage)}
}

func (r *memPendingRepo) Store(_ context.Context, p model.PendingMessage) (model.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.rows[p.ID] = p
	return p, nil
}

func (r *memPendingRepo) ForUser(_ context.Context, userID int64) ([]model.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.PendingMessage
	for id := int64(1); id <= r.nextID; id++ {
		p, ok := r.rows[id]
		if ok && p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPendingRepo) Update(_ context.Context, p model.PendingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; !ok {
		return ErrNoData
	}
	r.rows[p.ID] = p
	return nil
}

func (r *memPendingRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memPendingRepo) FindRetryable(_ context.Context, minAge time.Duration, maxAttempts, limit int) ([]model.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-minAge)
	var out []model.PendingMessage
	for id := int64(1); id <= r.nextID && len(out) < limit; id++ {
		p, ok := r.rows[id]
		if !ok || p.AttemptCount >= maxAttempts {
			continue
		}
		since := p.CreatedAt
		if p.LastAttemptAt.Valid {
			since = p.LastAttemptAt.Time
		}
		if since.Before(cutoff) || since.Equal(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPendingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memPendingRepo) get(id int64) (model.PendingMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	return p, ok
}

// memDeliveryRepo is an in-memory DeliveryRepository.
type memDeliveryRepo struct {
	mu   sync.Mutex
	rows map[string]model.DeliveryRecord
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{rows: make(map[string]model.DeliveryRecord)}
}

func deliveryKey(messageID string, userID int64) string {
	return fmt.Sprintf("%s/%d", messageID, userID)
}

func (r *memDeliveryRepo) Track(_ context.Context, messageID string, userID int64, status model.DeliveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deliveryKey(messageID, userID)
	rec, ok := r.rows[key]
	if !ok {
		rec = model.NewDeliveryRecord(messageID, userID, status)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	r.rows[key] = rec
	return nil
}

func (r *memDeliveryRepo) Acknowledge(_ context.Context, messageID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deliveryKey(messageID, userID)
	rec, ok := r.rows[key]
	if !ok {
		return ErrNoData
	}
	rec.Status = model.StatusAcknowledged
	rec.UpdatedAt = time.Now()
	r.rows[key] = rec
	return nil
}

func (r *memDeliveryRepo) Find(_ context.Context, messageID string, userID int64) (model.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[deliveryKey(messageID, userID)]
	if !ok {
		return model.DeliveryRecord{}, ErrNoData
	}
	return rec, nil
}

func (r *memDeliveryRepo) ListForMessage(_ context.Context, messageID string) ([]model.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := []model.DeliveryRecord{}
	for _, rec := range r.rows {
		if rec.MessageID == messageID {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// testEngine wires a DeliveryEngine over fresh in-memory repositories.
type testEngine struct {
	engine   *DeliveryEngine
	registry *ConnRegistry
	subs     *memSubscriptionRepo
	pending  *memPendingRepo
	delivery *memDeliveryRepo
	events   *memEventRepo
	types    *memEventTypeRepo
}

func newTestEngine(t interface{ Fatalf(string, ...interface{}) }) *testEngine {
	te := &testEngine{
		registry: NewConnRegistry(RegistryConfig{}, nil),
		subs:     newMemSubscriptionRepo(),
		pending:  newMemPendingRepo(),
		delivery: newMemDeliveryRepo(),
		events:   newMemEventRepo(),
		types:    newMemEventTypeRepo(),
	}

	engine, err := NewDeliveryEngine(
		WithDeliveryRepositories(te.subs, te.pending, te.delivery, te.events, te.types),
		WithDeliveryRegistry(te.registry),
		WithDeliveryLogger(&NoopLogger{}),
	)
	if err != nil {
		t.Fatalf("failed to create delivery engine: %v", err)
	}
	te.engine = engine
	return te
}
