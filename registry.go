package broker

import (
	"context"
	"sync"
	"time"
)

// RegistryConfig tunes the heartbeat sweep of a ConnRegistry.
// Zero values fall back to the defaults below.
type RegistryConfig struct {
	// PingInterval is how often the sweep sends a PING to every connection.
	PingInterval time.Duration

	// MaxMissed is the number of consecutive sweeps without client activity
	// after which a connection is evicted.
	MaxMissed int

	// IdleTimeout is the absolute silence threshold. A connection with no
	// inbound activity for longer than this is evicted even if it never
	// errored, catching clients that ignore PING but also send nothing.
	IdleTimeout time.Duration
}

const (
	defaultPingInterval = 10 * time.Second
	defaultMaxMissed    = 3
	defaultIdleTimeout  = 30 * time.Second
)

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = defaultMaxMissed
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return c
}

// connEntry pairs a live handle with its liveness bookkeeping. The entry
// mutex makes lookup-and-send atomic against concurrent eviction: a publish
// never writes through a handle the sweep is closing.
type connEntry struct {
	mu           sync.Mutex
	conn         Conn
	lastActivity time.Time
	missed       int
}

// ConnRegistry is the live mapping of authenticated identity to open
// connection, the single source of truth for reachability: every publish
// decision (deliver now vs. store pending) is made against it at publish
// time.
//
// A single instance is created by the broker process and injected into every
// session and background task. Run starts the heartbeat sweep; all other
// methods are safe for concurrent use from any goroutine.
type ConnRegistry struct {
	mu     sync.RWMutex
	conns  map[int64]*connEntry
	cfg    RegistryConfig
	logger Logger
}

// NewConnRegistry creates an empty registry with the given sweep settings.
func NewConnRegistry(cfg RegistryConfig, logger Logger) *ConnRegistry {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &ConnRegistry{
		conns:  make(map[int64]*connEntry),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Register binds userID to a transport handle and resets its heartbeat
// counters. Registering an identity that already has a live connection
// replaces the old entry: the stale handle is closed, never duplicated.
func (r *ConnRegistry) Register(userID int64, conn Conn) {
	entry := &connEntry{conn: conn, lastActivity: time.Now()}

	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = entry
	r.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		_ = old.conn.Close()
		old.mu.Unlock()
		r.logger.Infof("Replaced existing connection for user %d", userID)
	}
	r.logger.Debugf("Registered connection for user %d", userID)
}

// Connected reports whether a live handle exists for userID.
func (r *ConnRegistry) Connected(userID int64) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// Send writes one line to the user's live connection. Lookup and write happen
// under the entry lock, so an eviction racing with the send either completes
// before the lookup (ErrNotConnected) or waits for the write to finish.
// Returns ErrNotConnected when no live handle exists.
func (r *ConnRegistry) Send(userID int64, line string) error {
	r.mu.RLock()
	entry := r.conns[userID]
	r.mu.RUnlock()
	if entry == nil {
		return ErrNotConnected
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.conn.SendLine(line)
}

// Touch records fresh inbound activity for userID, resetting its
// missed-heartbeat count. Called by the session on every inbound line, not
// only on PONG.
func (r *ConnRegistry) Touch(userID int64) {
	r.mu.RLock()
	entry := r.conns[userID]
	r.mu.RUnlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	entry.lastActivity = time.Now()
	entry.missed = 0
	entry.mu.Unlock()
}

// Unregister closes and removes the user's handle. Idempotent; unknown IDs
// are a no-op.
func (r *ConnRegistry) Unregister(userID int64) {
	r.mu.Lock()
	entry := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	_ = entry.conn.Close()
	entry.mu.Unlock()
	r.logger.Debugf("Unregistered connection for user %d", userID)
}

// Release closes conn and removes the user's entry only while the registry
// still maps the user to that same handle. A session whose registration was
// replaced by a newer connection tears down its own transport without
// touching the replacement.
func (r *ConnRegistry) Release(userID int64, conn Conn) {
	r.mu.Lock()
	entry := r.conns[userID]
	owned := entry != nil && entry.conn == conn
	if owned {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	_ = conn.Close()
	if owned {
		r.logger.Debugf("Released connection for user %d", userID)
	}
}

// evict removes the user's entry only while it still holds the swept handle,
// so an eviction decision made against a snapshot never tears down a
// connection registered after the snapshot was taken.
func (r *ConnRegistry) evict(userID int64, entry *connEntry) {
	r.mu.Lock()
	if r.conns[userID] != entry {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	entry.mu.Lock()
	_ = entry.conn.Close()
	entry.mu.Unlock()
	r.logger.Debugf("Unregistered connection for user %d", userID)
}

// Count returns the number of currently registered connections.
func (r *ConnRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Run drives the heartbeat sweep until the context is canceled. One sweep
// pings every registered connection, increments its missed counter, and
// evicts entries that exceeded MaxMissed or went silent past IdleTimeout.
// Eviction only unregisters; retry of undelivered traffic is keyed off
// persisted pending state, not registry state.
//
// This method blocks and should typically be run in a goroutine.
func (r *ConnRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	r.logger.Infof("Heartbeat sweep started (interval=%v, maxMissed=%d, idleTimeout=%v)",
		r.cfg.PingInterval, r.cfg.MaxMissed, r.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Heartbeat sweep stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep performs a single heartbeat pass. Exported so tests and operators can
// force a pass without waiting for the ticker.
func (r *ConnRegistry) Sweep() {
	r.mu.RLock()
	snapshot := make(map[int64]*connEntry, len(r.conns))
	for id, entry := range r.conns {
		snapshot[id] = entry
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}
	r.logger.Debugf("Pinging %d active connections", len(snapshot))

	now := time.Now()
	for userID, entry := range snapshot {
		entry.mu.Lock()
		idle := now.Sub(entry.lastActivity)
		pingErr := entry.conn.SendLine("PING")
		entry.missed++
		missed := entry.missed
		entry.mu.Unlock()

		switch {
		case pingErr != nil:
			r.logger.Warnf("Failed to ping user %d: %v", userID, pingErr)
			r.evict(userID, entry)
		case idle > r.cfg.IdleTimeout:
			r.logger.Infof("User %d silent for %v, evicting", userID, idle)
			r.evict(userID, entry)
		case missed >= r.cfg.MaxMissed:
			r.logger.Infof("User %d missed %d heartbeats, evicting", userID, missed)
			r.evict(userID, entry)
		}
	}
}
