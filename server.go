package broker

import (
	"context"
	"errors"
	"net"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

// Server accepts broker connections and runs one protocol session per
// connection. Construct it with NewServer and the With*-style options; the
// registry, delivery engine, subscription, account and event type services
// are required.
type Server struct {
	registry  *ConnRegistry
	engine    *DeliveryEngine
	subs      *SubscriptionService
	accounts  *AccountService
	types     *EventTypeService
	stats     StatsRepository
	forwarder EventForwarder
	logger    Logger

	writeTimeout time.Duration
	startedAt    time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerRegistry sets the connection registry (required).
func WithServerRegistry(registry *ConnRegistry) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithServerEngine sets the delivery engine (required).
func WithServerEngine(engine *DeliveryEngine) ServerOption {
	return func(s *Server) {
		s.engine = engine
	}
}

// WithServerServices sets the subscription, account and event type services
// (required).
func WithServerServices(subs *SubscriptionService, accounts *AccountService, types *EventTypeService) ServerOption {
	return func(s *Server) {
		s.subs = subs
		s.accounts = accounts
		s.types = types
	}
}

// WithServerStats sets the repository backing GET SYSTEM STATUS. Optional;
// without it the status block reports live connection count and uptime only.
func WithServerStats(stats StatsRepository) ServerOption {
	return func(s *Server) {
		s.stats = stats
	}
}

// WithServerForwarder sets the cluster event forwarder. Optional; without it
// the server runs standalone and published events stay local.
func WithServerForwarder(forwarder EventForwarder) ServerOption {
	return func(s *Server) {
		s.forwarder = forwarder
	}
}

// WithServerLogger sets the logger. Optional, defaults to NoopLogger.
func WithServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerWriteTimeout sets the per-line write deadline applied to client
// connections. Optional, defaults to 5s.
func WithServerWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = timeout
	}
}

// NewServer creates a Server with the given options.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:       &NoopLogger{},
		writeTimeout: defaultWriteTimeout,
		startedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "connection registry is required (use WithServerRegistry)")
	}
	if s.engine == nil {
		return nil, NewError(ErrCodeConfiguration, "delivery engine is required (use WithServerEngine)")
	}
	if s.subs == nil || s.accounts == nil || s.types == nil {
		return nil, NewError(ErrCodeConfiguration, "broker services are required (use WithServerServices)")
	}

	return s, nil
}

// Serve accepts connections from ln until ctx is canceled or the listener
// fails. Each accepted connection gets its own session goroutine; Serve
// closes the listener on context cancellation and returns nil in that case.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Infof("Broker listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("Broker accept loop stopped")
				return nil
			}
			return NewErrorWithCause(ErrCodeConfiguration, "accept failed", err)
		}

		s.logger.Infof("New client connected: %s", conn.RemoteAddr())
		go s.handle(ctx, conn)
	}
}

// Handle runs a single protocol session over conn, blocking until the session
// ends. Exported for serving connections from pre-established transports.
func (s *Server) Handle(ctx context.Context, conn net.Conn) {
	s.handle(ctx, conn)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	sess := &session{
		conn:      conn,
		out:       NewNetConn(conn, s.writeTimeout),
		registry:  s.registry,
		engine:    s.engine,
		subs:      s.subs,
		accounts:  s.accounts,
		types:     s.types,
		stats:     s.stats,
		forwarder: s.forwarder,
		logger:    s.logger,
		startedAt: s.startedAt,
	}
	sess.run(ctx)
}
