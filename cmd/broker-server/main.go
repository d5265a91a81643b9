// Package main provides the broker server executable: TCP protocol listener,
// redelivery scheduler and optional cluster coordinator.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/adapters/relica"
	"github.com/coregx/broker/cluster"
	"github.com/coregx/broker/cmd/broker-server/internal/config"
	"github.com/coregx/broker/retry"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// zapLogger adapts a zap.SugaredLogger to broker.Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *zapLogger) Info(message string)                       { l.s.Info(message) }

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override the environment for the knobs operators tune most.
	port := flag.Int("port", cfg.Server.Port, "TCP port for client connections")
	noCluster := flag.Bool("no-cluster", false, "run standalone even if clustering is configured")
	maxAttempts := flag.Int("max-delivery-attempts", cfg.Broker.MaxAttempts, "redelivery attempts before a pending message is parked")
	redeliveryDelay := flag.Int("redelivery-interval", cfg.Broker.RedeliveryDelay, "minimum seconds between redelivery attempts on one message")
	checkInterval := flag.Int("check-interval", cfg.Broker.CheckInterval, "seconds between redelivery sweeps")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zl, err := newZap(*debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := &zapLogger{s: zl.Sugar()}

	logger.Infof("Starting broker server (db=%s cluster=%v)", cfg.Database.Driver, cfg.Cluster.Enabled && !*noCluster)

	// Connect to database
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("Failed to close database: %v", closeErr)
		}
	}()
	if err := db.Ping(); err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	logger.Info("Database connection established")

	repos := relica.NewRepositoriesWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix)

	var notificationService broker.NotificationService
	if cfg.Broker.EnableNotifications {
		notificationService = broker.NewLoggingNotificationService(logger)
	} else {
		notificationService = &broker.NoOpNotificationService{}
	}

	registry := broker.NewConnRegistry(broker.RegistryConfig{
		PingInterval: time.Duration(cfg.Broker.PingInterval) * time.Second,
		MaxMissed:    cfg.Broker.MaxMissedPings,
		IdleTimeout:  time.Duration(cfg.Broker.IdleTimeout) * time.Second,
	}, logger)

	engine, err := broker.NewDeliveryEngine(
		broker.WithDeliveryRepositories(repos.Subscription, repos.Pending, repos.Delivery, repos.Event, repos.EventType),
		broker.WithDeliveryRegistry(registry),
		broker.WithDeliveryLogger(logger),
	)
	if err != nil {
		logger.Errorf("Failed to create delivery engine: %v", err)
		os.Exit(1)
	}

	subs, err := broker.NewSubscriptionService(
		broker.WithSubscriptionRepositories(repos.Subscription, repos.EventType),
		broker.WithSubscriptionLogger(logger),
	)
	if err != nil {
		logger.Errorf("Failed to create subscription service: %v", err)
		os.Exit(1)
	}

	accounts, err := broker.NewAccountService(repos.User, logger)
	if err != nil {
		logger.Errorf("Failed to create account service: %v", err)
		os.Exit(1)
	}

	types, err := broker.NewEventTypeService(repos.EventType, logger)
	if err != nil {
		logger.Errorf("Failed to create event type service: %v", err)
		os.Exit(1)
	}

	strategy := retry.DefaultStrategy()
	strategy.MaxAttempts = *maxAttempts
	strategy.BaseDelay = time.Duration(*redeliveryDelay) * time.Second

	scheduler, err := broker.NewRedeliveryScheduler(
		broker.WithSchedulerRepository(repos.Pending),
		broker.WithSchedulerEngine(engine),
		broker.WithSchedulerLogger(logger),
		broker.WithSchedulerStrategy(strategy),
		broker.WithSchedulerBatchSize(cfg.Broker.BatchSize),
		broker.WithSchedulerNotifications(notificationService),
	)
	if err != nil {
		logger.Errorf("Failed to create redelivery scheduler: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional cluster coordinator
	var forwarder broker.EventForwarder
	var clusterServer *http.Server
	if cfg.Cluster.Enabled && !*noCluster {
		coordinator, err := cluster.NewCoordinator(
			cluster.WithNode(cfg.Cluster.NodeID, cfg.Cluster.Host, cfg.Cluster.Port),
			cluster.WithNodeRepository(repos.Node),
			cluster.WithEngine(engine),
			cluster.WithHeartbeat(
				time.Duration(cfg.Cluster.HeartbeatInterval)*time.Second,
				time.Duration(cfg.Cluster.StaleTimeout)*time.Second,
			),
			cluster.WithLogger(logger),
			cluster.WithNotifications(notificationService),
		)
		if err != nil {
			logger.Errorf("Failed to create cluster coordinator: %v", err)
			os.Exit(1)
		}
		if err := coordinator.Join(ctx); err != nil {
			logger.Errorf("Failed to join cluster: %v", err)
			os.Exit(1)
		}
		go coordinator.Run(ctx)

		clusterServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Cluster.Port),
			Handler:      coordinator.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("Cluster endpoint listening on :%d", cfg.Cluster.Port)
			if err := clusterServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Cluster endpoint failed: %v", err)
			}
		}()
		forwarder = coordinator
	}

	server, err := broker.NewServer(
		broker.WithServerRegistry(registry),
		broker.WithServerEngine(engine),
		broker.WithServerServices(subs, accounts, types),
		broker.WithServerStats(repos.Stats),
		broker.WithServerForwarder(forwarder),
		broker.WithServerLogger(logger),
	)
	if err != nil {
		logger.Errorf("Failed to create server: %v", err)
		os.Exit(1)
	}

	ln, err := listen(cfg.Server.Host, *port, cfg.Server.BindAttempts, logger)
	if err != nil {
		logger.Errorf("Failed to bind listener: %v", err)
		os.Exit(1)
	}

	go registry.Run(ctx)
	go scheduler.Run(ctx, time.Duration(*checkInterval)*time.Second)
	go func() {
		if err := server.Serve(ctx, ln); err != nil {
			logger.Errorf("Server stopped: %v", err)
			cancel()
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down broker...")
	cancel()

	if clusterServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := clusterServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Cluster endpoint forced to shutdown: %v", err)
		}
	}

	logger.Info("Broker stopped gracefully")
}

// listen binds the client listener, trying successive ports when the
// configured one is taken.
func listen(host string, port, attempts int, logger broker.Logger) (net.Listener, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := fmt.Sprintf("%s:%d", host, port+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Warnf("Port %d was taken, bound to %d instead", port, port+i)
			}
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in range %d-%d: %w", port, port+attempts-1, lastErr)
}

func newZap(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
