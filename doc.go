// Package broker implements a publish/subscribe message broker with reliable,
// at-least-once delivery over persistent socket connections.
//
// Clients connect over a newline-delimited text protocol, bind an identity,
// declare or discover event types, publish events, and subscribe to event
// types. The broker fans published events out to every current subscriber:
// connected subscribers receive the event immediately, unreachable ones get a
// pending row that is replayed when they reconnect or retried by the
// background redelivery scheduler. Sibling broker nodes forward local
// publishes to each other so subscribers connected elsewhere still receive
// them.
//
// # Components
//
//   - ConnRegistry: live identity-to-connection map with heartbeat-based
//     liveness detection and eviction
//   - Session / Server: per-connection protocol dispatcher and accept loop
//   - DeliveryEngine: publish, fan-out, pending replay, acknowledgment
//   - RedeliveryScheduler: timer-driven retry of pending/failed deliveries
//     with a bounded attempt count
//   - cluster.Coordinator: membership heartbeats and cross-node event fan-out
//
// # Quick Start
//
// Apply the embedded migrations, build the repositories, and wire the pieces:
//
//	db, _ := sql.Open("sqlite3", "broker.db")
//	repos := relica.NewRepositories(db, "sqlite3")
//
//	registry := broker.NewConnRegistry(broker.RegistryConfig{}, logger)
//	engine, _ := broker.NewDeliveryEngine(
//	    broker.WithDeliveryRepositories(repos.Subscription, repos.Pending, repos.Delivery, repos.Event),
//	    broker.WithDeliveryRegistry(registry),
//	    broker.WithDeliveryLogger(logger),
//	)
//
//	srv, _ := broker.NewServer(
//	    broker.WithServerRegistry(registry),
//	    broker.WithServerDelivery(engine),
//	    ...
//	)
//	go registry.Run(ctx)
//	srv.Serve(ctx, ln)
//
// Persistence is pluggable behind narrow repository interfaces; production
// adapters built on the Relica query builder live in adapters/relica and
// support MySQL, PostgreSQL and SQLite.
package broker
