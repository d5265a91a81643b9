// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package provides production-ready implementations of all broker repository interfaces:
//   - UserRepository
//   - EventTypeRepository
//   - EventRepository
//   - SubscriptionRepository
//   - PendingMessageRepository
//   - DeliveryRepository
//   - NodeRepository
//   - StatsRepository
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/broker"
//	    "github.com/coregx/broker/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/broker_db?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create repositories (driverName should be "mysql", "postgres", or "sqlite3")
//	repos := relica.NewRepositories(db, "mysql")
//
//	// Create services
//	engine, err := broker.NewDeliveryEngine(
//	    broker.WithDeliveryRepositories(repos.Subscription, repos.Pending, repos.Delivery, repos.Event, repos.EventType),
//	    broker.WithDeliveryRegistry(registry),
//	    broker.WithDeliveryLogger(logger),
//	)
package relica
