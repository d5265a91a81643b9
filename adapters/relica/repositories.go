package relica

import (
	"database/sql"

	broker "github.com/coregx/broker"
)

const defaultPrefix = "broker_"

// Repositories holds all repository implementations.
type Repositories struct {
	User         broker.UserRepository
	EventType    broker.EventTypeRepository
	Event        broker.EventRepository
	Subscription broker.SubscriptionRepository
	Pending      broker.PendingMessageRepository
	Delivery     broker.DeliveryRepository
	Node         broker.NodeRepository
	Stats        broker.StatsRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "broker_" but can be customized.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, defaultPrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		User:         NewUserRepositoryWithPrefix(db, driverName, prefix),
		EventType:    NewEventTypeRepositoryWithPrefix(db, driverName, prefix),
		Event:        NewEventRepositoryWithPrefix(db, driverName, prefix),
		Subscription: NewSubscriptionRepositoryWithPrefix(db, driverName, prefix),
		Pending:      NewPendingMessageRepositoryWithPrefix(db, driverName, prefix),
		Delivery:     NewDeliveryRepositoryWithPrefix(db, driverName, prefix),
		Node:         NewNodeRepositoryWithPrefix(db, driverName, prefix),
		Stats:        NewStatsRepositoryWithPrefix(db, driverName, prefix),
	}
}
