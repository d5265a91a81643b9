// Package config provides configuration management for the broker standalone server.
// It loads settings from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the broker server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Cluster  ClusterConfig
}

// ServerConfig holds the client-facing TCP listener configuration.
type ServerConfig struct {
	Host string
	Port int

	// BindAttempts is how many successive ports are tried when the
	// configured port is taken.
	BindAttempts int
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite3
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Prefix   string // Table prefix (default: "broker_")
}

// BrokerConfig holds delivery and heartbeat tuning.
type BrokerConfig struct {
	PingInterval        int  // Heartbeat ping cadence in seconds
	IdleTimeout         int  // Seconds of client silence before eviction
	MaxMissedPings      int  // Unanswered pings before eviction
	MaxAttempts         int  // Redelivery attempts before a pending row is parked
	RedeliveryDelay     int  // Minimum seconds between attempts on one row
	CheckInterval       int  // Redelivery sweep cadence in seconds
	BatchSize           int  // Redelivery sweep batch size
	EnableNotifications bool // Enable notification service
}

// ClusterConfig holds cross-node coordination configuration.
type ClusterConfig struct {
	Enabled           bool
	NodeID            string
	Host              string // Address advertised to peers
	Port              int    // Cluster HTTP listener port
	HeartbeatInterval int    // Membership refresh cadence in seconds
	StaleTimeout      int    // Seconds before a silent peer is considered dead
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 12345),
			BindAttempts: getEnvInt("SERVER_BIND_ATTEMPTS", 10),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "broker"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "broker"),
			Prefix:   getEnv("DB_PREFIX", "broker_"),
		},
		Broker: BrokerConfig{
			PingInterval:        getEnvInt("BROKER_PING_INTERVAL", 10),
			IdleTimeout:         getEnvInt("BROKER_IDLE_TIMEOUT", 30),
			MaxMissedPings:      getEnvInt("BROKER_MAX_MISSED_PINGS", 3),
			MaxAttempts:         getEnvInt("BROKER_MAX_ATTEMPTS", 5),
			RedeliveryDelay:     getEnvInt("BROKER_REDELIVERY_DELAY", 30),
			CheckInterval:       getEnvInt("BROKER_CHECK_INTERVAL", 30),
			BatchSize:           getEnvInt("BROKER_BATCH_SIZE", 100),
			EnableNotifications: getEnvBool("BROKER_ENABLE_NOTIFICATIONS", true),
		},
		Cluster: ClusterConfig{
			Enabled:           getEnvBool("CLUSTER_ENABLED", false),
			NodeID:            getEnv("CLUSTER_NODE_ID", hostname),
			Host:              getEnv("CLUSTER_HOST", "localhost"),
			Port:              getEnvInt("CLUSTER_PORT", 9400),
			HeartbeatInterval: getEnvInt("CLUSTER_HEARTBEAT_INTERVAL", 10),
			StaleTimeout:      getEnvInt("CLUSTER_STALE_TIMEOUT", 30),
		},
	}

	// Validate required fields
	if cfg.Database.Driver != "sqlite3" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required")
	}
	if cfg.Cluster.Enabled && cfg.Cluster.NodeID == "" {
		return nil, fmt.Errorf("CLUSTER_NODE_ID environment variable is required when clustering is enabled")
	}

	return cfg, nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves environment variable as boolean or returns default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
