// Package domain defines the core interfaces and types for FareHawk.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Trip operations
	SaveTrips(ctx context.Context, tenantID string, trips []*Trip) error
	GetTrip(ctx context.Context, tenantID string, tripID string) (*Trip, error)
	ListTrips(ctx context.Context, tenantID string, filter TripFilter) ([]*Trip, error)
	CountTrips(ctx context.Context, tenantID string, filter TripFilter) (int, error)

	// AllTrips returns the complete, unfiltered collection in ingestion order.
	AllTrips(ctx context.Context, tenantID string) ([]*Trip, error)

	// Heuristic rule operations
	SaveHeuristicRule(ctx context.Context, tenantID string, rule *HeuristicRuleConfig) error
	ListHeuristicRules(ctx context.Context, tenantID string) ([]*HeuristicRuleConfig, error)
	DeleteHeuristicRule(ctx context.Context, tenantID string, ruleID string) error

	// Detection runs
	SaveDetectionRun(ctx context.Context, tenantID string, run *DetectionRun) error
	GetDetectionRun(ctx context.Context, tenantID string, runID string) (*DetectionRun, error)
	LatestDetectionRun(ctx context.Context, tenantID string) (*DetectionRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" (lib/pq) or "pgx"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
