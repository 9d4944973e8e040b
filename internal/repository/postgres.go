package repository

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/farehawk/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a PostgreSQL connection through lib/pq.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	cfg = withPostgresDefaults(cfg)

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

func withPostgresDefaults(cfg domain.RepositoryConfig) domain.RepositoryConfig {
	if cfg.PostgresHost == "" {
		cfg.PostgresHost = "localhost"
	}
	if cfg.PostgresPort == 0 {
		cfg.PostgresPort = 5432
	}
	if cfg.PostgresDB == "" {
		cfg.PostgresDB = "farehawk"
	}
	if cfg.PostgresSSLMode == "" {
		cfg.PostgresSSLMode = "disable"
	}
	return cfg
}
