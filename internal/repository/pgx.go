package repository

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/opensource-finance/farehawk/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// openPgx opens a PostgreSQL connection through the pgx stdlib adapter.
// It shares the postgres schema and placeholder rebinding.
func openPgx(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", pgxDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open pgx database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping pgx database: %w", err)
	}

	return db, nil
}

// pgxDSN builds a postgres:// URL so credentials are escaped.
func pgxDSN(cfg domain.RepositoryConfig) string {
	cfg = withPostgresDefaults(cfg)

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.PostgresHost, strconv.Itoa(cfg.PostgresPort)),
		Path:     "/" + cfg.PostgresDB,
		RawQuery: url.Values{"sslmode": {cfg.PostgresSSLMode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}
