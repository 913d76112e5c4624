package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver ("pgx")
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver ("postgres")
	"github.com/smarttransit/payment-service/internal/config"
)

// connectTimeout bounds the initial connect + ping
const connectTimeout = 10 * time.Second

// DB is what the process needs from the pool outside the repositories
type DB interface {
	PingContext(ctx context.Context) error
	Close() error
}

// PostgresDB owns the sqlx pool shared by all repositories
type PostgresDB struct {
	*sqlx.DB
}

// NewConnection opens the pool with the configured driver ("postgres" for lib/pq, "pgx"
// for pgx/v5 stdlib) and verifies it with a ping.
func NewConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dsn := connectionURL(driver, cfg.URL)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)
	}

	return &PostgresDB{DB: db}, nil
}

// connectionURL switches pgx to the simple protocol. Poolers in transaction mode
// (Supavisor, PgBouncer) reject the named statements pgx caches by default.
// lib/pq only uses unnamed statements and is passed through.
func connectionURL(driver, raw string) string {
	if driver != "pgx" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// key=value DSN, leave untouched
		return raw
	}
	q := u.Query()
	if q.Get("default_query_exec_mode") == "" {
		q.Set("default_query_exec_mode", "simple_protocol")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
