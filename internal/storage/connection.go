// Package storage provides the PostgreSQL store gateway for the aggregator.
//
// The store gateway exclusively owns connection handles and transactions;
// no other component issues SQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const healthCheckTimeout = 2 * time.Second

var (
	// ErrNoDatabaseConnection is returned when operating on a nil connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
)

// Connection wraps *sql.DB with pool settings applied from Config.
//
// A single Connection is shared by all store instances; each transaction
// holds exactly one pooled connection for its duration.
type Connection struct {
	db     *sql.DB
	config *Config
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, config: cfg}, nil
}

// BeginTx starts a transaction with the given options.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.BeginTx(ctx, opts)
}

// ExecContext executes a statement outside a transaction.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query returning multiple rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// HealthCheck verifies database connectivity with SELECT 1.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// CommandTimeout returns the configured per-statement timeout.
func (c *Connection) CommandTimeout() time.Duration {
	if c == nil || c.config == nil {
		return defaultCommandTimeout
	}

	return c.config.CommandTimeout
}

// Close closes the connection pool.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	return c.db.Close()
}
