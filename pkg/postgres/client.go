// Package postgres wraps database/sql with the pool settings and
// transaction helper shared by binaries that use the registry database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docsink/docsink/pkg/config"
	_ "github.com/lib/pq"
)

// connectTimeout bounds the startup ping.
const connectTimeout = 5 * time.Second

// Client is a pooled PostgreSQL handle. Statement helpers take a context
// so callers inherit request deadlines.
type Client struct {
	db  *sql.DB
	cfg config.PostgresConfig
}

// New opens a connection pool and verifies it with a bounded ping.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{db: db, cfg: cfg}, nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping reports whether the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Exec runs a statement outside a transaction.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// Query runs a multi-row query outside a transaction.
func (c *Client) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query outside a transaction.
func (c *Client) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// InTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. fn's error is returned as-is so errors.Is checks see it
// across the transaction boundary.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
