// Package postgres provides the PostgreSQL connection pool and the embedded
// schema migrations of the identity service. Adapters use the re-exported
// types below instead of importing pgx directly.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection parameters.
type Config struct {
	// URL is a postgres:// connection string.
	URL string

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32

	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
}

// Re-exported pgx types for adapter-defined interfaces.
type (
	Row        = pgx.Row
	Rows       = pgx.Rows
	Tx         = pgx.Tx
	TxOptions  = pgx.TxOptions
	CommandTag = pgconn.CommandTag
	Pool       = pgxpool.Pool
)

// ErrNoRows is returned by Row.Scan when a query matched nothing.
var ErrNoRows = pgx.ErrNoRows

// uniqueViolation is the SQLSTATE of a unique or primary key violation.
const uniqueViolation = "23505"

// NewPool configures a connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// IsUniqueViolation reports whether err is a unique constraint violation and
// returns the name of the violated constraint.
func IsUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
