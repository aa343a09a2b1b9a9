// Package redis wraps the go-redis client. Only this package imports
// go-redis; adapters depend on the Cmdable alias.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable. Adapters accept this interface
// instead of importing go-redis directly.
type Cmdable = redis.Cmdable

// Config holds the parameters needed to connect to Redis. Addr is either
// host:port or a redis:// or rediss:// URL; a URL carries its own
// credentials and database, which Password and DB then override when set.
type Config struct {
	Addr       string
	Password   string
	DB         int
	Timeout    time.Duration // Dial, read and write
	ClientName string
}

// Client holds the go-redis client. RDB is the handle adapters use.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a Redis client configured from cfg. No connection is
// made until the first command.
func NewClient(cfg Config) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{RDB: redis.NewClient(opts)}, nil
}

func options(cfg Config) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Addr}
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	opts.ClientName = cfg.ClientName
	return opts, nil
}

// Ping checks connectivity for the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.RDB.Close()
}
