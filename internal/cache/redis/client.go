// Package redis backs the bot's shared state on go-redis/v9: cached token
// prices, the monitor leader lease, and the signal bus carrying wallet
// signals in and engine events out. Every key, stream, and pub/sub channel
// lives under a configurable namespace so several deployments can share one
// server without stepping on each other.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// defaultNamespace prefixes keys when the config leaves the namespace empty.
const defaultNamespace = "copybot"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every key this deployment touches.
	Namespace string
}

// Client wraps a go-redis Client and owns the key namespace for the cache,
// lease, and bus types in this package.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New connects to Redis, pings it to verify connectivity, and returns the
// wrapper. It returns an error if the connection cannot be established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	ns := strings.TrimSuffix(cfg.Namespace, ":")
	if ns == "" {
		ns = defaultNamespace
	}

	return &Client{rdb: rdb, ns: ns}, nil
}

// key builds a namespaced key from its parts; key("price", mint) under the
// default namespace yields "copybot:price:<mint>".
func (c *Client) key(parts ...string) string {
	return c.ns + ":" + strings.Join(parts, ":")
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
