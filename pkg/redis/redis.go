package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/config"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound reports a cache miss, as opposed to an unreachable server.
var ErrKeyNotFound = errors.New("redis: key not found")

// Client wraps redis client with additional functionality
type Client struct {
	client *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg *config.Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := rdb.Ping(ctx)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", result.Err())
	}

	logger.Info("Connected to Redis successfully")

	return &Client{
		client: rdb,
	}, nil
}

// Wrap adapts an existing go-redis client (embedded Redis in tests and the standalone binary).
func Wrap(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish publishes a raw payload to a Redis channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	result := c.client.Publish(ctx, channel, payload)
	if result.Err() != nil {
		return fmt.Errorf("failed to publish message: %w", result.Err())
	}

	return nil
}

// PSubscribe subscribes to Redis channels matching the given patterns
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.client.PSubscribe(ctx, patterns...)
}

// Set sets a key to a raw payload with expiration
func (c *Client) Set(ctx context.Context, key string, payload []byte, expiration time.Duration) error {
	result := c.client.Set(ctx, key, payload, expiration)
	if result.Err() != nil {
		return fmt.Errorf("failed to set key: %w", result.Err())
	}

	return nil
}

// Get gets the raw payload stored at key, returning ErrKeyNotFound on a miss
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	result := c.client.Get(ctx, key)
	if result.Err() != nil {
		if result.Err() == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", result.Err())
	}

	data, err := result.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get bytes: %w", err)
	}

	return data, nil
}

// RunScript executes a server-side script against the client, using EVALSHA
// with an EVAL fallback on the first run
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) error {
	if err := script.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to run script: %w", err)
	}

	return nil
}

// Delete deletes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	result := c.client.Del(ctx, keys...)
	if result.Err() != nil {
		return fmt.Errorf("failed to delete keys: %w", result.Err())
	}

	return nil
}
