// Package redisbridge mirrors decoded SBMP datagrams into Redis (hash
// snapshot + pub/sub) and pulls outbound send requests off a Redis list, so
// other processes on the host can observe and drive the gateway without
// speaking SBMP themselves.
package redisbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the hash/pubsub/list operations the
// gateway bridge needs.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to addr and verifies reachability with a PING.
func New(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbridge: connect %s: %w", addr, err)
	}
	return &Client{rdb: rdb, logger: logger}, nil
}

// WriteAndPublish writes field=value into the hash at key and publishes a
// "field:value" notification on the key's channel, atomically via a
// pipeline.
func (c *Client) WriteAndPublish(ctx context.Context, key, field, value string) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, field, value)
	pipe.Publish(ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(ctx)
	return err
}

// GetString reads field from the hash at key.
func (c *Client) GetString(ctx context.Context, key, field string) (string, error) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("redisbridge: %s/%s not found", key, field)
	}
	return val, err
}

// Subscribe subscribes to channel and returns a message channel plus its
// cleanup function.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func()) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	return pubsub.Channel(), func() { _ = pubsub.Close() }
}

// Publish publishes message on channel.
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// LPush pushes value onto the list at key, used to enqueue an outbound send
// request for another process to pick up, or for this bridge itself when
// acting as the consumer side (see BRPop).
func (c *Client) LPush(ctx context.Context, key, value string) error {
	if err := c.rdb.LPush(ctx, key, value).Err(); err != nil {
		c.logger.Warn("redis_lpush_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// BRPop blocks up to timeout waiting for a value on the list at key,
// returning (nil, nil) on timeout rather than an error.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) ([]string, error) {
	result, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		c.logger.Warn("redis_brpop_failed", "key", key, "error", err)
		return nil, err
	}
	return result, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
