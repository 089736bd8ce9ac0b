// Package cache wraps the Redis client used for shared revocation state.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/ricemill/backoffice/internal/errors"
	"github.com/ricemill/backoffice/internal/logger"
)

type Cache struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// New connects to Redis, retrying while the server comes up.
func New(ctx context.Context, addr, password, prefix string, log *logger.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	err := apperrors.Retry(ctx, apperrors.ConnectRetryConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	log = log.WithComponent("cache")
	log.Info(ctx, "connected to redis", map[string]interface{}{"addr": addr})
	return NewFromClient(client, prefix, log), nil
}

// NewFromClient wraps an already configured client.
func NewFromClient(client *redis.Client, prefix string, log *logger.Logger) *Cache {
	return &Cache{client: client, prefix: prefix, log: log}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// SetOnce stores value under key unless the key already exists. It reports
// whether this call created the key.
func (c *Cache) SetOnce(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, value, ttl).Result()
	if err != nil {
		c.log.Error(ctx, "cache setnx failed", err, map[string]interface{}{"key": key})
		return false, err
	}
	return ok, nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		c.log.Error(ctx, "cache exists failed", err, map[string]interface{}{"key": key})
		return false, err
	}
	return n > 0, nil
}
