package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// redisConnection wraps a go-redis client as a CacheConnection.
type redisConnection struct {
	client *redis.Client
}

func openRedis(ctx context.Context, spec *models.SourceSpec, password string) (CacheConnection, error) {
	addr := fmt.Sprintf("%s:%d", spec.Host, spec.Port)
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: spec.Timeout(5 * time.Second),
		ReadTimeout: spec.Timeout(5 * time.Second),
	})

	pingCtx, cancel := context.WithTimeout(ctx, spec.Timeout(5*time.Second))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errcode.Wrap(errcode.ConnectionError, "redis ping failed", err)
	}

	return &redisConnection{client: client}, nil
}

// Get returns the string value for a key.
func (c *redisConnection) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errcode.Wrap(errcode.ConnectionError, "redis get failed", err)
	}
	return value, true, nil
}

// Scan returns up to limit keys matching the pattern.
func (c *redisConnection) Scan(ctx context.Context, pattern string, limit int) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, int64(limit)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errcode.Wrap(errcode.ConnectionError, "redis scan failed", err)
	}
	return keys, nil
}

// HashGetAll returns all fields of a hash.
func (c *redisConnection) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errcode.Wrap(errcode.ConnectionError, "redis hgetall failed", err)
	}
	return values, nil
}

// Close closes the client.
func (c *redisConnection) Close() error {
	return c.client.Close()
}
