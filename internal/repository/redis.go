// Package repository provides the Redis-backed request budget and dead-letter
// stores, with in-memory fallbacks for degraded operation.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskbridge/internal/config"
	"taskbridge/internal/models"
)

// deadLetterCap bounds the dead-letter list; oldest entries are dropped.
const deadLetterCap = 1000

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisBudget counts outbound requests per platform in a rolling window so
// every process shares one budget.
type RedisBudget struct {
	client *redis.Client
}

func NewRedisBudget(client *redis.Client) *RedisBudget {
	return &RedisBudget{client: client}
}

func (r *RedisBudget) Allow(ctx context.Context, platform string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("request_budget:%s", platform)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment request budget: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// RedisDeadLetters keeps terminally failed queue items in a capped list for
// later inspection.
type RedisDeadLetters struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetters(client *redis.Client) *RedisDeadLetters {
	return &RedisDeadLetters{client: client, key: "sync_dead_letters"}
}

func (r *RedisDeadLetters) Push(ctx context.Context, item *models.SyncQueueItem) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, deadLetterCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// Recent returns up to n most recent dead letters, newest first.
func (r *RedisDeadLetters) Recent(ctx context.Context, n int) ([]*models.SyncQueueItem, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	raw, err := r.client.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	items := make([]*models.SyncQueueItem, 0, len(raw))
	for _, entry := range raw {
		var item models.SyncQueueItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		items = append(items, &item)
	}
	return items, nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
