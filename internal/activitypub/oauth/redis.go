package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oauth:flow:"

// RedisStorage keeps pending sessions in Redis and lets the TTL expire them.
type RedisStorage struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Storage = (*RedisStorage)(nil)

func NewRedisStorage(client redis.UniversalClient, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &RedisStorage{client: client, ttl: ttl}
}

func (c *RedisStorage) Set(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+s.ID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("persist flow: %w", err)
	}
	return nil
}

func (c *RedisStorage) Get(ctx context.Context, id string) (*Session, error) {
	b, err := c.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load flow: %w", err)
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &s, nil
}

func (c *RedisStorage) Unset(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete flow: %w", err)
	}
	return nil
}
