package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisLedger stores the ledger as a JSON array under one key.
type RedisLedger struct {
	client redisCommander
	key    string
}

func NewRedisLedger(client redisCommander, key string) *RedisLedger {
	if strings.TrimSpace(key) == "" {
		key = DefaultRedisKey
	}
	return &RedisLedger{client: client, key: key}
}

func (l *RedisLedger) LoadLedger(ctx context.Context) ([]int, error) {
	raw, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", l.key, err)
	}
	ids := []int{}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("redis ledger %s: %w", l.key, err)
	}
	return ids, nil
}

func (l *RedisLedger) SaveLedger(ctx context.Context, ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key, string(b), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", l.key, err)
	}
	return nil
}
