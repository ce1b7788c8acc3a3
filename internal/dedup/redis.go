package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// RedisSet stores ids as expiring keys so several instances share one view
type RedisSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSet creates a set whose keys are prefix:id
func NewRedisSet(client *redis.Client, prefix string, ttl time.Duration) *RedisSet {
	return &RedisSet{client: client, prefix: prefix, ttl: ttl}
}

// Add uses SET NX so the check and insert happen in one round trip
func (s *RedisSet) Add(ctx context.Context, id string) (bool, error) {
	added, err := s.client.SetNX(ctx, s.key(id), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, utils.WrapAppError(utils.ErrCodeDatabase, "failed to add id to redis set", err)
	}
	return added, nil
}

func (s *RedisSet) Contains(ctx context.Context, id string) (bool, error) {
	err := s.client.Get(ctx, s.key(id)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, utils.WrapAppError(utils.ErrCodeDatabase, "failed to read redis set", err)
	}
	return true, nil
}

func (s *RedisSet) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "failed to remove id from redis set", err)
	}
	return nil
}

// Close is a no-op; the client is shared and closed by Sets
func (s *RedisSet) Close() error {
	return nil
}

func (s *RedisSet) key(id string) string {
	return s.prefix + ":" + id
}
