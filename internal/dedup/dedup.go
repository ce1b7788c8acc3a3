package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Set remembers transaction ids so each one is acted on at most once.
// Add must perform check-and-insert as a single atomic step.
type Set interface {
	// Add inserts id and reports whether it was absent
	Add(ctx context.Context, id string) (bool, error)
	Contains(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// Config configures a pair of dedup sets
type Config struct {
	Backend   string
	Capacity  int
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
	KeyPrefix string
}

// Sets is the pair of sets guarding detection and confirmation notifications
type Sets struct {
	Seen      Set
	Confirmed Set
	closer    func() error
}

// Close releases the backend
func (s *Sets) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// NewSets builds the seen and confirmed sets for the configured backend
func NewSets(ctx context.Context, config Config) (*Sets, error) {
	switch strings.ToLower(config.Backend) {
	case "", "memory":
		return &Sets{
			Seen:      NewMemorySet(config.Capacity, config.TTL),
			Confirmed: NewMemorySet(config.Capacity, config.TTL),
		}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: config.RedisAddr,
			DB:   config.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
		}
		prefix := config.KeyPrefix
		if prefix == "" {
			prefix = "stacks-notifier"
		}
		return &Sets{
			Seen:      NewRedisSet(client, prefix+":seen", config.TTL),
			Confirmed: NewRedisSet(client, prefix+":confirmed", config.TTL),
			closer:    client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend: %s", config.Backend)
	}
}
