// Package dedup suppresses broker redeliveries. With QoS 1 a reconnect can
// replay events the relay already processed; remembering recently seen event
// keys keeps the downstream collector from receiving them twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Suppressor decides whether an event key was processed recently.
type Suppressor interface {
	// Seen marks key as processed and reports whether it was already
	// marked within the TTL window.
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

type redisSuppressor struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSuppressor connects to Redis and returns a TTL-based suppressor.
func NewRedisSuppressor(redisURL string, ttl time.Duration) (Suppressor, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisSuppressor{client: client, ttl: ttl}, nil
}

func (s *redisSuppressor) Seen(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, "relay:seen:"+key, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	// SetNX succeeded means the key was new.
	return !set, nil
}

func (s *redisSuppressor) Close() error {
	return s.client.Close()
}

// NoOpSuppressor never suppresses. Used when dedup is disabled.
type NoOpSuppressor struct{}

func (NoOpSuppressor) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoOpSuppressor) Close() error                               { return nil }
