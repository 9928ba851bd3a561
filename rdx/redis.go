// Package rdx holds the Redis connection and the Redis-backed order sequencer.
package rdx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Sequencer hands out order numbers with INCR, so every instance sharing the
// Redis server draws from the same sequence.
type Sequencer struct {
	client redis.Cmdable
	prefix string
}

func NewSequencer(client redis.Cmdable) *Sequencer {
	return &Sequencer{client: client, prefix: "seq:"}
}

func (s *Sequencer) Next(ctx context.Context, name string) (int64, error) {
	n, err := s.client.Incr(ctx, s.prefix+name).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", s.prefix+name, err)
	}
	return n, nil
}
