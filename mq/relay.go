package mq

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Relay carries envelopes between service instances so a client connected to any
// instance sees events produced on every other one.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, calling deliver for every envelope received, until ctx ends.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// RedisRelay uses Redis pub/sub. Redis keeps publish order per connection, which
// preserves per-order ordering because a single dispatcher publishes.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *logrus.Entry
}

func NewRedisRelay(client *redis.Client, channel string, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, log: logger.WithField("component", "redis-relay")}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := env.MarshalFrame()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", env.Type, err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.log.Infof("Listening for events on channel '%s'", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			env, err := UnmarshalFrame([]byte(msg.Payload))
			if err != nil {
				r.log.Warnf("Skipping malformed relay payload: %v", err)
				continue
			}
			deliver(env)
		}
	}
}

func (r *RedisRelay) Close() error { return nil }
