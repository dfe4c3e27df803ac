package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannelPrefix = "agentcore:events:"

// RedisPublisher publishes each event as JSON on the channel
// <prefix><event type>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = defaultRedisChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel events of eventType are published on.
func (r *RedisPublisher) Channel(eventType string) string {
	return r.prefix + eventType
}

// Ping checks the Redis connection.
func (r *RedisPublisher) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Publish sends one event.
func (r *RedisPublisher) Publish(ctx context.Context, event any, eventType string) error {
	detail, err := Detail(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(eventType), detail).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// PublishBatch sends events in one pipeline.
func (r *RedisPublisher) PublishBatch(ctx context.Context, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, env := range envelopes {
		detail, err := Detail(env.Event)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, r.Channel(env.EventType), detail)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}
