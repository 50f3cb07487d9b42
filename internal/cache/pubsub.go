package cache

import (
	"context"

	"blockpulse/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publish publishes a message to a Redis channel
func (c *Cache) Publish(ctx context.Context, channel, message string) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscriber represents a subscription to a Redis channel
type Subscriber struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription and waits for Redis to confirm it.
func (c *Cache) Subscribe(ctx context.Context, channel string) (*Subscriber, error) {
	pubsub := c.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	logger.Log.Info("Subscribed to Redis channel", zap.String("channel", channel))
	return &Subscriber{pubsub: pubsub}, nil
}

// ReceiveMessage waits for and returns the next message
func (s *Subscriber) ReceiveMessage(ctx context.Context) (*redis.Message, error) {
	return s.pubsub.ReceiveMessage(ctx)
}

func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
