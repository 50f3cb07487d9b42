package events

import (
	"context"
	"encoding/json"
	"errors"

	"blockpulse/internal/models"
)

// AlertsChannel is the Redis channel the stream handlers listen on.
const AlertsChannel = "price_alerts"

// Publisher emits an AlertMessage after a notification went out.
type Publisher interface {
	PublishAlert(ctx context.Context, msg models.AlertMessage) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishAlert(ctx context.Context, msg models.AlertMessage) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAlert(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type channelPublisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// RedisPublisher publishes alert messages on a Redis pub/sub channel.
type RedisPublisher struct {
	client  channelPublisher
	channel string
}

func NewRedisPublisher(client channelPublisher) *RedisPublisher {
	return &RedisPublisher{client: client, channel: AlertsChannel}
}

func (p *RedisPublisher) PublishAlert(ctx context.Context, msg models.AlertMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, string(payload))
}

// FromConfig builds the evaluator's publisher: Redis always, Kafka as well
// when brokers are configured. The returned close func flushes Kafka.
func FromConfig(brokers, topic string, redis channelPublisher) (Publisher, func(), error) {
	redisPublisher := NewRedisPublisher(redis)
	if brokers == "" {
		return redisPublisher, func() {}, nil
	}

	kafkaPublisher, err := NewKafkaPublisher(brokers, topic)
	if err != nil {
		return nil, nil, err
	}
	return Multi{redisPublisher, kafkaPublisher}, kafkaPublisher.Close, nil
}
