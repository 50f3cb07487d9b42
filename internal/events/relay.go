package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

type messageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// Relay consumes alert messages from Kafka and republishes them.
type Relay struct {
	source messageReader
	target Publisher
	poll   time.Duration
	log    *zap.Logger
}

func NewRelay(source messageReader, target Publisher) *Relay {
	return &Relay{
		source: source,
		target: target,
		poll:   time.Second,
		log:    logger.Named("relay"),
	}
}

// NewKafkaConsumer subscribes a consumer group to topic.
func NewKafkaConsumer(brokers, groupID, topic string) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	if err := consumer.Subscribe(topic, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to Kafka topic: %w", err)
	}
	return consumer, nil
}

// Run relays until ctx is cancelled. Malformed payloads and publish failures
// are logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msg, err := r.source.ReadMessage(r.poll)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			r.log.Warn("Kafka consumer error", zap.Error(err))
			continue
		}

		var alert models.AlertMessage
		if err := json.Unmarshal(msg.Value, &alert); err != nil {
			r.log.Error("Error parsing alert message", zap.Error(err))
			continue
		}

		if err := r.target.PublishAlert(ctx, alert); err != nil {
			r.log.Error("Failed to relay alert message",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
			continue
		}
		r.log.Debug("Relayed alert message",
			zap.String("alert_id", alert.AlertID),
			zap.String("user_id", alert.UserID),
		)
	}
}
