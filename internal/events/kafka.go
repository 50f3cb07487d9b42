package events

import (
	"context"
	"encoding/json"
	"fmt"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaPublisher produces alert messages keyed by user id.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: p, topic: topic}, nil
}

// PublishAlert waits for the broker's delivery report or ctx.
func (p *KafkaPublisher) PublishAlert(ctx context.Context, msg models.AlertMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.UserID),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("error producing Kafka message: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected Kafka event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
		logger.Log.Debug("Sent to Kafka",
			zap.String("topic", p.topic),
			zap.String("alert_id", msg.AlertID),
			zap.Int32("partition", m.TopicPartition.Partition),
		)
		return nil
	}
}

// Close flushes outstanding messages for up to five seconds.
func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		logger.Log.Warn("Kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	p.producer.Close()
}
