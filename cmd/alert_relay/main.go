package main

import (
	"context"
	"fmt"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"blockpulse/internal/cache"
	"blockpulse/internal/config"
	"blockpulse/internal/events"
	"blockpulse/internal/logger"

	"go.uber.org/zap"
)

// alert_relay copies triggered-alert events from Kafka onto the Redis channel
// the stream handlers of a gateway listen on.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	groupID := flag.String("group", "alert-relay-group", "Kafka consumer group")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address of the gateways to relay to")
	flag.Parse()

	logger.InitLogger()
	defer logger.Sync()

	if !cfg.KafkaEnabled() {
		logger.Log.Fatal("KAFKA_BROKERS must be set for the alert relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisCache, err := cache.Connect(ctx, *redisAddr, cfg.Instance)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, *groupID, cfg.KafkaTopic)
	if err != nil {
		logger.Log.Fatal("Failed to start Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	logger.Log.Info("Relaying triggered alerts",
		zap.String("topic", cfg.KafkaTopic),
		zap.String("channel", events.AlertsChannel),
	)

	if err := events.NewRelay(consumer, events.NewRedisPublisher(redisCache)).Run(ctx); err != nil {
		logger.Log.Error("Relay stopped", zap.Error(err))
	}
}
