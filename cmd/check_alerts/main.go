package main

import (
	"context"
	"fmt"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"blockpulse/internal/alerting"
	"blockpulse/internal/cache"
	"blockpulse/internal/coingecko"
	"blockpulse/internal/config"
	"blockpulse/internal/database"
	"blockpulse/internal/events"
	"blockpulse/internal/logger"
	"blockpulse/internal/notify"
	"blockpulse/internal/tracing"

	"go.uber.org/zap"
)

// check_alerts runs a single evaluation pass, for schedulers that start a
// process instead of calling the HTTP trigger.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	dbConn := flag.String("db", cfg.DatabaseURL, "Database connection string")
	flag.Parse()
	cfg.DatabaseURL = *dbConn

	logger.InitLogger()
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Log.Error("Alert check failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint, "blockpulse-check-alerts")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	redisCache, err := cache.Connect(ctx, cfg.RedisAddr, cfg.Instance)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, err := notify.New(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := events.FromConfig(cfg.KafkaBrokers, cfg.KafkaTopic, redisCache)
	if err != nil {
		return err
	}
	defer closePublisher()

	prices := coingecko.NewClient(cfg.CoinGeckoBaseURL, coingecko.WithAPIKey(cfg.CoinGeckoAPIKey))
	evaluator := alerting.NewEvaluator(store, prices, notifier, alerting.Options{
		Currency:  cfg.PriceCurrency,
		SiteURL:   cfg.SiteURL,
		Publisher: publisher,
	})

	summary, err := alerting.NewRunner(evaluator, redisCache, cfg.RunLeaseTTL).Run(ctx)
	if err != nil {
		return err
	}

	logger.Log.Info(summary.Message,
		zap.Int("total", summary.Total),
		zap.Int("notified", summary.Notified),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
