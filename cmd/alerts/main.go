package main

import (
	"context"
	"fmt"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockpulse/internal/alerting"
	"blockpulse/internal/cache"
	"blockpulse/internal/coingecko"
	"blockpulse/internal/config"
	"blockpulse/internal/database"
	"blockpulse/internal/events"
	"blockpulse/internal/handlers"
	"blockpulse/internal/logger"
	"blockpulse/internal/notify"
	"blockpulse/internal/tracing"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	port := flag.String("port", cfg.Port, "Port for alerts service")
	instance := flag.String("instance", cfg.Instance, "Instance ID for this server")
	dbConn := flag.String("db", cfg.DatabaseURL, "Database connection string")
	flag.Parse()
	cfg.Port, cfg.Instance, cfg.DatabaseURL = *port, *instance, *dbConn

	logger.InitLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint, "blockpulse-alerts")
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	redisCache, err := cache.Connect(ctx, cfg.RedisAddr, cfg.Instance)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	prices := coingecko.NewClient(cfg.CoinGeckoBaseURL, coingecko.WithAPIKey(cfg.CoinGeckoAPIKey))

	notifier, err := notify.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize notifier", zap.Error(err))
	}

	publisher, closePublisher, err := events.FromConfig(cfg.KafkaBrokers, cfg.KafkaTopic, redisCache)
	if err != nil {
		logger.Log.Fatal("Failed to initialize alert publisher", zap.Error(err))
	}
	defer closePublisher()

	evaluator := alerting.NewEvaluator(store, prices, notifier, alerting.Options{
		Currency:  cfg.PriceCurrency,
		SiteURL:   cfg.SiteURL,
		Publisher: publisher,
	})
	runner := alerting.NewRunner(evaluator, redisCache, cfg.RunLeaseTTL)

	hub := handlers.NewHub(cfg.SiteURL)
	subscriber, err := redisCache.Subscribe(ctx, events.AlertsChannel)
	if err != nil {
		logger.Log.Fatal("Failed to subscribe to alerts channel", zap.Error(err))
	}
	defer subscriber.Close()
	go hub.Listen(ctx, subscriber)

	if cfg.CronSecret == "" {
		logger.Log.Warn("CRON_SECRET not set, the alert check trigger will reject every request")
	}

	router := handlers.NewRouter(handlers.Deps{
		Alerts: &handlers.AlertsAPI{
			Store:    store,
			Prices:   prices,
			Cache:    redisCache,
			Currency: cfg.PriceCurrency,
		},
		Market: &handlers.MarketHandler{
			Coins:    prices,
			Cache:    redisCache,
			Currency: cfg.PriceCurrency,
		},
		Cron:        &handlers.CronHandler{Runner: runner, Secret: cfg.CronSecret},
		Hub:         hub,
		Auth:        handlers.NewAuthenticator(cfg.AuthSecret),
		RateLimiter: redis_rate.NewLimiter(redisCache.Client()),
		RateLimit:   handlers.DefaultRateLimit,
		Instance:    cfg.Instance,
		Ready: func(ctx context.Context) error {
			return redisCache.Client().Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Alerts service starting", zap.String("port", cfg.Port), zap.String("instance", cfg.Instance))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Alerts service failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down alerts service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
