package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blockpulse/internal/cache"
	"blockpulse/internal/coingecko"
	"blockpulse/internal/logger"
	"blockpulse/internal/models"
	"blockpulse/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	marketCacheTTL    = 5 * time.Minute
	marketCachePrefix = "market_"
	marketEndpoint    = "/market/coins"
	defaultPageSize   = 20
	maxPageSize       = 250
)

// CoinLister serves the market listing, optionally narrowed by a search term.
type CoinLister interface {
	ListCoins(ctx context.Context, page, limit int, search, currency string) ([]models.Coin, error)
}

// MarketHandler proxies the market listing through the Redis response cache.
type MarketHandler struct {
	Coins    CoinLister
	Cache    *cache.Cache // optional
	Currency string
}

func (h *MarketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "MarketCoinsHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	query := r.URL.Query()
	page, err := positiveInt(query.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := positiveInt(query.Get("limit"), defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	search := strings.TrimSpace(query.Get("search"))

	cacheKey := generateCacheKey(r, marketCachePrefix)
	if h.Cache != nil {
		cached, err := h.Cache.Get(ctx, cacheKey, marketEndpoint)
		if err == nil && cached != "" {
			logger.Log.Debug("Cache hit for /market/coins",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	currency := h.Currency
	if currency == "" {
		currency = "usd"
	}

	coins, err := h.Coins.ListCoins(ctx, page, limit, search, currency)
	if err != nil {
		if errors.Is(err, coingecko.ErrRateLimited) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Market data rate limited, try again shortly")
			return
		}
		logger.Log.Error("Failed to fetch market data",
			zap.String("trace_id", traceID),
			zap.String("search", search),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "Failed to fetch market data")
		return
	}
	if coins == nil {
		coins = []models.Coin{}
	}

	respBytes, err := json.Marshal(coins)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode JSON response")
		return
	}

	if h.Cache != nil {
		if cacheErr := h.Cache.Set(ctx, cacheKey, string(respBytes), marketCacheTTL); cacheErr != nil {
			logger.Log.Warn("Failed to store response in cache",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
				zap.Error(cacheErr),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

func positiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
