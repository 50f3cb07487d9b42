package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const CronPath = "/api/cron/check-alerts"

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Alerts      *AlertsAPI
	Market      *MarketHandler
	Cron        *CronHandler
	Hub         *Hub
	Auth        *Authenticator
	RateLimiter RateLimiter
	RateLimit   redis_rate.Limit
	Instance    string
	// Ready reports backend health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter wires the routes and wraps them in recovery, logging and rate limiting.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", healthz(d.Ready))
	mux.Handle("/metrics", promhttp.Handler())

	if d.Cron != nil {
		mux.Handle(CronPath, d.Cron)
	}
	if d.Market != nil {
		mux.Handle("/market/coins", d.Market)
	}

	auth := d.Auth
	if auth == nil {
		auth = NewAuthenticator("")
	}

	if d.Hub != nil {
		mux.Handle("/alerts/stream", auth.Middleware(http.HandlerFunc(d.Hub.StreamAlertsHandler)))
		mux.Handle("/alerts/ws", auth.Middleware(http.HandlerFunc(d.Hub.WebSocketHandler)))
	}

	if d.Alerts != nil {
		alerts := auth.Middleware(d.Alerts)
		mux.Handle("/alerts", alerts)
		mux.Handle("/alerts/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/alerts/") {
				alerts.ServeHTTP(w, r)
			} else {
				http.NotFound(w, r)
			}
		}))
	}

	limit := d.RateLimit
	if limit.IsZero() {
		limit = DefaultRateLimit
	}

	var handler http.Handler = mux
	handler = RateLimit(d.RateLimiter, limit, CronPath, "/healthz", "/metrics")(handler)
	handler = Logging(d.Instance)(handler)
	return Recover(handler)
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, Response{Message: "ok"})
	}
}
