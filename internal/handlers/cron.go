package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"blockpulse/internal/alerting"
	"blockpulse/internal/logger"
	"blockpulse/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// AlertRunner runs one evaluation pass over every stored alert.
type AlertRunner interface {
	Run(ctx context.Context) (alerting.Summary, error)
}

type cronResponse struct {
	Message  string `json:"message"`
	Notified int    `json:"notified"`
}

// CronHandler exposes the evaluator to an external scheduler.
type CronHandler struct {
	Runner AlertRunner
	Secret string
}

func (h *CronHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.authorized(r.Header.Get("Authorization")) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "CheckAlertsHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	summary, err := h.Runner.Run(ctx)
	if err != nil {
		status, msg := http.StatusInternalServerError, "Failed to check alerts"
		switch {
		case errors.Is(err, alerting.ErrRunInProgress):
			status, msg = http.StatusConflict, "An alert check is already in progress"
		case errors.Is(err, alerting.ErrPriceQuery):
			status, msg = http.StatusBadGateway, "Failed to fetch current prices"
		}
		logger.Log.Error("Alert check failed",
			zap.String("trace_id", traceID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}

	logger.Log.Info("Alert check completed",
		zap.String("trace_id", traceID),
		zap.Int("total", summary.Total),
		zap.Int("notified", summary.Notified),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	writeJSON(w, http.StatusOK, cronResponse{Message: summary.Message, Notified: summary.Notified})
}

// authorized accepts the raw secret or "Bearer <secret>". An empty secret
// authorizes nothing.
func (h *CronHandler) authorized(header string) bool {
	if h.Secret == "" || header == "" {
		return false
	}
	header = strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(header), []byte(h.Secret)) == 1
}
