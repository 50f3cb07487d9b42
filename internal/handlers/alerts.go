package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"blockpulse/internal/cache"
	"blockpulse/internal/database"
	"blockpulse/internal/logger"
	"blockpulse/internal/models"
	"blockpulse/internal/tracing"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	alertsCacheTTL = 30 * time.Second
	alertsEndpoint = "/alerts"
)

var alertModes = []string{string(models.AlertModeOnce), string(models.AlertModeRecurring)}

type CreateAlertRequest struct {
	SymbolID          string   `json:"symbolId"`
	Name              string   `json:"name"`
	Symbol            string   `json:"symbol"`
	Logo              string   `json:"logo"`
	TargetPrice       float64  `json:"targetPrice"`
	AlertMode         string   `json:"alertMode"`
	PriceWhenAlertSet *float64 `json:"priceWhenAlertSet,omitempty"`
}

var createAlertSchema = z.Struct(z.Shape{
	"SymbolID":          z.String().Trim().Required(),
	"Name":              z.String().Trim().Required(),
	"Symbol":            z.String().Trim().Required(),
	"Logo":              z.String().Trim(),
	"TargetPrice":       z.Float64().Required().GT(0),
	"AlertMode":         z.String().Required().OneOf(alertModes),
	"PriceWhenAlertSet": z.Ptr(z.Float64().GT(0)),
})

type UpdateAlertRequest struct {
	Name        *string  `json:"name,omitempty"`
	Symbol      *string  `json:"symbol,omitempty"`
	Logo        *string  `json:"logo,omitempty"`
	TargetPrice *float64 `json:"targetPrice,omitempty"`
	AlertMode   *string  `json:"alertMode,omitempty"`
}

var updateAlertSchema = z.Struct(z.Shape{
	"Name":        z.Ptr(z.String().Trim()),
	"Symbol":      z.Ptr(z.String().Trim()),
	"Logo":        z.Ptr(z.String().Trim()),
	"TargetPrice": z.Ptr(z.Float64().GT(0)),
	"AlertMode":   z.Ptr(z.String().OneOf(alertModes)),
})

// PriceQuoter snapshots the current price when an alert is created or edited.
type PriceQuoter interface {
	SimplePrices(ctx context.Context, ids []string, currency string) (models.Quotes, error)
}

// AlertsAPI serves the authenticated user's alert CRUD endpoints.
type AlertsAPI struct {
	Store    database.Store
	Prices   PriceQuoter
	Cache    *cache.Cache // optional
	Currency string
	Clock    func() time.Time
}

func (a *AlertsAPI) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

// ServeHTTP routes /alerts and /alerts/{id} by method.
func (a *AlertsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(pathParts) < 2 || pathParts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			a.BrowseAlertsHandler(w, r)
		case http.MethodPost:
			a.CreateAlertHandler(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}
	if len(pathParts) > 2 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	alertID := pathParts[1]
	switch r.Method {
	case http.MethodGet:
		a.GetAlertHandler(w, r, alertID)
	case http.MethodPut, http.MethodPatch:
		a.UpdateAlertHandler(w, r, alertID)
	case http.MethodDelete:
		a.DeleteAlertHandler(w, r, alertID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// BrowseAlertsHandler lists the caller's alerts.
func (a *AlertsAPI) BrowseAlertsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "BrowseAlertsHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	user, _ := UserFromContext(ctx)
	cacheKey := generateCacheKey(r, userCachePrefix(user.ID))

	if a.Cache != nil {
		cached, err := a.Cache.Get(ctx, cacheKey, alertsEndpoint)
		if err == nil && cached != "" {
			logger.Log.Debug("Cache hit for /alerts",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	alerts, err := a.Store.GetAlertsByUserID(ctx, user.ID)
	if err != nil {
		logger.Log.Error("Failed to fetch alerts",
			zap.String("trace_id", traceID),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to fetch alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	respBytes, err := json.Marshal(Response{
		Message: "Alerts retrieved successfully",
		Data:    alerts,
	})
	if err != nil {
		logger.Log.Error("Failed to encode JSON response",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to encode JSON response")
		return
	}

	if a.Cache != nil {
		if cacheErr := a.Cache.Set(ctx, cacheKey, string(respBytes), alertsCacheTTL); cacheErr != nil {
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

// CreateAlertHandler creates an alert for the caller, snapshotting the
// current price as the baseline that fixes the alert's direction.
func (a *AlertsAPI) CreateAlertHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "CreateAlertHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	user, _ := UserFromContext(ctx)

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if issues := createAlertSchema.Validate(&req); issues != nil {
		logger.Log.Info("Rejected alert request",
			zap.String("trace_id", traceID),
			zap.String("user_id", user.ID),
		)
		writeValidationError(w, issues)
		return
	}
	if user.Email == "" {
		writeError(w, http.StatusBadRequest, "Account has no email address")
		return
	}

	if _, err := a.Store.GetAlertByUserAndSymbol(ctx, user.ID, req.SymbolID); err == nil {
		writeError(w, http.StatusConflict, database.ErrAlertExists.Error())
		return
	} else if !errors.Is(err, database.ErrAlertNotFound) {
		logger.Log.Error("Failed to check existing alert",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	baseline, ok, err := a.currentPrice(ctx, req.SymbolID)
	if err != nil {
		logger.Log.Warn("Price lookup failed while creating alert",
			zap.String("trace_id", traceID),
			zap.String("symbol_id", req.SymbolID),
			zap.Error(err),
		)
	}
	if !ok {
		if req.PriceWhenAlertSet == nil {
			if err != nil {
				writeError(w, http.StatusBadGateway, "Price service unavailable")
			} else {
				writeError(w, http.StatusUnprocessableEntity, "No current price available for this coin")
			}
			return
		}
		baseline = *req.PriceWhenAlertSet
	}

	if req.TargetPrice == baseline {
		writeError(w, http.StatusUnprocessableEntity, models.ErrNoDirection.Error())
		return
	}

	alert := &models.Alert{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		SymbolID:          req.SymbolID,
		Name:              req.Name,
		Symbol:            req.Symbol,
		Logo:              req.Logo,
		TargetPrice:       req.TargetPrice,
		PriceWhenAlertSet: baseline,
		AlertMode:         models.AlertMode(req.AlertMode),
		Email:             user.Email,
		CreatedAt:         a.now(),
	}

	if err := a.Store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, database.ErrAlertExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		logger.Log.Error("Failed to create alert",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	a.invalidate(ctx, user.ID)

	logger.Log.Info("Alert created",
		zap.String("trace_id", traceID),
		zap.String("alert_id", alert.ID),
		zap.String("user_id", user.ID),
		zap.String("symbol_id", alert.SymbolID),
	)
	writeJSON(w, http.StatusCreated, Response{
		Message: "Alert created successfully",
		Data:    alert,
	})
}

// GetAlertHandler retrieves one of the caller's alerts
func (a *AlertsAPI) GetAlertHandler(w http.ResponseWriter, r *http.Request, alertID string) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "GetAlertHandler")
	defer span.End()

	alert, ok := a.ownedAlert(ctx, w, alertID, span.SpanContext().TraceID().String())
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Alert retrieved successfully",
		Data:    alert,
	})
}

// UpdateAlertHandler edits an alert and re-baselines it at the current price.
func (a *AlertsAPI) UpdateAlertHandler(w http.ResponseWriter, r *http.Request, alertID string) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "UpdateAlertHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	existingAlert, ok := a.ownedAlert(ctx, w, alertID, traceID)
	if !ok {
		return
	}

	var req UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if issues := updateAlertSchema.Validate(&req); issues != nil {
		writeValidationError(w, issues)
		return
	}

	baseline, found, err := a.currentPrice(ctx, existingAlert.SymbolID)
	if err != nil {
		logger.Log.Warn("Price lookup failed while updating alert",
			zap.String("trace_id", traceID),
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "Price service unavailable")
		return
	}
	if !found {
		baseline = existingAlert.PriceWhenAlertSet
	}

	now := a.now()
	update := database.AlertUpdate{
		Name:              req.Name,
		Symbol:            req.Symbol,
		Logo:              req.Logo,
		TargetPrice:       req.TargetPrice,
		PriceWhenAlertSet: &baseline,
		UpdatedAt:         &now,
	}
	if req.AlertMode != nil {
		mode := models.AlertMode(*req.AlertMode)
		update.AlertMode = &mode
	}

	target := existingAlert.TargetPrice
	if req.TargetPrice != nil {
		target = *req.TargetPrice
	}
	if target == baseline {
		writeError(w, http.StatusUnprocessableEntity, models.ErrNoDirection.Error())
		return
	}

	if err := a.Store.UpdateAlert(ctx, alertID, update); err != nil {
		if errors.Is(err, database.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		logger.Log.Error("Failed to update alert",
			zap.String("trace_id", traceID),
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to update alert")
		return
	}
	update.Apply(existingAlert)

	a.invalidate(ctx, existingAlert.UserID)

	writeJSON(w, http.StatusOK, Response{
		Message: "Alert updated successfully",
		Data:    existingAlert,
	})
}

// DeleteAlertHandler deletes one of the caller's alerts
func (a *AlertsAPI) DeleteAlertHandler(w http.ResponseWriter, r *http.Request, alertID string) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "DeleteAlertHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	alert, ok := a.ownedAlert(ctx, w, alertID, traceID)
	if !ok {
		return
	}

	if err := a.Store.DeleteAlert(ctx, alertID); err != nil && !errors.Is(err, database.ErrAlertNotFound) {
		logger.Log.Error("Failed to delete alert",
			zap.String("trace_id", traceID),
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to delete alert")
		return
	}

	a.invalidate(ctx, alert.UserID)

	writeJSON(w, http.StatusOK, Response{
		Message: "Alert deleted successfully",
	})
}

// ownedAlert loads alertID and hides alerts of other users behind a 404.
func (a *AlertsAPI) ownedAlert(ctx context.Context, w http.ResponseWriter, alertID, traceID string) (*models.Alert, bool) {
	user, _ := UserFromContext(ctx)

	alert, err := a.Store.GetAlertByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, database.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return nil, false
		}
		logger.Log.Error("Failed to fetch alert",
			zap.String("trace_id", traceID),
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to fetch alert")
		return nil, false
	}
	if alert.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Alert not found")
		return nil, false
	}
	return alert, true
}

// currentPrice returns ok=false when the price service has no quote.
func (a *AlertsAPI) currentPrice(ctx context.Context, symbolID string) (float64, bool, error) {
	currency := a.Currency
	if currency == "" {
		currency = "usd"
	}
	quotes, err := a.Prices.SimplePrices(ctx, []string{symbolID}, currency)
	if err != nil {
		return 0, false, err
	}
	q, ok := quotes[symbolID]
	if !ok || q.Price <= 0 {
		return 0, false, nil
	}
	return q.Price, true, nil
}

func (a *AlertsAPI) invalidate(ctx context.Context, userID string) {
	if a.Cache != nil {
		a.Cache.InvalidateByPrefix(ctx, userCachePrefix(userID), alertsEndpoint)
	}
}

func userCachePrefix(userID string) string {
	return "alerts_" + userID + "_"
}
