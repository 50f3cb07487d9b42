package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"blockpulse/internal/events"
	"blockpulse/internal/logger"
	"blockpulse/internal/models"
	"blockpulse/internal/notify"
	"blockpulse/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/mock_alerting.go -package=mocks blockpulse/internal/alerting PriceSource,Notifier,Locker

var (
	ErrLoadAlerts  = errors.New("failed to load alerts")
	ErrPriceQuery  = errors.New("price query failed")
	ErrNoRecipient = errors.New("alert has no recipient email")
)

// AlertStore is the slice of storage the evaluator needs.
type AlertStore interface {
	GetAllAlerts(ctx context.Context) ([]*models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	TouchAlert(ctx context.Context, id string, at time.Time) error
	InsertEmailFailure(ctx context.Context, failure *models.EmailFailure) error
}

// PriceSource returns current quotes for a batch of coin ids.
type PriceSource interface {
	SimplePrices(ctx context.Context, ids []string, currency string) (models.Quotes, error)
}

type Notifier interface {
	Send(ctx context.Context, to string, msg notify.Message) error
}

// Summary reports what a run did.
type Summary struct {
	Total    int    `json:"total"`
	Notified int    `json:"notified"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Message  string `json:"message"`
}

type Options struct {
	Currency  string
	SiteURL   string
	Publisher events.Publisher
	Clock     func() time.Time
}

// Evaluator checks every stored alert against one batch of current prices and
// notifies the owners of the alerts whose condition holds.
type Evaluator struct {
	store     AlertStore
	prices    PriceSource
	notifier  Notifier
	publisher events.Publisher
	currency  string
	siteURL   string
	now       func() time.Time
	log       *zap.Logger
}

func NewEvaluator(store AlertStore, prices PriceSource, notifier Notifier, opts Options) *Evaluator {
	e := &Evaluator{
		store:     store,
		prices:    prices,
		notifier:  notifier,
		publisher: opts.Publisher,
		currency:  opts.Currency,
		siteURL:   opts.SiteURL,
		now:       opts.Clock,
		log:       logger.Named("evaluator"),
	}
	if e.currency == "" {
		e.currency = "usd"
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Run performs one evaluation pass. Only a failed alert load or price query
// aborts it; per-alert failures are recorded and the loop moves on.
func (e *Evaluator) Run(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, "Evaluator.Run")
	defer span.End()

	alerts, err := e.store.GetAllAlerts(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, fmt.Errorf("%w: %w", ErrLoadAlerts, err)
	}
	if len(alerts) == 0 {
		return Summary{Message: "No alerts to check."}, nil
	}

	ids := distinctSymbols(alerts)
	quotes, err := e.fetchPrices(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, fmt.Errorf("%w: %w", ErrPriceQuery, err)
	}

	now := e.now()
	summary := Summary{Total: len(alerts)}

	for i, alert := range alerts {
		if ctx.Err() != nil {
			remaining := len(alerts) - i
			summary.Skipped += remaining
			e.log.Warn("Alert run interrupted, remaining alerts left for the next run",
				zap.Int("remaining", remaining),
				zap.Error(ctx.Err()),
			)
			break
		}

		quote, ok := quotes[alert.SymbolID]
		decision := Decide(alert, quote, ok, now)
		alertsEvaluatedTotal.WithLabelValues(decision.State.String()).Inc()

		switch decision.State {
		case StateDue:
			if e.dispatch(ctx, alert, decision, now) == StateNotified {
				summary.Notified++
			} else {
				summary.Failed++
			}
		default:
			summary.Skipped++
			e.log.Debug("Alert skipped",
				zap.String("alert_id", alert.ID),
				zap.String("symbol_id", alert.SymbolID),
				zap.String("state", decision.State.String()),
				zap.String("reason", decision.Reason),
			)
		}
	}

	summary.Message = fmt.Sprintf("Processed %d alerts.", len(alerts))
	span.SetAttributes(
		attribute.Int("alerts.total", summary.Total),
		attribute.Int("alerts.notified", summary.Notified),
		attribute.Int("alerts.failed", summary.Failed),
	)
	e.log.Info("Alert run completed",
		zap.Int("total", summary.Total),
		zap.Int("notified", summary.Notified),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (e *Evaluator) fetchPrices(ctx context.Context, ids []string) (models.Quotes, error) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, "Evaluator.fetchPrices",
		trace.WithAttributes(attribute.Int("symbols", len(ids))))
	defer span.End()

	quotes, err := e.prices.SimplePrices(ctx, ids, e.currency)
	if err != nil {
		span.RecordError(err)
		e.log.Error("Failed to fetch prices", zap.Strings("symbol_ids", ids), zap.Error(err))
		return nil, err
	}
	return quotes, nil
}

// dispatch sends the notification for a due alert and applies the mode's
// follow-up. It returns StateNotified or StateFailed.
func (e *Evaluator) dispatch(ctx context.Context, alert *models.Alert, decision Decision, now time.Time) State {
	ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, "Evaluator.dispatch",
		trace.WithAttributes(
			attribute.String("alert.id", alert.ID),
			attribute.String("alert.symbol_id", alert.SymbolID),
			attribute.String("alert.mode", string(alert.AlertMode)),
		))
	defer span.End()

	log := e.log.With(
		zap.String("alert_id", alert.ID),
		zap.String("user_id", alert.UserID),
		zap.String("symbol_id", alert.SymbolID),
	)
	mode := string(alert.AlertMode)

	if err := e.send(ctx, alert, decision.Price); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		notificationsTotal.WithLabelValues(mode, "failed").Inc()
		log.Warn("Failed to send alert notification", zap.Error(err))
		e.recordFailure(ctx, alert, err, now)
		return StateFailed
	}
	notificationsTotal.WithLabelValues(mode, "sent").Inc()
	log.Info("Alert notification sent",
		zap.Float64("target_price", alert.TargetPrice),
		zap.Float64("current_price", decision.Price),
		zap.String("direction", string(decision.Direction)),
	)

	var err error
	if alert.AlertMode == models.AlertModeOnce {
		err = e.store.DeleteAlert(ctx, alert.ID)
	} else {
		err = e.store.TouchAlert(ctx, alert.ID, now)
	}
	if err != nil {
		postDispatchFailuresTotal.WithLabelValues(mode).Inc()
		span.RecordError(err)
		log.Error("Alert notified but storage update failed", zap.Error(err))
	}

	e.publish(ctx, alert, decision, now)
	return StateNotified
}

func (e *Evaluator) send(ctx context.Context, alert *models.Alert, price float64) error {
	if alert.Email == "" {
		return ErrNoRecipient
	}
	msg, err := notify.Render(alert, price, e.siteURL)
	if err != nil {
		return err
	}
	return e.notifier.Send(ctx, alert.Email, msg)
}

func (e *Evaluator) recordFailure(ctx context.Context, alert *models.Alert, cause error, now time.Time) {
	failure := &models.EmailFailure{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		Email:     alert.Email,
		Error:     cause.Error(),
		CreatedAt: now,
	}
	if err := e.store.InsertEmailFailure(ctx, failure); err != nil {
		e.log.Error("Failed to record email failure",
			zap.String("alert_id", alert.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

func (e *Evaluator) publish(ctx context.Context, alert *models.Alert, decision Decision, now time.Time) {
	if e.publisher == nil {
		return
	}
	msg := models.AlertMessage{
		AlertID:      alert.ID,
		UserID:       alert.UserID,
		SymbolID:     alert.SymbolID,
		Symbol:       alert.Symbol,
		Name:         alert.Name,
		TargetPrice:  alert.TargetPrice,
		CurrentPrice: decision.Price,
		Triggered:    decision.Direction,
		AlertMode:    alert.AlertMode,
		Timestamp:    now.UTC().Format(time.RFC3339),
	}
	if err := e.publisher.PublishAlert(ctx, msg); err != nil {
		e.log.Warn("Failed to publish alert event", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

func distinctSymbols(alerts []*models.Alert) []string {
	seen := make(map[string]struct{}, len(alerts))
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := seen[a.SymbolID]; ok {
			continue
		}
		seen[a.SymbolID] = struct{}{}
		ids = append(ids, a.SymbolID)
	}
	sort.Strings(ids)
	return ids
}
