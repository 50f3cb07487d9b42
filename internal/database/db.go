package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockpulse/internal/config"
	"blockpulse/internal/models"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertExists   = errors.New("alert already exists for this coin")
)

// Store is the persistence boundary for alerts and the email failure audit trail.
type Store interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlertByID(ctx context.Context, id string) (*models.Alert, error)
	GetAlertByUserAndSymbol(ctx context.Context, userID, symbolID string) (*models.Alert, error)
	GetAlertsByUserID(ctx context.Context, userID string) ([]*models.Alert, error)
	GetAllAlerts(ctx context.Context) ([]*models.Alert, error)
	// UpdateAlert sets only the non-nil fields of update.
	UpdateAlert(ctx context.Context, id string, update AlertUpdate) error
	TouchAlert(ctx context.Context, id string, at time.Time) error
	DeleteAlert(ctx context.Context, id string) error

	InsertEmailFailure(ctx context.Context, failure *models.EmailFailure) error

	Close() error
}

// AlertUpdate lists the mutable alert fields; nil means "leave unchanged".
type AlertUpdate struct {
	Name              *string
	Symbol            *string
	Logo              *string
	TargetPrice       *float64
	PriceWhenAlertSet *float64
	AlertMode         *models.AlertMode
	UpdatedAt         *time.Time
}

func (u AlertUpdate) IsEmpty() bool {
	return u.Name == nil && u.Symbol == nil && u.Logo == nil &&
		u.TargetPrice == nil && u.PriceWhenAlertSet == nil &&
		u.AlertMode == nil && u.UpdatedAt == nil
}

// Apply copies the set fields onto alert.
func (u AlertUpdate) Apply(alert *models.Alert) {
	if u.Name != nil {
		alert.Name = *u.Name
	}
	if u.Symbol != nil {
		alert.Symbol = *u.Symbol
	}
	if u.Logo != nil {
		alert.Logo = *u.Logo
	}
	if u.TargetPrice != nil {
		alert.TargetPrice = *u.TargetPrice
	}
	if u.PriceWhenAlertSet != nil {
		alert.PriceWhenAlertSet = *u.PriceWhenAlertSet
	}
	if u.AlertMode != nil {
		alert.AlertMode = *u.AlertMode
	}
	if u.UpdatedAt != nil {
		at := *u.UpdatedAt
		alert.UpdatedAt = &at
	}
}

// fields returns the set fields keyed by their storage column, in a fixed order.
func (u AlertUpdate) fields() ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Symbol != nil {
		add("symbol", *u.Symbol)
	}
	if u.Logo != nil {
		add("logo", *u.Logo)
	}
	if u.TargetPrice != nil {
		add("target_price", *u.TargetPrice)
	}
	if u.PriceWhenAlertSet != nil {
		add("price_when_alert_set", *u.PriceWhenAlertSet)
	}
	if u.AlertMode != nil {
		add("alert_mode", string(*u.AlertMode))
	}
	if u.UpdatedAt != nil {
		add("updated_at", *u.UpdatedAt)
	}
	return cols, vals
}

// Open connects to the backend selected by cfg.DBDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBDriver {
	case "postgres", "":
		store, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case "mongo":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
