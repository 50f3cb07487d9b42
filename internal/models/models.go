package models

import (
	"errors"
	"time"
)

// ErrNoDirection is returned for an alert whose target equals its baseline price.
var ErrNoDirection = errors.New("target price must differ from the current price")

// AlertMode governs what happens to an alert after it fires.
type AlertMode string

const (
	AlertModeOnce      AlertMode = "once"
	AlertModeRecurring AlertMode = "recurring"
)

func (m AlertMode) Valid() bool {
	return m == AlertModeOnce || m == AlertModeRecurring
}

// Direction is the side of the baseline price the target sits on.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
	// DirectionExact only occurs for records whose target equals the baseline,
	// which the CRUD layer refuses to create.
	DirectionExact Direction = "exact"
)

// Alert is a user's price alert for one coin.
type Alert struct {
	ID                string     `json:"id" db:"id" bson:"_id"`
	UserID            string     `json:"userId" db:"user_id" bson:"userId"`
	SymbolID          string     `json:"symbolId" db:"symbol_id" bson:"symbolId"`
	Name              string     `json:"name" db:"name" bson:"name"`
	Symbol            string     `json:"symbol" db:"symbol" bson:"symbol"`
	Logo              string     `json:"logo" db:"logo" bson:"logo"`
	TargetPrice       float64    `json:"targetPrice" db:"target_price" bson:"targetPrice"`
	PriceWhenAlertSet float64    `json:"priceWhenAlertSet" db:"price_when_alert_set" bson:"priceWhenAlertSet"`
	AlertMode         AlertMode  `json:"alertMode" db:"alert_mode" bson:"alertMode"`
	Email             string     `json:"email" db:"email" bson:"email"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at" bson:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty" db:"updated_at" bson:"updatedAt,omitempty"`
}

// Direction derives the crossing side from the target and the baseline.
func (a *Alert) Direction() Direction {
	switch {
	case a.TargetPrice > a.PriceWhenAlertSet:
		return DirectionAbove
	case a.TargetPrice < a.PriceWhenAlertSet:
		return DirectionBelow
	default:
		return DirectionExact
	}
}

// EmailFailure is an audit record written whenever a notification cannot be sent.
type EmailFailure struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	AlertID   string    `json:"alertId" db:"alert_id" bson:"alertId"`
	Email     string    `json:"email" db:"email" bson:"email"`
	Error     string    `json:"error" db:"error" bson:"error"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// Quote is a spot price in a single currency.
type Quote struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}

// Quotes maps a price-service coin id to its quote. Coins the service knows
// nothing about are simply absent.
type Quotes map[string]Quote

// Coin is one row of the market listing shown on the dashboard.
type Coin struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Symbol                   string  `json:"symbol"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
}

// AlertMessage is published after an alert notification went out.
type AlertMessage struct {
	AlertID      string    `json:"alert_id"`
	UserID       string    `json:"user_id"`
	SymbolID     string    `json:"symbol_id"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	TargetPrice  float64   `json:"target_price"`
	CurrentPrice float64   `json:"current_price"`
	Triggered    Direction `json:"triggered"` // "above", "below" or "exact"
	AlertMode    AlertMode `json:"alert_mode"`
	Timestamp    string    `json:"timestamp"`
}
