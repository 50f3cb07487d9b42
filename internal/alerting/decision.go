package alerting

import (
	"time"

	"blockpulse/internal/models"

	"github.com/shopspring/decimal"
)

// Cooldown is the minimum gap between two notifications of a recurring alert.
const Cooldown = 6 * time.Hour

// exactTolerance is the band around the target that counts as "reached" for
// alerts whose target equals the price when they were set.
var exactTolerance = decimal.RequireFromString("0.01")

// State is where an alert stands within one evaluation run.
type State int

const (
	// StateActive: no quote, or the condition does not hold.
	StateActive State = iota
	// StateCoolingDown: recurring alert that fired less than Cooldown ago.
	StateCoolingDown
	// StateDue: a notification must be dispatched now.
	StateDue
	// StateNotified: dispatch succeeded.
	StateNotified
	// StateFailed: dispatch failed and an email failure was recorded.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCoolingDown:
		return "cooling_down"
	case StateDue:
		return "due"
	case StateNotified:
		return "notified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	ReasonNoQuote      = "no_quote"
	ReasonNotTriggered = "not_triggered"
	ReasonCooldown     = "cooldown"
	ReasonTriggered    = "triggered"
)

// Decision is the outcome of evaluating one alert against one quote.
type Decision struct {
	State     State
	Reason    string
	Direction models.Direction
	Price     float64
}

// Decide evaluates alert against quote (ok=false when the price service had no
// data for the coin) at time now.
func Decide(alert *models.Alert, quote models.Quote, ok bool, now time.Time) Decision {
	d := Decision{Direction: alert.Direction(), Price: quote.Price}

	if !ok || quote.Price <= 0 {
		d.State, d.Reason = StateActive, ReasonNoQuote
		return d
	}
	if !Triggered(d.Direction, alert.TargetPrice, quote.Price) {
		d.State, d.Reason = StateActive, ReasonNotTriggered
		return d
	}
	if alert.AlertMode == models.AlertModeRecurring && alert.UpdatedAt != nil &&
		now.Sub(*alert.UpdatedAt) < Cooldown {
		d.State, d.Reason = StateCoolingDown, ReasonCooldown
		return d
	}

	d.State, d.Reason = StateDue, ReasonTriggered
	return d
}

// Triggered reports whether current satisfies the crossing condition.
func Triggered(direction models.Direction, target, current float64) bool {
	switch direction {
	case models.DirectionAbove:
		return current >= target
	case models.DirectionBelow:
		return current <= target
	default:
		diff := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(target)).Abs()
		return diff.LessThanOrEqual(exactTolerance)
	}
}
