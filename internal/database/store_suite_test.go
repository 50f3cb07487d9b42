package database

import (
	"context"
	"testing"
	"time"

	"blockpulse/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlert(userID, symbolID string, createdAt time.Time) *models.Alert {
	return &models.Alert{
		ID:                uuid.New().String(),
		UserID:            userID,
		SymbolID:          symbolID,
		Name:              "Bitcoin",
		Symbol:            "btc",
		Logo:              "https://assets.example.com/btc.png",
		TargetPrice:       70000,
		PriceWhenAlertSet: 65000,
		AlertMode:         models.AlertModeRecurring,
		Email:             userID + "@example.com",
		CreatedAt:         createdAt.UTC().Truncate(time.Millisecond),
	}
}

// runStoreSuite exercises the behaviour every Store backend must share.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	first := newTestAlert("user-1", "bitcoin", base)
	second := newTestAlert("user-1", "ethereum", base.Add(time.Minute))
	other := newTestAlert("user-2", "bitcoin", base.Add(2*time.Minute))

	t.Run("create and read back", func(t *testing.T) {
		for _, a := range []*models.Alert{first, second, other} {
			require.NoError(t, store.CreateAlert(ctx, a))
		}

		got, err := store.GetAlertByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.UserID, got.UserID)
		assert.Equal(t, first.SymbolID, got.SymbolID)
		assert.Equal(t, first.TargetPrice, got.TargetPrice)
		assert.Equal(t, first.AlertMode, got.AlertMode)
		assert.Nil(t, got.UpdatedAt)
	})

	t.Run("duplicate user and coin is rejected", func(t *testing.T) {
		dup := newTestAlert("user-1", "bitcoin", base)
		assert.ErrorIs(t, store.CreateAlert(ctx, dup), ErrAlertExists)
	})

	t.Run("lookup by user and coin", func(t *testing.T) {
		got, err := store.GetAlertByUserAndSymbol(ctx, "user-2", "bitcoin")
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.ID)

		_, err = store.GetAlertByUserAndSymbol(ctx, "user-2", "ethereum")
		assert.ErrorIs(t, err, ErrAlertNotFound)
	})

	t.Run("list by user newest first", func(t *testing.T) {
		alerts, err := store.GetAlertsByUserID(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, alerts, 2)
		assert.Equal(t, second.ID, alerts[0].ID)
		assert.Equal(t, first.ID, alerts[1].ID)
	})

	t.Run("list all oldest first", func(t *testing.T) {
		alerts, err := store.GetAllAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, alerts, 3)
		assert.Equal(t, first.ID, alerts[0].ID)
		assert.Equal(t, other.ID, alerts[2].ID)
	})

	t.Run("partial update leaves other fields", func(t *testing.T) {
		target := 80000.0
		mode := models.AlertModeOnce
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpdateAlert(ctx, first.ID, AlertUpdate{
			TargetPrice: &target,
			AlertMode:   &mode,
			UpdatedAt:   &now,
		}))

		got, err := store.GetAlertByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, target, got.TargetPrice)
		assert.Equal(t, models.AlertModeOnce, got.AlertMode)
		assert.Equal(t, first.Name, got.Name)
		assert.Equal(t, first.PriceWhenAlertSet, got.PriceWhenAlertSet)
		require.NotNil(t, got.UpdatedAt)
		assert.WithinDuration(t, now, *got.UpdatedAt, time.Millisecond)
	})

	t.Run("update missing alert", func(t *testing.T) {
		name := "x"
		assert.ErrorIs(t, store.UpdateAlert(ctx, "missing", AlertUpdate{Name: &name}), ErrAlertNotFound)
	})

	t.Run("touch sets updated at", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.TouchAlert(ctx, second.ID, at))

		got, err := store.GetAlertByID(ctx, second.ID)
		require.NoError(t, err)
		require.NotNil(t, got.UpdatedAt)
		assert.WithinDuration(t, at, *got.UpdatedAt, time.Millisecond)

		assert.ErrorIs(t, store.TouchAlert(ctx, "missing", at), ErrAlertNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteAlert(ctx, other.ID))
		_, err := store.GetAlertByID(ctx, other.ID)
		assert.ErrorIs(t, err, ErrAlertNotFound)
		assert.ErrorIs(t, store.DeleteAlert(ctx, other.ID), ErrAlertNotFound)
	})

	t.Run("email failure", func(t *testing.T) {
		err := store.InsertEmailFailure(ctx, &models.EmailFailure{
			ID:        uuid.New().String(),
			AlertID:   first.ID,
			Email:     first.Email,
			Error:     "smtp: connection refused",
			CreatedAt: time.Now().UTC(),
		})
		assert.NoError(t, err)
	})
}
