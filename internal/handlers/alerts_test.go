package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blockpulse/internal/alerting/mocks"
	"blockpulse/internal/database"
	"blockpulse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type alertsFixture struct {
	store  *database.MemoryStore
	prices *mocks.MockPriceSource
	api    *AlertsAPI
	router http.Handler
}

func newAlertsFixture(t *testing.T) *alertsFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &alertsFixture{
		store:  database.NewMemoryStore(),
		prices: mocks.NewMockPriceSource(ctrl),
	}
	f.api = &AlertsAPI{
		Store:    f.store,
		Prices:   f.prices,
		Currency: "usd",
		Clock:    func() time.Time { return fixedNow },
	}
	f.router = NewRouter(Deps{Alerts: f.api, Auth: NewAuthenticator(testSecret)})
	return f
}

func (f *alertsFixture) quote(symbolID string, price float64) {
	f.prices.EXPECT().
		SimplePrices(gomock.Any(), []string{symbolID}, "usd").
		Return(models.Quotes{symbolID: {Currency: "usd", Price: price}}, nil)
}

func (f *alertsFixture) seed(t *testing.T, alert *models.Alert) {
	t.Helper()
	require.NoError(t, f.store.CreateAlert(context.Background(), alert))
}

func validCreateBody() map[string]any {
	return map[string]any{
		"symbolId":    "bitcoin",
		"name":        "Bitcoin",
		"symbol":      "btc",
		"logo":        "https://example.com/btc.png",
		"targetPrice": 50000.0,
		"alertMode":   "once",
	}
}

func TestCreateAlertSnapshotsCurrentPrice(t *testing.T) {
	f := newAlertsFixture(t)
	f.quote("bitcoin", 40000)

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[envelope[models.Alert]](t, rec)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "user-1", resp.Data.UserID)
	assert.Equal(t, "u1@example.com", resp.Data.Email)
	assert.Equal(t, 40000.0, resp.Data.PriceWhenAlertSet)
	assert.Equal(t, models.AlertModeOnce, resp.Data.AlertMode)
	assert.True(t, resp.Data.CreatedAt.Equal(fixedNow))

	stored, err := f.store.GetAlertByUserAndSymbol(context.Background(), "user-1", "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionAbove, stored.Direction())
}

func TestCreateAlertRejectsInvalidBody(t *testing.T) {
	f := newAlertsFixture(t)

	body := validCreateBody()
	delete(body, "symbolId")
	body["alertMode"] = "daily"

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Invalid request body", resp.Error)
	assert.NotEmpty(t, resp.Issues)
}

func TestCreateAlertDuplicateIsConflict(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, Email: "u1@example.com", CreatedAt: fixedNow})

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), validCreateBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateAlertTargetEqualToPriceIsRejected(t *testing.T) {
	f := newAlertsFixture(t)
	f.quote("bitcoin", 50000)

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), validCreateBody())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	alerts, err := f.store.GetAllAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestCreateAlertFallsBackToClientPrice(t *testing.T) {
	f := newAlertsFixture(t)
	f.prices.EXPECT().SimplePrices(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Quotes{}, nil)

	body := validCreateBody()
	body["priceWhenAlertSet"] = 60000.0

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[envelope[models.Alert]](t, rec)
	assert.Equal(t, 60000.0, resp.Data.PriceWhenAlertSet)
	assert.Equal(t, models.DirectionBelow, resp.Data.Direction())
}

func TestCreateAlertWithoutAnyPrice(t *testing.T) {
	t.Run("no quote", func(t *testing.T) {
		f := newAlertsFixture(t)
		f.prices.EXPECT().SimplePrices(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Quotes{}, nil)

		rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), validCreateBody())
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("price service down", func(t *testing.T) {
		f := newAlertsFixture(t)
		f.prices.EXPECT().SimplePrices(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

		rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", "u1@example.com"), validCreateBody())
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestCreateAlertRequiresEmailClaim(t *testing.T) {
	f := newAlertsFixture(t)

	rec := doJSON(t, f.router, http.MethodPost, "/alerts", userToken(t, "user-1", ""), validCreateBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsRequireAuthentication(t *testing.T) {
	f := newAlertsFixture(t)

	rec := doJSON(t, f.router, http.MethodGet, "/alerts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, f.router, http.MethodGet, "/alerts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBrowseAlertsReturnsOnlyCallersAlerts(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})
	f.seed(t, &models.Alert{ID: "a2", UserID: "user-2", SymbolID: "bitcoin", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})

	rec := doJSON(t, f.router, http.MethodGet, "/alerts", userToken(t, "user-1", "u1@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[envelope[[]models.Alert]](t, rec)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "a1", resp.Data[0].ID)
}

func TestBrowseAlertsIsCachedUntilAWrite(t *testing.T) {
	f := newAlertsFixture(t)
	c, _ := newTestCache(t)
	f.api.Cache = c
	token := userToken(t, "user-1", "u1@example.com")

	rec := doJSON(t, f.router, http.MethodGet, "/alerts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[envelope[[]models.Alert]](t, rec).Data)

	// Written behind the API's back: the cached listing is still served.
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "ethereum", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})
	rec = doJSON(t, f.router, http.MethodGet, "/alerts", token, nil)
	assert.Empty(t, decode[envelope[[]models.Alert]](t, rec).Data)

	f.quote("bitcoin", 40000)
	rec = doJSON(t, f.router, http.MethodPost, "/alerts", token, validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, f.router, http.MethodGet, "/alerts", token, nil)
	assert.Len(t, decode[envelope[[]models.Alert]](t, rec).Data, 2)
}

func TestGetAlertHidesOtherUsersAlerts(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-2", SymbolID: "bitcoin", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})

	rec := doJSON(t, f.router, http.MethodGet, "/alerts/a1", userToken(t, "user-1", "u1@example.com"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, f.router, http.MethodGet, "/alerts/a1", userToken(t, "user-2", "u2@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", decode[envelope[models.Alert]](t, rec).Data.ID)

	rec = doJSON(t, f.router, http.MethodGet, "/alerts/missing", userToken(t, "user-2", "u2@example.com"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAlertRebaselines(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", Name: "Bitcoin", TargetPrice: 50000, PriceWhenAlertSet: 40000, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow.Add(-time.Hour)})
	f.quote("bitcoin", 45000)

	rec := doJSON(t, f.router, http.MethodPatch, "/alerts/a1", userToken(t, "user-1", "u1@example.com"), map[string]any{
		"targetPrice": 42000.0,
		"alertMode":   "recurring",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.store.GetAlertByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 42000.0, stored.TargetPrice)
	assert.Equal(t, 45000.0, stored.PriceWhenAlertSet)
	assert.Equal(t, models.AlertModeRecurring, stored.AlertMode)
	assert.Equal(t, "Bitcoin", stored.Name)
	require.NotNil(t, stored.UpdatedAt)
	assert.True(t, stored.UpdatedAt.Equal(fixedNow))
	assert.Equal(t, models.DirectionBelow, stored.Direction())
}

func TestUpdateAlertRejectsTargetAtNewBaseline(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", TargetPrice: 50000, PriceWhenAlertSet: 40000, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})
	f.quote("bitcoin", 50000)

	rec := doJSON(t, f.router, http.MethodPut, "/alerts/a1", userToken(t, "user-1", "u1@example.com"), map[string]any{"name": "BTC"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	stored, err := f.store.GetAlertByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 40000.0, stored.PriceWhenAlertSet)
	assert.Nil(t, stored.UpdatedAt)
}

func TestDeleteAlert(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", TargetPrice: 1, PriceWhenAlertSet: 2, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})
	token := userToken(t, "user-1", "u1@example.com")

	rec := doJSON(t, f.router, http.MethodDelete, "/alerts/a1", userToken(t, "user-2", "u2@example.com"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, f.router, http.MethodDelete, "/alerts/a1", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := f.store.GetAlertByID(context.Background(), "a1")
	assert.ErrorIs(t, err, database.ErrAlertNotFound)
}

func TestAlertsMethodNotAllowed(t *testing.T) {
	f := newAlertsFixture(t)

	rec := doJSON(t, f.router, http.MethodDelete, "/alerts", userToken(t, "user-1", "u1@example.com"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUpdateAlertAppliesDisplayFields(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", Name: "Bitcoin", Symbol: "btc", TargetPrice: 50000, PriceWhenAlertSet: 40000, AlertMode: models.AlertModeRecurring, CreatedAt: fixedNow})
	f.quote("bitcoin", 41000)

	rec := doJSON(t, f.router, http.MethodPut, "/alerts/a1", userToken(t, "user-1", "u1@example.com"), map[string]any{
		"name":   "Bitcoin Core",
		"symbol": "xbt",
		"logo":   "https://example.com/xbt.png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[envelope[models.Alert]](t, rec)
	assert.Equal(t, "Bitcoin Core", resp.Data.Name)

	stored, err := f.store.GetAlertByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin Core", stored.Name)
	assert.Equal(t, "xbt", stored.Symbol)
	assert.Equal(t, "https://example.com/xbt.png", stored.Logo)
	assert.Equal(t, 50000.0, stored.TargetPrice)
	assert.Equal(t, 41000.0, stored.PriceWhenAlertSet)
	assert.Equal(t, models.AlertModeRecurring, stored.AlertMode)
}

func TestUpdateAlertRejectsInvalidFields(t *testing.T) {
	f := newAlertsFixture(t)
	f.seed(t, &models.Alert{ID: "a1", UserID: "user-1", SymbolID: "bitcoin", TargetPrice: 50000, PriceWhenAlertSet: 40000, AlertMode: models.AlertModeOnce, CreatedAt: fixedNow})
	token := userToken(t, "user-1", "u1@example.com")

	rec := doJSON(t, f.router, http.MethodPatch, "/alerts/a1", token, map[string]any{"alertMode": "daily"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.router, http.MethodPatch, "/alerts/a1", token, map[string]any{"targetPrice": -5.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := f.store.GetAlertByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertModeOnce, stored.AlertMode)
	assert.Equal(t, 50000.0, stored.TargetPrice)
}

func TestCreateAlertRejectsMalformedJSON(t *testing.T) {
	f := newAlertsFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(`{"symbolId":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1", "u1@example.com"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
