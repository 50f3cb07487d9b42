package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"blockpulse/internal/alerting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	summary alerting.Summary
	err     error
	calls   int
}

func (f *fakeRunner) Run(context.Context) (alerting.Summary, error) {
	f.calls++
	return f.summary, f.err
}

func cronRequest(t *testing.T, h http.Handler, method, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, CronPath, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCronRejectsBadSecretBeforeRunning(t *testing.T) {
	for name, header := range map[string]string{
		"missing header": "",
		"wrong secret":   "Bearer nope",
		"prefix only":    "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := &CronHandler{Runner: runner, Secret: "s3cret"}

			rec := cronRequest(t, h, http.MethodPost, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
			assert.Zero(t, runner.calls)
		})
	}
}

func TestCronWithoutConfiguredSecretIsAlwaysUnauthorized(t *testing.T) {
	runner := &fakeRunner{}
	h := &CronHandler{Runner: runner}

	rec := cronRequest(t, h, http.MethodPost, "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestCronRunsEvaluator(t *testing.T) {
	for _, header := range []string{"s3cret", "Bearer s3cret"} {
		runner := &fakeRunner{summary: alerting.Summary{Total: 3, Notified: 2, Message: "Processed 3 alerts."}}
		h := &CronHandler{Runner: runner, Secret: "s3cret"}

		rec := cronRequest(t, h, http.MethodPost, header)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"Processed 3 alerts.","notified":2}`, rec.Body.String())
		assert.Equal(t, 1, runner.calls)
	}
}

func TestCronNoAlerts(t *testing.T) {
	runner := &fakeRunner{summary: alerting.Summary{Message: "No alerts to check."}}
	h := &CronHandler{Runner: runner, Secret: "s3cret"}

	rec := cronRequest(t, h, http.MethodPost, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"No alerts to check.","notified":0}`, rec.Body.String())
}

func TestCronErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"run in progress", alerting.ErrRunInProgress, http.StatusConflict},
		{"price failure", fmt.Errorf("%w: %w", alerting.ErrPriceQuery, errors.New(`coingecko: status 500: {"secret":"upstream body"}`)), http.StatusBadGateway},
		{"load failure", fmt.Errorf("%w: %w", alerting.ErrLoadAlerts, errors.New("pq: password authentication failed")), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &CronHandler{Runner: &fakeRunner{err: tc.err}, Secret: "s3cret"}

			rec := cronRequest(t, h, http.MethodPost, "s3cret")
			assert.Equal(t, tc.want, rec.Code)
			msg := decode[ErrorResponse](t, rec).Error
			assert.NotEmpty(t, msg)
			assert.NotContains(t, msg, "upstream body")
			assert.NotContains(t, msg, "pq:")
		})
	}
}

func TestCronOnlyAcceptsPost(t *testing.T) {
	runner := &fakeRunner{}
	h := &CronHandler{Runner: runner, Secret: "s3cret"}

	rec := cronRequest(t, h, http.MethodGet, "s3cret")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, runner.calls)
}
