package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaims(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	user, err := auth.Parse(signToken(t, jwt.MapClaims{"sub": "user-1", "email": "u1@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, User{ID: "user-1", Email: "u1@example.com"}, user)

	user, err = auth.Parse(signToken(t, jwt.MapClaims{"userId": float64(42)}))
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)
	assert.Empty(t, user.Email)
}

func TestParseRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	_, err := auth.Parse(signToken(t, jwt.MapClaims{"email": "u1@example.com"}))
	assert.Error(t, err, "no user id")

	_, err = auth.Parse(signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()}))
	assert.Error(t, err, "expired")

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = auth.Parse(other)
	assert.Error(t, err, "wrong key")

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Parse(hs512)
	assert.Error(t, err, "wrong algorithm")
}

func TestMiddlewareInjectsUser(t *testing.T) {
	var got User
	h := NewAuthenticator(testSecret).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1", "u1@example.com"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got.ID)
}

func TestMiddlewareWithoutSecret(t *testing.T) {
	h := NewAuthenticator("").Middleware(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1", "u1@example.com"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
