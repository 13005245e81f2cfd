package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func postJSON(t *testing.T, e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	return rr
}

func TestLoginIssuesToken(t *testing.T) {
	e := echo.New()
	e.POST("/auth/login", LoginHandler(testSecret))

	rr := postJSON(t, e, "/auth/login", `{"account_id":"alice.testnet"}`)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresAt, time.Now().Unix())

	claims := &RelayClaims{}
	parsed, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (any, error) {
		return testSecret, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, "alice.testnet", claims.AccountID)
	assert.Equal(t, "alice.testnet", claims.Subject)
	assert.Equal(t, TokenIssuer, claims.Issuer)
	assert.Equal(t, resp.ExpiresAt, claims.ExpiresAt.Unix())
}

func TestLoginRejectsMissingAccount(t *testing.T) {
	e := echo.New()
	e.POST("/auth/login", LoginHandler(testSecret))

	rr := postJSON(t, e, "/auth/login", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, ErrAccountIDRequired.Error(), resp.Error)
}

func TestLoginRejectsBadBody(t *testing.T) {
	e := echo.New()
	e.POST("/auth/login", LoginHandler(testSecret))

	rr := postJSON(t, e, "/auth/login", `{"account_id":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenSignedWithDifferentSecretRejected(t *testing.T) {
	e := echo.New()
	e.POST("/auth/login", LoginHandler(testSecret))

	rr := postJSON(t, e, "/auth/login", `{"account_id":"alice.testnet"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	_, err := jwt.ParseWithClaims(resp.Token, &RelayClaims{}, func(*jwt.Token) (any, error) {
		return []byte("other-secret"), nil
	})
	require.Error(t, err)
}
