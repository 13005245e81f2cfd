// Package handlers provides the HTTP and streaming handlers for the
// Vautr relay server.
package handlers

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// TokenTTL bounds a relay session. Flows outliving it re-authenticate.
const TokenTTL = time.Hour

// TokenIssuer names this service in issued claims.
const TokenIssuer = "vautr-relay"

// LoginHandler issues the bearer token the relay routes require. The
// token scopes streaming and submission to one NEAR account; proof of
// control over the account happens inside the flows themselves, where
// every signature requires the passkey ceremony.
func LoginHandler(jwtSecret []byte) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req LoginRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
		if req.AccountID == "" {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrAccountIDRequired.Error()})
		}

		now := time.Now()
		expiresAt := now.Add(TokenTTL)
		claims := RelayClaims{
			AccountID: req.AccountID,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   req.AccountID,
				Issuer:    TokenIssuer,
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(jwtSecret)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "signing token"})
		}

		return c.JSON(http.StatusOK, LoginResponse{
			Token:     signed,
			ExpiresAt: expiresAt.Unix(),
		})
	}
}
