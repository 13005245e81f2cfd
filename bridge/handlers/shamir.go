package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/crypto/shamir"
)

// ShamirInfoHandler publishes the lock service parameters a client
// needs before enrolling: the shared prime, its fingerprint, and the
// two lock routes.
func ShamirInfoHandler(lock *shamir.Server, applyRoute, removeRoute string) echo.HandlerFunc {
	return func(c echo.Context) error {
		suite := lock.Suite()
		return c.JSON(http.StatusOK, ShamirInfoResponse{
			PB64u:           suite.PrimeB64u(),
			Fingerprint:     suite.Fingerprint(),
			ApplyLockRoute:  applyRoute,
			RemoveLockRoute: removeRoute,
		})
	}
}

// ApplyLockHandler applies the server lock to a client-locked KEK.
// Errors never echo the element; lengths are all the logs carry.
func ApplyLockHandler(logger zerolog.Logger, lock *shamir.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ApplyLockRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
		locked, err := lock.ApplyLock(req.KekCB64u)
		if err != nil {
			logger.Warn().
				Int("element_len", len(req.KekCB64u)).
				Err(err).
				Msg("apply-lock rejected")
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, ApplyLockResponse{KekCSB64u: locked})
	}
}

// RemoveLockHandler removes the server lock from a doubly-locked KEK,
// returning the element still under the client's lock.
func RemoveLockHandler(logger zerolog.Logger, lock *shamir.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req RemoveLockRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
		unlocked, err := lock.RemoveLock(req.KekCSB64u)
		if err != nil {
			logger.Warn().
				Int("element_len", len(req.KekCSB64u)).
				Err(err).
				Msg("remove-lock rejected")
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, RemoveLockResponse{KekCB64u: unlocked})
	}
}
