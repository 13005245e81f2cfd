package handlers

import "errors"

// Common errors for relay handling.
var (
	// Streaming errors
	ErrTaskIDRequired = errors.New("task ID is required")

	// Interactive channel errors
	ErrChannelClosed    = errors.New("task channel closed")
	ErrNoCredential     = errors.New("client returned no credential")
	ErrCeremonyDeclined = errors.New("client declined the passkey ceremony")

	// Auth errors
	ErrAccountIDRequired = errors.New("account ID is required")
)
