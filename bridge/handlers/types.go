package handlers

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/vault"
)

// ErrorResponse is the uniform handler error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest asks for a relay token for one NEAR account.
type LoginRequest struct {
	AccountID string `json:"account_id"`
}

// LoginResponse carries the signed token.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// RelayClaims are the JWT claims relay tokens carry.
type RelayClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Shamir lock server shapes. Field elements travel base64url without
// padding; handlers never log their contents.

// ApplyLockRequest carries a client-locked KEK element.
type ApplyLockRequest struct {
	KekCB64u string `json:"kek_c_b64u"`
}

// ApplyLockResponse carries the element with the server lock added.
type ApplyLockResponse struct {
	KekCSB64u string `json:"kek_cs_b64u"`
}

// RemoveLockRequest carries a dual-locked KEK element.
type RemoveLockRequest struct {
	KekCSB64u string `json:"kek_cs_b64u"`
}

// RemoveLockResponse carries the element with the server lock removed.
type RemoveLockResponse struct {
	KekCB64u string `json:"kek_c_b64u"`
}

// ShamirInfoResponse advertises the suite and routes a client needs to
// run the lock protocol against this server.
type ShamirInfoResponse struct {
	PB64u           string `json:"p_b64u"`
	Fingerprint     string `json:"p_fingerprint"`
	ApplyLockRoute  string `json:"apply_lock_route"`
	RemoveLockRoute string `json:"remove_lock_route"`
}

// SubmitResponse answers a task submission with the task id and where
// to stream its progress.
type SubmitResponse struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	WSPath     string `json:"ws_path"`
	EventsPath string `json:"events_path"`
}

// TaskStatusMessage is one outbound streaming frame, shared by the
// WebSocket and SSE surfaces.
type TaskStatusMessage struct {
	TaskID   string               `json:"task_id"`
	Status   string               `json:"status"`
	Event    *vault.ProgressEvent `json:"event,omitempty"`
	Prompt   *PromptPayload       `json:"prompt,omitempty"`
	Ceremony *CeremonyPayload     `json:"ceremony,omitempty"`
	Result   json.RawMessage      `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
	Time     time.Time            `json:"timestamp"`
}

// Statuses a TaskStatusMessage can carry.
const (
	StatusConnected = "connected"
	StatusProgress  = "progress"
	StatusPrompt    = "prompt"
	StatusCeremony  = "ceremony"
	StatusDone      = "done"
	StatusPong      = "pong"
	StatusKeepalive = "keepalive"
)

// PromptPayload asks the client to render a confirmation prompt.
type PromptPayload struct {
	Data   vault.SetTxDataPayload   `json:"data"`
	Config vault.ConfirmationConfig `json:"config"`
}

// CeremonyPayload asks the client to run the platform passkey ceremony
// for the prepared challenge.
type CeremonyPayload struct {
	Challenge challenge.VrfChallenge `json:"challenge"`
	RpID      string                 `json:"rpId"`
}

// ClientMessage is one inbound frame from the streaming client.
type ClientMessage struct {
	Type       string          `json:"type"`
	Digest     string          `json:"digest,omitempty"`
	Credential json.RawMessage `json:"credential,omitempty"`
}

// Inbound message types.
const (
	ClientConfirm    = "CONFIRM"
	ClientCancel     = "CANCEL"
	ClientCredential = "CREDENTIAL"
	ClientPing       = "PING"
)
