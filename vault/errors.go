package vault

import (
	"errors"
	"fmt"

	"github.com/vautr-io/vautr/crypto/aead"
	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/crypto/kdf"
	"github.com/vautr-io/vautr/crypto/shamir"
	"github.com/vautr-io/vautr/types/near"
	"github.com/vautr-io/vautr/types/webauthn"
)

// ErrorCode classifies a failure for callers that switch on kind rather
// than message text. Codes are stable wire values; messages are not.
type ErrorCode string

const (
	// CodeInputValidation covers malformed or missing request fields,
	// rejected before any flow state is touched.
	CodeInputValidation ErrorCode = "InputValidation"
	// CodeMissingPrfOutput means the authenticator did not honor a PRF
	// eval slot this operation requires.
	CodeMissingPrfOutput ErrorCode = "MissingPrfOutput"
	// CodeVrfNotUnlocked means a challenge operation ran before any VRF
	// keypair was bootstrapped, derived, or decrypted into memory.
	CodeVrfNotUnlocked ErrorCode = "VrfNotUnlocked"
	// CodeNotConfigured means a protocol entry point ran before its
	// process-wide configuration was set.
	CodeNotConfigured ErrorCode = "NotConfigured"
	// CodeAlreadyConfigured means a set-once configuration was set twice.
	CodeAlreadyConfigured ErrorCode = "AlreadyConfigured"
	// CodeInvalidFieldElement covers field arithmetic refusals: an
	// element outside the group, or a prime the keypair was not locked
	// under.
	CodeInvalidFieldElement ErrorCode = "InvalidFieldElement"
	// CodeDecryptionFailed is deliberately generic: wrong key, wrong
	// account binding, and corrupt ciphertext are indistinguishable.
	CodeDecryptionFailed ErrorCode = "DecryptionFailed"
	// CodeWebauthnCeremonyFailed covers platform ceremony rejection and
	// credentials that fail verification.
	CodeWebauthnCeremonyFailed ErrorCode = "WebauthnCeremonyFailed"
	// CodeChainStateStale means the challenge's block binding lags the
	// chain head beyond the configured tolerance.
	CodeChainStateStale ErrorCode = "ChainStateStale"
	// CodeDigestMismatch means the digest the user confirmed is not the
	// digest of what would be signed. Nothing is signed after it.
	CodeDigestMismatch ErrorCode = "DigestMismatch"
	// CodeNetworkFailure covers RPC and transport errors. Retries belong
	// to the networking layer; a flow treats these as fatal.
	CodeNetworkFailure ErrorCode = "NetworkFailure"
	// CodeUnknown is the fallback for unclassified errors.
	CodeUnknown ErrorCode = "Unknown"
)

// FlowError pairs an error with its taxonomy code. It wraps, so
// errors.Is still matches the underlying sentinel.
type FlowError struct {
	Code ErrorCode
	Err  error
}

// Error renders "Code: detail", the single string that failure payloads
// and logs carry.
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError tags err with an explicit code.
func NewFlowError(code ErrorCode, err error) *FlowError {
	return &FlowError{Code: code, Err: err}
}

// FlowErrorf formats a new coded error.
func FlowErrorf(code ErrorCode, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies err by its sentinel chain and tags it. An error
// already carrying a code keeps it; the first code assigned wins.
func WrapError(err error) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return &FlowError{Code: Classify(err), Err: err}
}

// CodeOf extracts the taxonomy code of err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Classify(err)
}

// Classify maps sentinel errors from the crypto and protocol layers onto
// the failure taxonomy. Anything unmatched is Unknown.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeUnknown

	case errors.Is(err, kdf.ErrMissingPrfOutput),
		errors.Is(err, webauthn.ErrMissingPrfOutput):
		return CodeMissingPrfOutput

	case errors.Is(err, challenge.ErrVrfNotUnlocked):
		return CodeVrfNotUnlocked

	case errors.Is(err, shamir.ErrNotConfigured):
		return CodeNotConfigured

	case errors.Is(err, shamir.ErrAlreadyConfigured):
		return CodeAlreadyConfigured

	// A prime mismatch means both sides are configured, just not with
	// each other; it surfaces as a field-level refusal.
	case errors.Is(err, shamir.ErrInvalidFieldElement),
		errors.Is(err, shamir.ErrInvalidPrime),
		errors.Is(err, challenge.ErrPrimeMismatch):
		return CodeInvalidFieldElement

	case errors.Is(err, aead.ErrDecryptionFailed):
		return CodeDecryptionFailed

	case errors.Is(err, webauthn.ErrChallengeMismatch),
		errors.Is(err, webauthn.ErrCeremonyType),
		errors.Is(err, webauthn.ErrSignatureInvalid),
		errors.Is(err, webauthn.ErrNotEd25519Key),
		errors.Is(err, webauthn.ErrNoAttestedCredential):
		return CodeWebauthnCeremonyFailed

	case errors.Is(err, webauthn.ErrMalformedCredential),
		errors.Is(err, near.ErrInvalidAccountID),
		errors.Is(err, near.ErrInvalidPublicKey),
		errors.Is(err, near.ErrInvalidPrivateKey),
		errors.Is(err, near.ErrInvalidBlockHash),
		errors.Is(err, near.ErrInvalidAmount),
		errors.Is(err, near.ErrInvalidGas),
		errors.Is(err, near.ErrUnknownActionKind),
		errors.Is(err, near.ErrUnknownKeyType),
		errors.Is(err, near.ErrMalformedAction):
		return CodeInputValidation

	default:
		return CodeUnknown
	}
}
