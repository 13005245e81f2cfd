// Package webauthn defines the credential payload shapes exchanged with
// the browser during passkey ceremonies and the helpers that pull key
// material back out of them: PRF extension outputs, COSE credential
// public keys, and assertion signature verification.
//
// The package never runs a ceremony itself. The platform WebAuthn API is
// an external collaborator; what arrives here is its JSON output, and
// everything in it is treated as attacker-controlled until verified.
package webauthn

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vautr-io/vautr/crypto/keys"
)

// CredentialType is the only credential type WebAuthn defines.
const CredentialType = "public-key"

var (
	// ErrMissingPrfOutput is returned when the authenticator or browser
	// did not honor the PRF extension for a requested eval slot
	ErrMissingPrfOutput = errors.New("missing prf extension output")

	// ErrMalformedCredential is returned when a credential payload is
	// missing required fields or fails to decode
	ErrMalformedCredential = errors.New("malformed credential payload")

	// ErrNoAttestedCredential is returned when an attestation object
	// carries no attested credential data block
	ErrNoAttestedCredential = errors.New("no attested credential data")

	// ErrNotEd25519Key is returned when a COSE credential key is not an
	// Ed25519 OKP key
	ErrNotEd25519Key = errors.New("credential key is not ed25519")

	// ErrChallengeMismatch is returned when the challenge the browser
	// signed over differs from the expected VRF output
	ErrChallengeMismatch = errors.New("client data challenge mismatch")

	// ErrCeremonyType is returned when client data carries the wrong
	// ceremony type for the operation being verified
	ErrCeremonyType = errors.New("unexpected client data ceremony type")

	// ErrSignatureInvalid is returned when an assertion signature does
	// not verify against the credential public key
	ErrSignatureInvalid = errors.New("assertion signature invalid")
)

// PrfEvalInputs carries the two PRF eval slot salts requested from the
// authenticator. The slots must use distinct salts so compromise of one
// output reveals nothing about the other's preimage relationship.
type PrfEvalInputs struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// NewPrfEvalInputs builds the eval salts for one account. Salts are
// deterministic because re-deriving the account's keys on a new device
// must request the same PRF evaluations; the per-slot domain prefixes
// keep the two outputs on independent chains.
func NewPrfEvalInputs(accountID string) PrfEvalInputs {
	first := sha256.Sum256([]byte("vautr-prf-chacha20-v1:" + accountID))
	second := sha256.Sum256([]byte("vautr-prf-ed25519-v1:" + accountID))
	return PrfEvalInputs{
		First:  keys.EncodeB64u(first[:]),
		Second: keys.EncodeB64u(second[:]),
	}
}

// PrfExtensionInputs is the request-side `prf` extension entry.
type PrfExtensionInputs struct {
	Eval *PrfEvalInputs `json:"eval,omitempty"`
}

// PrfOutputs holds the evaluated PRF slot outputs of one ceremony,
// base64url encoded.
type PrfOutputs struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// PrfExtensionResults is the result-side `prf` extension entry.
// Registration ceremonies without eval inputs only report Enabled;
// ceremonies that evaluated the PRF carry Results.
type PrfExtensionResults struct {
	Enabled *bool       `json:"enabled,omitempty"`
	Results *PrfOutputs `json:"results,omitempty"`
}

// ClientExtensionResults mirrors the credential's
// getClientExtensionResults() output for the extensions this package
// consumes.
type ClientExtensionResults struct {
	Prf *PrfExtensionResults `json:"prf,omitempty"`
}

// DualPrfOutputs names the two PRF outputs by the key chains they feed:
// the first eval slot seeds the chacha20 AEAD key, the second the
// ed25519 signing keypairs.
type DualPrfOutputs struct {
	Chacha20PrfOutput string `json:"chacha20PrfOutput"`
	Ed25519PrfOutput  string `json:"ed25519PrfOutput"`
}

// DualPrfOutputs maps the extension results onto the two derivation
// chains. Either slot absent fails with ErrMissingPrfOutput: no key
// material can be derived from half a ceremony.
func (c *ClientExtensionResults) DualPrfOutputs() (DualPrfOutputs, error) {
	if c == nil || c.Prf == nil || c.Prf.Results == nil {
		return DualPrfOutputs{}, ErrMissingPrfOutput
	}

	results := c.Prf.Results
	if results.First == "" {
		return DualPrfOutputs{}, fmt.Errorf("first eval slot: %w", ErrMissingPrfOutput)
	}
	if results.Second == "" {
		return DualPrfOutputs{}, fmt.Errorf("second eval slot: %w", ErrMissingPrfOutput)
	}

	return DualPrfOutputs{
		Chacha20PrfOutput: results.First,
		Ed25519PrfOutput:  results.Second,
	}, nil
}

// AttestationResponse is the authenticator response of a registration
// ceremony. All binary fields are base64url.
type AttestationResponse struct {
	ClientDataJSON    string   `json:"clientDataJSON"`
	AttestationObject string   `json:"attestationObject"`
	Transports        []string `json:"transports,omitempty"`
}

// RegistrationCredential is the credential JSON the browser produces
// from navigator.credentials.create().
type RegistrationCredential struct {
	ID                      string                  `json:"id"`
	RawID                   string                  `json:"rawId"`
	Type                    string                  `json:"type"`
	AuthenticatorAttachment string                  `json:"authenticatorAttachment,omitempty"`
	Response                AttestationResponse     `json:"response"`
	ClientExtensionResults  *ClientExtensionResults `json:"clientExtensionResults,omitempty"`
}

// Validate checks the fields every registration credential must carry
// before any of it is parsed further.
func (c *RegistrationCredential) Validate() error {
	if c == nil {
		return fmt.Errorf("nil credential: %w", ErrMalformedCredential)
	}
	if c.Type != CredentialType {
		return fmt.Errorf("credential type %q: %w", c.Type, ErrMalformedCredential)
	}
	if c.RawID == "" {
		return fmt.Errorf("empty rawId: %w", ErrMalformedCredential)
	}
	if _, err := keys.DecodeB64u(c.RawID); err != nil {
		return fmt.Errorf("rawId: %w", ErrMalformedCredential)
	}
	if c.Response.ClientDataJSON == "" {
		return fmt.Errorf("empty clientDataJSON: %w", ErrMalformedCredential)
	}
	if c.Response.AttestationObject == "" {
		return fmt.Errorf("empty attestationObject: %w", ErrMalformedCredential)
	}
	return nil
}

// RawIDBytes decodes the credential id.
func (c *RegistrationCredential) RawIDBytes() ([]byte, error) {
	return keys.DecodeB64u(c.RawID)
}

// ClientDataJSONBytes decodes the collected client data.
func (r *AttestationResponse) ClientDataJSONBytes() ([]byte, error) {
	return keys.DecodeB64u(r.ClientDataJSON)
}

// AssertionResponse is the authenticator response of an authentication
// ceremony. All binary fields are base64url; UserHandle may be empty
// for non-discoverable credentials.
type AssertionResponse struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

// AuthenticationCredential is the credential JSON the browser produces
// from navigator.credentials.get().
type AuthenticationCredential struct {
	ID                      string                  `json:"id"`
	RawID                   string                  `json:"rawId"`
	Type                    string                  `json:"type"`
	AuthenticatorAttachment string                  `json:"authenticatorAttachment,omitempty"`
	Response                AssertionResponse       `json:"response"`
	ClientExtensionResults  *ClientExtensionResults `json:"clientExtensionResults,omitempty"`
}

// Validate checks the fields every authentication credential must carry
// before any of it is parsed further.
func (c *AuthenticationCredential) Validate() error {
	if c == nil {
		return fmt.Errorf("nil credential: %w", ErrMalformedCredential)
	}
	if c.Type != CredentialType {
		return fmt.Errorf("credential type %q: %w", c.Type, ErrMalformedCredential)
	}
	if c.RawID == "" {
		return fmt.Errorf("empty rawId: %w", ErrMalformedCredential)
	}
	if _, err := keys.DecodeB64u(c.RawID); err != nil {
		return fmt.Errorf("rawId: %w", ErrMalformedCredential)
	}
	if c.Response.ClientDataJSON == "" {
		return fmt.Errorf("empty clientDataJSON: %w", ErrMalformedCredential)
	}
	if c.Response.AuthenticatorData == "" {
		return fmt.Errorf("empty authenticatorData: %w", ErrMalformedCredential)
	}
	if c.Response.Signature == "" {
		return fmt.Errorf("empty signature: %w", ErrMalformedCredential)
	}
	return nil
}

// DualPrfOutputs pulls the PRF outputs out of the assertion's extension
// results.
func (c *AuthenticationCredential) DualPrfOutputs() (DualPrfOutputs, error) {
	if c == nil {
		return DualPrfOutputs{}, ErrMissingPrfOutput
	}
	return c.ClientExtensionResults.DualPrfOutputs()
}

// ParseRegistrationCredential decodes a registration credential payload
// and validates its required fields.
func ParseRegistrationCredential(data []byte) (*RegistrationCredential, error) {
	var cred RegistrationCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ParseAuthenticationCredential decodes an authentication credential
// payload and validates its required fields.
func ParseAuthenticationCredential(data []byte) (*AuthenticationCredential, error) {
	var cred AuthenticationCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return &cred, nil
}
