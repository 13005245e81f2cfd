package webauthn

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/vautr-io/vautr/crypto/keys"
)

// ChallengeMatches reports whether the challenge the browser signed over
// equals the expected one. Both sides are base64url but encoders
// disagree about '=' padding, so comparison is padding-normalized.
func ChallengeMatches(got, expected string) bool {
	return strings.TrimRight(got, "=") == strings.TrimRight(expected, "=")
}

// VerifyClientData parses collected client data and checks it belongs to
// this ceremony: right type, right challenge. The challenge is the VRF
// output issued for the ceremony, so a mismatch means the browser signed
// over a challenge this flow never produced.
func VerifyClientData(clientDataJSON []byte, ceremony protocol.CeremonyType, expectedChallenge string) (*protocol.CollectedClientData, error) {
	var clientData protocol.CollectedClientData
	if err := json.Unmarshal(clientDataJSON, &clientData); err != nil {
		return nil, fmt.Errorf("decoding client data: %w", err)
	}

	if clientData.Type != ceremony {
		return nil, fmt.Errorf("got %q, want %q: %w", clientData.Type, ceremony, ErrCeremonyType)
	}

	if !ChallengeMatches(string(clientData.Challenge), expectedChallenge) {
		return nil, ErrChallengeMismatch
	}

	return &clientData, nil
}

// VerifyAssertionSignature checks an authentication ceremony's signature
// against the credential COSE key. The signed message is the
// authenticator data followed by the client data hash, rebuilt here
// exactly as the authenticator constructed it.
func VerifyAssertionSignature(coseKey, clientDataJSON, authenticatorData, signature []byte) error {
	pubKey, err := webauthncose.ParsePublicKey(coseKey)
	if err != nil {
		return fmt.Errorf("parsing cose key: %w", err)
	}

	var authData protocol.AuthenticatorData
	if err := authData.Unmarshal(authenticatorData); err != nil {
		return fmt.Errorf("decoding authenticator data: %w", err)
	}

	if !authData.Flags.UserPresent() {
		return fmt.Errorf("user presence flag not set: %w", ErrSignatureInvalid)
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	signedData := make([]byte, 0, len(authenticatorData)+len(clientDataHash))
	signedData = append(signedData, authenticatorData...)
	signedData = append(signedData, clientDataHash[:]...)

	valid, err := webauthncose.VerifySignature(pubKey, signedData, signature)
	if err != nil {
		return fmt.Errorf("verifying signature: %w", err)
	}
	if !valid {
		return ErrSignatureInvalid
	}

	return nil
}

// VerifyAssertionClientData checks only the client data binding of an
// assertion: payload shape, ceremony type, and challenge. Flows that
// prove possession through PRF-derived keys instead of a stored
// credential public key use this in place of a signature check.
func VerifyAssertionClientData(cred *AuthenticationCredential, expectedChallenge string) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	clientDataJSON, err := keys.DecodeB64u(cred.Response.ClientDataJSON)
	if err != nil {
		return fmt.Errorf("clientDataJSON: %w", err)
	}

	_, err = VerifyClientData(clientDataJSON, protocol.AssertCeremony, expectedChallenge)
	return err
}

// VerifyAuthenticationCredential runs the full assertion check for one
// authentication credential: payload shape, client data binding to the
// expected challenge, and signature over the rebuilt message.
func VerifyAuthenticationCredential(cred *AuthenticationCredential, coseKey []byte, expectedChallenge string) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	clientDataJSON, err := keys.DecodeB64u(cred.Response.ClientDataJSON)
	if err != nil {
		return fmt.Errorf("clientDataJSON: %w", err)
	}
	authenticatorData, err := keys.DecodeB64u(cred.Response.AuthenticatorData)
	if err != nil {
		return fmt.Errorf("authenticatorData: %w", err)
	}
	signature, err := keys.DecodeB64u(cred.Response.Signature)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	if _, err := VerifyClientData(clientDataJSON, protocol.AssertCeremony, expectedChallenge); err != nil {
		return err
	}

	return VerifyAssertionSignature(coseKey, clientDataJSON, authenticatorData, signature)
}

// VerifyRegistrationCredential checks a registration credential's shape
// and client data binding, then returns the attested COSE public key.
// Attestation statement verification is out of scope: registration trust
// comes from the challenge binding, not from authenticator attestation.
func VerifyRegistrationCredential(cred *RegistrationCredential, expectedChallenge string) ([]byte, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	clientDataJSON, err := keys.DecodeB64u(cred.Response.ClientDataJSON)
	if err != nil {
		return nil, fmt.Errorf("clientDataJSON: %w", err)
	}

	if _, err := VerifyClientData(clientDataJSON, protocol.CreateCeremony, expectedChallenge); err != nil {
		return nil, err
	}

	return ExtractCosePublicKey(cred.Response.AttestationObject)
}
