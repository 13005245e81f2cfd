package webauthn

import (
	"crypto/ed25519"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/vautr-io/vautr/crypto/keys"
)

// ParseAttestationObject CBOR-decodes an attestation object and its
// embedded authenticator data.
func ParseAttestationObject(attestationObject []byte) (*protocol.AttestationObject, error) {
	var attObj protocol.AttestationObject
	if err := webauthncbor.Unmarshal(attestationObject, &attObj); err != nil {
		return nil, fmt.Errorf("decoding attestation object: %w", err)
	}

	if err := attObj.AuthData.Unmarshal(attObj.RawAuthData); err != nil {
		return nil, fmt.Errorf("decoding authenticator data: %w", err)
	}

	return &attObj, nil
}

// ExtractCosePublicKey pulls the credential COSE public key bytes out of
// a base64url attestation object. The returned bytes are the canonical
// CBOR form of the key, suitable for storage and later verification.
func ExtractCosePublicKey(attestationObjectB64u string) ([]byte, error) {
	raw, err := keys.DecodeB64u(attestationObjectB64u)
	if err != nil {
		return nil, fmt.Errorf("attestation object: %w", err)
	}

	attObj, err := ParseAttestationObject(raw)
	if err != nil {
		return nil, err
	}

	if !attObj.AuthData.Flags.HasAttestedCredentialData() {
		return nil, ErrNoAttestedCredential
	}

	coseKey := attObj.AuthData.AttData.CredentialPublicKey
	if len(coseKey) == 0 {
		return nil, ErrNoAttestedCredential
	}

	return coseKey, nil
}

// ParseCoseKeyToEd25519 returns the raw 32-byte Ed25519 public key held
// in a COSE credential key. Keys of any other type or algorithm fail
// with ErrNotEd25519Key.
func ParseCoseKeyToEd25519(coseKey []byte) (ed25519.PublicKey, error) {
	parsed, err := webauthncose.ParsePublicKey(coseKey)
	if err != nil {
		return nil, fmt.Errorf("parsing cose key: %w", err)
	}

	okp, ok := parsed.(webauthncose.OKPPublicKeyData)
	if !ok {
		return nil, ErrNotEd25519Key
	}
	if webauthncose.COSEAlgorithmIdentifier(okp.Algorithm) != webauthncose.AlgEdDSA {
		return nil, fmt.Errorf("cose algorithm %d: %w", okp.Algorithm, ErrNotEd25519Key)
	}
	if len(okp.XCoord) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("okp x coordinate length %d: %w", len(okp.XCoord), ErrNotEd25519Key)
	}

	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, okp.XCoord)
	return ed25519.PublicKey(pub), nil
}
