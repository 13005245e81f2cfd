package webauthn

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/stretchr/testify/require"
)

const (
	testRpID   = "example.localhost"
	testOrigin = "https://example.localhost"
)

// testAuthenticator stands in for the platform authenticator: it holds
// an Ed25519 credential key and produces the same byte structures a real
// one would hand back through the browser.
type testAuthenticator struct {
	priv         ed25519.PrivateKey
	pub          ed25519.PublicKey
	credentialID []byte
	aaguid       []byte
	rpIDHash     [32]byte
	signCount    uint32
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	credID := make([]byte, 32)
	_, err = rand.Read(credID)
	require.NoError(t, err)

	return &testAuthenticator{
		priv:         priv,
		pub:          pub,
		credentialID: credID,
		aaguid:       make([]byte, 16),
		rpIDHash:     sha256.Sum256([]byte(testRpID)),
		signCount:    1,
	}
}

// coseKey returns the credential public key in COSE form: OKP key type,
// EdDSA algorithm, Ed25519 curve.
func (a *testAuthenticator) coseKey(t *testing.T) []byte {
	t.Helper()

	key, err := webauthncbor.Marshal(map[int]interface{}{
		1:  1,  // kty: OKP
		3:  -8, // alg: EdDSA
		-1: 6,  // crv: Ed25519
		-2: []byte(a.pub),
	})
	require.NoError(t, err)

	return key
}

// authData builds the authenticator data bytes. Assertions carry the
// bare 37-byte header; registrations append the attested credential
// data block.
func (a *testAuthenticator) authData(t *testing.T, attested bool) []byte {
	t.Helper()

	var flags byte = 0x01 | 0x04 // UP | UV
	if attested {
		flags |= 0x40 // AT
	}

	data := make([]byte, 0, 160)
	data = append(data, a.rpIDHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, a.signCount)

	if attested {
		data = append(data, a.aaguid...)
		data = binary.BigEndian.AppendUint16(data, uint16(len(a.credentialID)))
		data = append(data, a.credentialID...)
		data = append(data, a.coseKey(t)...)
	}

	return data
}

func (a *testAuthenticator) attestationObject(t *testing.T) []byte {
	t.Helper()

	obj, err := webauthncbor.Marshal(map[string]interface{}{
		"authData": a.authData(t, true),
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
	})
	require.NoError(t, err)

	return obj
}

func (a *testAuthenticator) clientDataJSON(t *testing.T, ceremony, challengeB64u string) []byte {
	t.Helper()

	data, err := json.Marshal(map[string]string{
		"type":      ceremony,
		"challenge": challengeB64u,
		"origin":    testOrigin,
	})
	require.NoError(t, err)

	return data
}

// registrationCredential assembles the full registration payload for a
// challenge, attaching PRF outputs when prf is non-nil.
func (a *testAuthenticator) registrationCredential(t *testing.T, challengeB64u string, prf *PrfOutputs) *RegistrationCredential {
	t.Helper()

	cred := &RegistrationCredential{
		ID:    base64.RawURLEncoding.EncodeToString(a.credentialID),
		RawID: base64.RawURLEncoding.EncodeToString(a.credentialID),
		Type:  CredentialType,
		Response: AttestationResponse{
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString(a.clientDataJSON(t, "webauthn.create", challengeB64u)),
			AttestationObject: base64.RawURLEncoding.EncodeToString(a.attestationObject(t)),
			Transports:        []string{"internal"},
		},
	}
	if prf != nil {
		cred.ClientExtensionResults = &ClientExtensionResults{
			Prf: &PrfExtensionResults{Results: prf},
		}
	}

	return cred
}

// authenticationCredential assembles a signed assertion for a challenge.
func (a *testAuthenticator) authenticationCredential(t *testing.T, challengeB64u string, prf *PrfOutputs) *AuthenticationCredential {
	t.Helper()

	a.signCount++
	authData := a.authData(t, false)
	clientData := a.clientDataJSON(t, "webauthn.get", challengeB64u)
	clientDataHash := sha256.Sum256(clientData)

	signed := make([]byte, 0, len(authData)+len(clientDataHash))
	signed = append(signed, authData...)
	signed = append(signed, clientDataHash[:]...)
	sig := ed25519.Sign(a.priv, signed)

	cred := &AuthenticationCredential{
		ID:    base64.RawURLEncoding.EncodeToString(a.credentialID),
		RawID: base64.RawURLEncoding.EncodeToString(a.credentialID),
		Type:  CredentialType,
		Response: AssertionResponse{
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString(clientData),
			AuthenticatorData: base64.RawURLEncoding.EncodeToString(authData),
			Signature:         base64.RawURLEncoding.EncodeToString(sig),
			UserHandle:        base64.RawURLEncoding.EncodeToString([]byte("alice.testnet")),
		},
	}
	if prf != nil {
		cred.ClientExtensionResults = &ClientExtensionResults{
			Prf: &PrfExtensionResults{Results: prf},
		}
	}

	return cred
}
