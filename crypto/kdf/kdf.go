// Package kdf derives symmetric and asymmetric key material from WebAuthn
// PRF extension outputs. Two independent PRF eval slots feed two separate
// derivation chains: the chacha20 slot seeds the AEAD key that wraps
// private keys at rest, the ed25519 slot seeds NEAR signing and VRF
// keypairs. All derivations are HKDF-SHA256 with fixed domain-separation
// info strings, so the same passkey always re-derives the same keys.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/vautr-io/vautr/crypto/keys"
)

const (
	// KeySize is the derived AEAD key length in bytes.
	KeySize = 32
	// SeedSize is the derived Ed25519/VRF seed length in bytes.
	SeedSize = 32
)

// Domain-separation info strings. Changing any of these is a breaking
// change: every derived key becomes unrecoverable.
const (
	infoAEADKey     = "vautr-chacha20-key-v1"
	infoEd25519Seed = "vautr-ed25519-seed-v1"
	infoVrfSeed     = "vautr-vrf-seed-v1"
)

// ErrMissingPrfOutput indicates the authenticator or browser did not honor
// the PRF extension for a requested eval slot.
var ErrMissingPrfOutput = errors.New("missing prf output")

// DecodeDual base64url-decodes the two PRF eval slot outputs of one
// WebAuthn ceremony. Either slot absent or empty fails with
// ErrMissingPrfOutput: nothing downstream can run without both.
func DecodeDual(chacha20PrfOutputB64u, ed25519PrfOutputB64u string) (chacha20Out, ed25519Out []byte, err error) {
	if chacha20PrfOutputB64u == "" {
		return nil, nil, fmt.Errorf("chacha20 slot: %w", ErrMissingPrfOutput)
	}
	if ed25519PrfOutputB64u == "" {
		return nil, nil, fmt.Errorf("ed25519 slot: %w", ErrMissingPrfOutput)
	}

	chacha20Out, err = keys.DecodeB64u(chacha20PrfOutputB64u)
	if err != nil {
		return nil, nil, fmt.Errorf("chacha20 slot: %w", err)
	}
	ed25519Out, err = keys.DecodeB64u(ed25519PrfOutputB64u)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519 slot: %w", err)
	}

	if len(chacha20Out) == 0 {
		return nil, nil, fmt.Errorf("chacha20 slot empty: %w", ErrMissingPrfOutput)
	}
	if len(ed25519Out) == 0 {
		return nil, nil, fmt.Errorf("ed25519 slot empty: %w", ErrMissingPrfOutput)
	}

	return chacha20Out, ed25519Out, nil
}

// DeriveAEADKey maps the chacha20 PRF output to the 32-byte symmetric key
// that encrypts private key material at rest.
func DeriveAEADKey(chacha20PrfOutput []byte) ([]byte, error) {
	if len(chacha20PrfOutput) == 0 {
		return nil, fmt.Errorf("chacha20 prf output empty: %w", ErrMissingPrfOutput)
	}
	return derive(chacha20PrfOutput, nil, []byte(infoAEADKey), KeySize)
}

// DeriveEd25519Seed maps the ed25519 PRF output to the 32-byte seed for
// the NEAR signing keypair. Salted with the account id so two accounts
// behind the same passkey derive distinct keys.
func DeriveEd25519Seed(ed25519PrfOutput []byte, accountID string) ([]byte, error) {
	if len(ed25519PrfOutput) == 0 {
		return nil, fmt.Errorf("ed25519 prf output empty: %w", ErrMissingPrfOutput)
	}
	if accountID == "" {
		return nil, errors.New("account id cannot be empty")
	}
	return derive(ed25519PrfOutput, []byte(accountID), []byte(infoEd25519Seed), SeedSize)
}

// DeriveVrfSeed maps a PRF output to the 32-byte seed for deterministic
// VRF keypair derivation, account-scoped like DeriveEd25519Seed.
func DeriveVrfSeed(prfOutput []byte, accountID string) ([]byte, error) {
	if len(prfOutput) == 0 {
		return nil, fmt.Errorf("prf output empty: %w", ErrMissingPrfOutput)
	}
	if accountID == "" {
		return nil, errors.New("account id cannot be empty")
	}
	return derive(prfOutput, []byte(accountID), []byte(infoVrfSeed), SeedSize)
}

func derive(secret, salt, info []byte, size int) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, secret, salt, info)

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	return key, nil
}
