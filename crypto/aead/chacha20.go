// Package aead provides authenticated encryption with associated data (AEAD)
// for private key material at rest. Ciphertext and nonce are stored as two
// separate base64url fields, safe to persist in untrusted storage: neither
// is meaningful without the passkey-derived key.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vautr-io/vautr/crypto/keys"
)

const (
	// NonceSize defines the standard 96-bit nonce size for ChaCha20-Poly1305
	NonceSize = chacha20poly1305.NonceSize
	// TagSize defines the 128-bit Poly1305 authentication tag size
	TagSize = chacha20poly1305.Overhead
	// KeySize defines the ChaCha20 key size
	KeySize = chacha20poly1305.KeySize
)

// ErrDecryptionFailed is the only error Decrypt returns. Wrong key,
// tampered ciphertext, and malformed input are deliberately
// indistinguishable to the caller.
var ErrDecryptionFailed = errors.New("decryption failed")

// ChaCha20Poly1305Cipher wraps ChaCha20-Poly1305 operations with secure defaults
type ChaCha20Poly1305Cipher struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305 creates a new cipher with the provided 256-bit key
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create chacha20-poly1305 cipher: %w", err)
	}

	return &ChaCha20Poly1305Cipher{aead: aead}, nil
}

// Encrypt encrypts plaintext with additional authenticated data (AAD).
// A fresh random nonce is sampled inside the call and returned alongside
// the ciphertext; callers cannot supply one, which structurally prevents
// nonce reuse under a fixed key.
func (c *ChaCha20Poly1305Cipher) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce, err = generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = c.aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt authenticates and decrypts ciphertext produced by Encrypt.
// Every failure path returns the generic ErrDecryptionFailed.
func (c *ChaCha20Poly1305Cipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptB64u encrypts plaintext and returns the base64url persisted form.
func (c *ChaCha20Poly1305Cipher) EncryptB64u(plaintext, aad []byte) (ciphertextB64u, nonceB64u string, err error) {
	ciphertext, nonce, err := c.Encrypt(plaintext, aad)
	if err != nil {
		return "", "", err
	}
	return keys.EncodeB64u(ciphertext), keys.EncodeB64u(nonce), nil
}

// DecryptB64u decrypts the base64url persisted form produced by EncryptB64u.
func (c *ChaCha20Poly1305Cipher) DecryptB64u(ciphertextB64u, nonceB64u string, aad []byte) ([]byte, error) {
	ciphertext, err := keys.DecodeB64u(ciphertextB64u)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce, err := keys.DecodeB64u(nonceB64u)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return c.Decrypt(ciphertext, nonce, aad)
}

// generateNonce creates a cryptographically secure 96-bit nonce
func generateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return nonce, nil
}
