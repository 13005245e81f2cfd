package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sonr-io/crypto/vrf"

	"github.com/vautr-io/vautr/crypto/aead"
	"github.com/vautr-io/vautr/crypto/keys"
	"github.com/vautr-io/vautr/crypto/secure"
	"github.com/vautr-io/vautr/crypto/shamir"
)

// ErrPrimeMismatch indicates the relay server's prime fingerprint does not
// match the suite this client was configured with. Proceeding would bind
// the keypair to a field the client cannot reason about.
var ErrPrimeMismatch = errors.New("shamir prime fingerprint mismatch")

// ErrPublicKeyMismatch indicates a recovered keypair does not match the
// public key the caller knows for the account. The blob is internally
// consistent but belongs to a different generation of the account's key
// material; installing it would silently change the signing identity.
var ErrPublicKeyMismatch = errors.New("recovered vrf public key mismatch")

// LockClient is the client's view of a relay server's commutative lock.
// The server only ever sees blinded field elements; implementations carry
// them over HTTP.
type LockClient interface {
	// ApplyLock asks the server to raise a blinded element to its secret
	// exponent.
	ApplyLock(ctx context.Context, kekCB64u string) (string, error)
	// RemoveLock asks the server to strip its lock from a re-blinded
	// element.
	RemoveLock(ctx context.Context, kekCSB64u string) (string, error)
	// PrimeFingerprint returns the fingerprint of the prime the server
	// operates in.
	PrimeFingerprint(ctx context.Context) (string, error)
}

// ServerEncryptedVrfKeypair is the recoverable at-rest form of a VRF
// keypair: the keypair sealed under a random KEK, and the KEK surviving
// only as KEK^s mod P where s is the server's secret exponent. Neither
// half alone recovers the keypair. CiphertextVrfB64u is nonce-prefixed.
type ServerEncryptedVrfKeypair struct {
	CiphertextVrfB64u string `json:"ciphertextVrfB64u"`
	KekSB64u          string `json:"kekSB64u"`
}

// ShamirEncryptResult is the product of ShamirEncryptCurrentVrfKeypair.
type ShamirEncryptResult struct {
	Encrypted        ServerEncryptedVrfKeypair `json:"encrypted"`
	VrfPublicKeyB64u string                    `json:"vrfPublicKeyB64u"`
}

// ShamirEncryptCurrentVrfKeypair seals the in-memory keypair under a fresh
// random KEK and runs the commutative lock protocol so only the server's
// exponent can recover the KEK. The engine must be Unlocked; the KEK and
// the plaintext KEK^c are never sent to the server.
func (e *Engine) ShamirEncryptCurrentVrfKeypair(ctx context.Context, suite *shamir.Suite, lock LockClient) (*ShamirEncryptResult, error) {
	privateKey, publicKey, accountID, err := e.snapshotKeypair()
	if err != nil {
		return nil, err
	}
	defer secure.Zeroize(privateKey)

	if err := checkPrime(ctx, suite, lock); err != nil {
		return nil, err
	}

	kek := make([]byte, aead.KeySize)
	if err := secure.SecureRandom(kek); err != nil {
		return nil, err
	}
	defer secure.Zeroize(kek)

	plaintext, err := marshalKeypair(privateKey, publicKey)
	if err != nil {
		return nil, err
	}
	defer secure.Zeroize(plaintext)

	cipher, err := aead.NewChaCha20Poly1305(kek)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := cipher.Encrypt(plaintext, []byte(accountID))
	if err != nil {
		return nil, err
	}

	// One round trip: blind the KEK, have the server lock it, strip the
	// blind. What remains is KEK^s, which the client cannot invert.
	blind, err := suite.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	kekC, err := suite.Lock(new(big.Int).SetBytes(kek), blind.E)
	if err != nil {
		return nil, err
	}

	kekCSB64u, err := lock.ApplyLock(ctx, suite.EncodeElement(kekC))
	if err != nil {
		return nil, fmt.Errorf("applying server lock: %w", err)
	}

	kekCS, err := suite.DecodeElement(kekCSB64u)
	if err != nil {
		return nil, fmt.Errorf("decoding server-locked kek: %w", err)
	}

	kekS, err := suite.Unlock(kekCS, blind.D)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("prime_fingerprint", suite.Fingerprint()).
		Msg("vrf keypair sealed under server lock")

	return &ShamirEncryptResult{
		Encrypted: ServerEncryptedVrfKeypair{
			CiphertextVrfB64u: keys.EncodeB64u(append(nonce, ciphertext...)),
			KekSB64u:          suite.EncodeElement(kekS),
		},
		VrfPublicKeyB64u: keys.EncodeB64u(publicKey),
	}, nil
}

// ShamirDecryptVrfKeypair recovers a keypair sealed by
// ShamirEncryptCurrentVrfKeypair and installs it, moving the engine to
// Unlocked. The stored KEK^s is re-blinded with a fresh exponent before
// the server strips its lock, so the server learns nothing across
// recoveries. When expectedPublicKeyB64u is non-empty the recovered
// public key must match it or nothing is installed: a stale blob sealed
// for the same account decrypts cleanly and is only caught here.
func (e *Engine) ShamirDecryptVrfKeypair(ctx context.Context, suite *shamir.Suite, lock LockClient, accountID, expectedPublicKeyB64u string, encrypted ServerEncryptedVrfKeypair) (string, error) {
	if accountID == "" {
		return "", errors.New("account id cannot be empty")
	}

	if err := checkPrime(ctx, suite, lock); err != nil {
		return "", err
	}

	kekS, err := suite.DecodeElement(encrypted.KekSB64u)
	if err != nil {
		return "", fmt.Errorf("decoding stored kek: %w", err)
	}

	blind, err := suite.GenerateKeyPair()
	if err != nil {
		return "", err
	}

	blinded, err := suite.Lock(kekS, blind.E)
	if err != nil {
		return "", err
	}

	strippedB64u, err := lock.RemoveLock(ctx, suite.EncodeElement(blinded))
	if err != nil {
		return "", fmt.Errorf("removing server lock: %w", err)
	}

	stripped, err := suite.DecodeElement(strippedB64u)
	if err != nil {
		return "", fmt.Errorf("decoding unlocked kek: %w", err)
	}

	kekEl, err := suite.Unlock(stripped, blind.D)
	if err != nil {
		return "", err
	}
	if kekEl.BitLen() > 8*aead.KeySize {
		return "", aead.ErrDecryptionFailed
	}

	kek := make([]byte, aead.KeySize)
	kekEl.FillBytes(kek)
	defer secure.Zeroize(kek)

	privateKey, publicKey, err := openSealedKeypair(encrypted.CiphertextVrfB64u, kek, accountID)
	if err != nil {
		return "", err
	}
	defer secure.Zeroize(privateKey)

	if expectedPublicKeyB64u != "" && keys.EncodeB64u(publicKey) != expectedPublicKeyB64u {
		return "", ErrPublicKeyMismatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.install(privateKey, accountID, StateUnlocked); err != nil {
		return "", err
	}

	e.logger.Debug().
		Str("account_id", accountID).
		Msg("vrf keypair recovered from server lock")

	return keys.EncodeB64u(publicKey), nil
}

// snapshotKeypair copies the key material out under the read lock so the
// network round trips of the lock protocol never hold the engine mutex.
func (e *Engine) snapshotKeypair() (vrf.PrivateKey, vrf.PublicKey, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateUnlocked {
		return nil, nil, "", ErrVrfNotUnlocked
	}

	privateKey := vrf.PrivateKey(append([]byte(nil), e.privateKey...))
	return privateKey, e.publicKey, e.accountID, nil
}

func checkPrime(ctx context.Context, suite *shamir.Suite, lock LockClient) error {
	fingerprint, err := lock.PrimeFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("fetching server prime fingerprint: %w", err)
	}
	if fingerprint != suite.Fingerprint() {
		return ErrPrimeMismatch
	}
	return nil
}

func openSealedKeypair(ciphertextVrfB64u string, kek []byte, accountID string) (vrf.PrivateKey, vrf.PublicKey, error) {
	blob, err := keys.DecodeB64u(ciphertextVrfB64u)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding sealed keypair: %w", err)
	}
	if len(blob) < aead.NonceSize {
		return nil, nil, aead.ErrDecryptionFailed
	}

	cipher, err := aead.NewChaCha20Poly1305(kek)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := cipher.Decrypt(blob[aead.NonceSize:], blob[:aead.NonceSize], []byte(accountID))
	if err != nil {
		return nil, nil, err
	}
	defer secure.Zeroize(plaintext)

	return unmarshalKeypair(plaintext)
}
