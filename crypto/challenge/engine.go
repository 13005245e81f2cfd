package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sonr-io/crypto/vrf"
	"golang.org/x/crypto/hkdf"

	"github.com/vautr-io/vautr/crypto/aead"
	"github.com/vautr-io/vautr/crypto/kdf"
	"github.com/vautr-io/vautr/crypto/keys"
	"github.com/vautr-io/vautr/crypto/secure"
)

// keygenInfo labels the deterministic entropy stream expanded from a
// PRF-derived seed. Changing it changes every derived keypair.
const keygenInfo = "vautr-vrf-keygen-v1"

// State tracks the lifecycle of the in-memory VRF keypair.
type State int

const (
	// StateUninitialized means no keypair has ever been loaded.
	StateUninitialized State = iota
	// StateKeypairBootstrapped means a throwaway keypair exists for a
	// registration ceremony but has not been confirmed by a PRF output.
	StateKeypairBootstrapped
	// StateUnlocked means the account's keypair is in memory and
	// challenges can be generated.
	StateUnlocked
	// StateLocked means a keypair existed but was zeroized on logout.
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateKeypairBootstrapped:
		return "keypair-bootstrapped"
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Engine holds at most one VRF keypair in memory and serializes every
// operation on it. Key material never leaves the engine unencrypted.
type Engine struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	state      State
	privateKey vrf.PrivateKey
	publicKey  vrf.PublicKey
	accountID  string
}

// NewEngine creates an engine in the Uninitialized state.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "vrf-engine").Logger(),
		state:  StateUninitialized,
	}
}

// Status is a snapshot of the engine for callers that must not touch key
// material.
type Status struct {
	Active        bool   `json:"active"`
	State         string `json:"state"`
	AccountID     string `json:"accountId,omitempty"`
	PublicKeyB64u string `json:"publicKeyB64u,omitempty"`
	KeyIdentifier string `json:"keyIdentifier,omitempty"`
}

// BootstrapResult carries the public half of a bootstrap keypair and, when
// chain-state input was supplied, a challenge signed by it.
type BootstrapResult struct {
	VrfPublicKeyB64u string        `json:"vrfPublicKeyB64u"`
	Challenge        *VrfChallenge `json:"challenge,omitempty"`
}

// DeriveResult carries everything a registration flow needs from a
// deterministic derivation: the public key, the keypair encrypted for
// persistence, and optionally a challenge.
type DeriveResult struct {
	VrfPublicKeyB64u string               `json:"vrfPublicKeyB64u"`
	Encrypted        *EncryptedVrfKeypair `json:"encrypted,omitempty"`
	Challenge        *VrfChallenge        `json:"challenge,omitempty"`
}

// DeriveOptions controls what DeriveVrfKeypairFromPrf does with the
// derived keypair beyond returning its public key.
type DeriveOptions struct {
	// SaveInMemory installs the keypair and moves the engine to Unlocked.
	SaveInMemory bool
	// EncryptionKey, when set, must be an AEAD key; the keypair is
	// returned encrypted under it for persistence.
	EncryptionKey []byte
	// Input, when set, additionally produces a challenge from the fresh
	// keypair.
	Input *VrfInputData
}

// GenerateVrfKeypairBootstrap creates a fresh random keypair for a
// registration ceremony and installs it. When input is non-nil a challenge
// is produced in the same call so the ceremony can start immediately.
func (e *Engine) GenerateVrfKeypairBootstrap(input *VrfInputData) (*BootstrapResult, error) {
	privateKey, err := vrf.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating bootstrap keypair: %w", err)
	}

	defer secure.Zeroize(privateKey)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.install(privateKey, "", StateKeypairBootstrapped); err != nil {
		return nil, err
	}

	result := &BootstrapResult{
		VrfPublicKeyB64u: keys.EncodeB64u(e.publicKey),
	}
	if input != nil {
		ch, err := e.proveLocked(*input)
		if err != nil {
			return nil, err
		}
		result.Challenge = ch
	}

	e.logger.Debug().
		Str("state", e.state.String()).
		Bool("with_challenge", result.Challenge != nil).
		Msg("bootstrap keypair generated")

	return result, nil
}

// DeriveVrfKeypairFromPrf derives the account's VRF keypair
// deterministically from a WebAuthn PRF output. The same PRF output and
// account always yield the same keypair, which is what lets a passkey
// recover its VRF identity on a new device.
func (e *Engine) DeriveVrfKeypairFromPrf(prfOutput []byte, accountID string, opts DeriveOptions) (*DeriveResult, error) {
	if accountID == "" {
		return nil, errors.New("account id cannot be empty")
	}

	seed, err := kdf.DeriveVrfSeed(prfOutput, accountID)
	if err != nil {
		return nil, err
	}
	defer secure.Zeroize(seed)

	privateKey, err := vrf.GenerateKey(deterministicReader(seed))
	if err != nil {
		return nil, fmt.Errorf("deriving vrf keypair: %w", err)
	}
	defer secure.Zeroize(privateKey)

	publicKey, ok := privateKey.Public()
	if !ok {
		return nil, errors.New("failed to derive vrf public key")
	}

	result := &DeriveResult{
		VrfPublicKeyB64u: keys.EncodeB64u(publicKey),
	}

	if opts.EncryptionKey != nil {
		encrypted, err := encryptKeypair(privateKey, publicKey, opts.EncryptionKey, accountID)
		if err != nil {
			return nil, err
		}
		result.Encrypted = encrypted
	}

	if opts.SaveInMemory {
		e.mu.Lock()
		err := e.install(privateKey, accountID, StateUnlocked)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	if opts.Input != nil {
		ch, err := proveWith(privateKey, publicKey, *opts.Input)
		if err != nil {
			return nil, err
		}
		result.Challenge = ch
	}

	e.logger.Debug().
		Str("account_id", accountID).
		Bool("saved", opts.SaveInMemory).
		Bool("encrypted", result.Encrypted != nil).
		Msg("vrf keypair derived from prf")

	return result, nil
}

// UnlockFromEncrypted decrypts a persisted keypair with a PRF-derived AEAD
// key and installs it, moving the engine to Unlocked. This is the login
// path for a device that already holds the encrypted keypair.
func (e *Engine) UnlockFromEncrypted(encrypted EncryptedVrfKeypair, encryptionKey []byte, accountID string) (string, error) {
	if accountID == "" {
		return "", errors.New("account id cannot be empty")
	}

	privateKey, publicKey, err := decryptKeypair(encrypted, encryptionKey, accountID)
	if err != nil {
		return "", err
	}
	defer secure.Zeroize(privateKey)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.install(privateKey, accountID, StateUnlocked); err != nil {
		return "", err
	}

	e.logger.Debug().
		Str("account_id", accountID).
		Msg("vrf keypair unlocked")

	return keys.EncodeB64u(publicKey), nil
}

// GenerateVrfChallenge produces a challenge bound to the given chain
// state. The engine must hold a keypair.
func (e *Engine) GenerateVrfChallenge(input VrfInputData) (*VrfChallenge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.proveLocked(input)
}

// proveLocked requires e.mu held (read or write).
func (e *Engine) proveLocked(input VrfInputData) (*VrfChallenge, error) {
	if e.state != StateUnlocked && e.state != StateKeypairBootstrapped {
		return nil, ErrVrfNotUnlocked
	}
	return proveWith(e.privateKey, e.publicKey, input)
}

func proveWith(privateKey vrf.PrivateKey, publicKey vrf.PublicKey, input VrfInputData) (*VrfChallenge, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	vrfInput := encodeChallengeInput(input)
	vrfOutput, proof := privateKey.Prove(vrfInput)

	return &VrfChallenge{
		VrfInput:     keys.EncodeB64u(vrfInput),
		VrfOutput:    keys.EncodeB64u(vrfOutput),
		VrfProof:     keys.EncodeB64u(proof),
		VrfPublicKey: keys.EncodeB64u(publicKey),
		UserID:       input.UserID,
		RpID:         input.RpID,
		BlockHeight:  input.BlockHeight,
		BlockHash:    input.BlockHash,
	}, nil
}

// CheckVrfStatus reports the engine state without exposing key material.
func (e *Engine) CheckVrfStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		Active: e.state == StateUnlocked || e.state == StateKeypairBootstrapped,
		State:  e.state.String(),
	}
	if status.Active {
		status.AccountID = e.accountID
		status.PublicKeyB64u = keys.EncodeB64u(e.publicKey)
		if did, err := keys.NewEd25519DID(e.publicKey); err == nil {
			status.KeyIdentifier = did
		}
	}
	return status
}

// PublicKeyB64u returns the current public key, or ErrVrfNotUnlocked when
// no keypair is loaded.
func (e *Engine) PublicKeyB64u() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateUnlocked && e.state != StateKeypairBootstrapped {
		return "", ErrVrfNotUnlocked
	}
	return keys.EncodeB64u(e.publicKey), nil
}

// Logout zeroizes the private key and moves the engine to Locked. It is
// idempotent; an engine that never held a keypair stays Uninitialized.
func (e *Engine) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateUninitialized {
		return
	}

	e.clearLocked()
	e.state = StateLocked

	e.logger.Debug().Msg("vrf keypair zeroized")
}

// install requires e.mu held for writing. It replaces any existing keypair,
// zeroizing the old one first.
func (e *Engine) install(privateKey vrf.PrivateKey, accountID string, state State) error {
	if len(privateKey) != vrf.PrivateKeySize {
		return fmt.Errorf("invalid vrf private key size: expected %d, got %d",
			vrf.PrivateKeySize, len(privateKey))
	}

	publicKey, ok := privateKey.Public()
	if !ok {
		return errors.New("failed to derive vrf public key")
	}

	e.clearLocked()

	e.privateKey = vrf.PrivateKey(append([]byte(nil), privateKey...))
	e.publicKey = publicKey
	e.accountID = accountID
	e.state = state
	return nil
}

// clearLocked requires e.mu held for writing.
func (e *Engine) clearLocked() {
	if e.privateKey != nil {
		secure.Zeroize(e.privateKey)
		e.privateKey = nil
	}
	e.publicKey = nil
	e.accountID = ""
}

// deterministicReader expands a 32-byte seed into an unbounded entropy
// stream so vrf.GenerateKey yields the same keypair for the same seed.
func deterministicReader(seed []byte) io.Reader {
	return hkdf.Expand(sha256.New, seed, []byte(keygenInfo))
}

// EncryptedVrfKeypair is the at-rest form of a VRF keypair, sealed under a
// PRF-derived AEAD key and bound to its account id.
type EncryptedVrfKeypair struct {
	EncryptedVrfDataB64u string `json:"encryptedVrfDataB64u"`
	Chacha20NonceB64u    string `json:"chacha20NonceB64u"`
}

func encryptKeypair(privateKey vrf.PrivateKey, publicKey vrf.PublicKey, encryptionKey []byte, accountID string) (*EncryptedVrfKeypair, error) {
	plaintext, err := marshalKeypair(privateKey, publicKey)
	if err != nil {
		return nil, err
	}
	defer secure.Zeroize(plaintext)

	cipher, err := aead.NewChaCha20Poly1305(encryptionKey)
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, err := cipher.Encrypt(plaintext, []byte(accountID))
	if err != nil {
		return nil, err
	}

	return &EncryptedVrfKeypair{
		EncryptedVrfDataB64u: keys.EncodeB64u(ciphertext),
		Chacha20NonceB64u:    keys.EncodeB64u(nonce),
	}, nil
}

func decryptKeypair(encrypted EncryptedVrfKeypair, encryptionKey []byte, accountID string) (vrf.PrivateKey, vrf.PublicKey, error) {
	cipher, err := aead.NewChaCha20Poly1305(encryptionKey)
	if err != nil {
		return nil, nil, err
	}

	ciphertext, err := keys.DecodeB64u(encrypted.EncryptedVrfDataB64u)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding encrypted vrf data: %w", err)
	}
	nonce, err := keys.DecodeB64u(encrypted.Chacha20NonceB64u)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding vrf nonce: %w", err)
	}

	plaintext, err := cipher.Decrypt(ciphertext, nonce, []byte(accountID))
	if err != nil {
		return nil, nil, err
	}
	defer secure.Zeroize(plaintext)

	return unmarshalKeypair(plaintext)
}
