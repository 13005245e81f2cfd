// Package near implements the NEAR protocol primitives this module signs
// and displays: public key parsing, Borsh transaction serialization,
// NEP-413 off-chain message hashing, and the canonical intent digest that
// proves a displayed transaction batch is the one being signed.
package near

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"regexp"
	"strings"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

// KeyType identifies the curve of a NEAR public key.
type KeyType uint8

const (
	// KeyTypeED25519 is the native NEAR signing curve.
	KeyTypeED25519 KeyType = iota
	// KeyTypeSECP256K1 keys appear in access-key lists and must parse,
	// though this module only ever signs with ed25519.
	KeyTypeSECP256K1
)

// String implements fmt.Stringer, matching the key string prefix.
func (t KeyType) String() string {
	switch t {
	case KeyTypeED25519:
		return "ed25519"
	case KeyTypeSECP256K1:
		return "secp256k1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	// ED25519PublicKeySize is the raw ed25519 public key length.
	ED25519PublicKeySize = ed25519.PublicKeySize
	// SECP256K1PublicKeySize is an uncompressed secp256k1 point without
	// the 0x04 prefix byte.
	SECP256K1PublicKeySize = 64
)

// PublicKey is NEAR's tagged public key. The Borsh layout is one ordinal
// byte followed by the raw key bytes; ordinals follow the protocol's
// KeyType enum. borsh-go emits a complex enum's payload only for struct
// variants, so the fixed arrays ride inside single-field structs.
type PublicKey struct {
	Enum      borsh.Enum `borsh_enum:"true"`
	ED25519   ED25519PublicKeyData
	SECP256K1 Secp256k1PublicKeyData
}

// ED25519PublicKeyData is the ed25519 variant payload of PublicKey.
type ED25519PublicKeyData struct {
	Data [ED25519PublicKeySize]byte
}

// Secp256k1PublicKeyData is the secp256k1 variant payload of PublicKey.
type Secp256k1PublicKeyData struct {
	Data [SECP256K1PublicKeySize]byte
}

// NewPublicKeyFromED25519 wraps a raw ed25519 public key.
func NewPublicKeyFromED25519(pub ed25519.PublicKey) (PublicKey, error) {
	if len(pub) != ED25519PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPublicKey, ED25519PublicKeySize, len(pub))
	}
	pk := PublicKey{Enum: borsh.Enum(KeyTypeED25519)}
	copy(pk.ED25519.Data[:], pub)
	return pk, nil
}

// ParsePublicKey parses a "<curve>:<base58>" key string and checks the
// bytes form a valid point on the named curve.
func ParsePublicKey(s string) (PublicKey, error) {
	curve, data, ok := strings.Cut(s, ":")
	if !ok {
		// Bare base58 is accepted as ed25519, mirroring NEAR tooling.
		curve, data = KeyTypeED25519.String(), s
	}

	raw, err := base58.Decode(data)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}

	switch curve {
	case KeyTypeED25519.String():
		if len(raw) != ED25519PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: expected %d bytes, got %d",
				ErrInvalidPublicKey, ED25519PublicKeySize, len(raw))
		}
		// SetBytes accepts non-canonical encodings of valid points, so
		// canonicality is checked by re-encoding and comparing.
		pt, err := new(edwards25519.Point).SetBytes(raw)
		if err != nil || !bytes.Equal(pt.Bytes(), raw) {
			return PublicKey{}, fmt.Errorf("%w: not a canonical edwards point", ErrInvalidPublicKey)
		}
		pk := PublicKey{Enum: borsh.Enum(KeyTypeED25519)}
		copy(pk.ED25519.Data[:], raw)
		return pk, nil

	case KeyTypeSECP256K1.String():
		if len(raw) != SECP256K1PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: expected %d bytes, got %d",
				ErrInvalidPublicKey, SECP256K1PublicKeySize, len(raw))
		}
		uncompressed := append([]byte{0x04}, raw...)
		if _, err := btcec.ParsePubKey(uncompressed); err != nil {
			return PublicKey{}, fmt.Errorf("%w: not a point on secp256k1", ErrInvalidPublicKey)
		}
		pk := PublicKey{Enum: borsh.Enum(KeyTypeSECP256K1)}
		copy(pk.SECP256K1.Data[:], raw)
		return pk, nil

	default:
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnknownKeyType, curve)
	}
}

// FormatSecretKey renders an ed25519 private key in NEAR's secret key
// string form: the curve prefix and base58 over the full 64-byte
// expanded key.
func FormatSecretKey(priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(priv))
	}
	return KeyTypeED25519.String() + ":" + base58.Encode(priv), nil
}

// ParseSecretKey parses a NEAR secret key string. Wallets export either
// the 64-byte expanded key or the bare 32-byte seed; both are accepted.
// An expanded key whose public half does not match its seed is rejected,
// since signing with it would produce signatures no verifier accepts.
func ParseSecretKey(s string) (ed25519.PrivateKey, error) {
	curve, data, ok := strings.Cut(s, ":")
	if !ok {
		curve, data = KeyTypeED25519.String(), s
	}
	if curve != KeyTypeED25519.String() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyType, curve)
	}

	raw, err := base58.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrivateKey, err)
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(raw)
		if !ed25519.NewKeyFromSeed(priv.Seed()).Equal(priv) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidPrivateKey)
		}
		return priv, nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d",
			ErrInvalidPrivateKey, ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
}

// KeyType returns the curve of the key.
func (pk PublicKey) KeyType() KeyType {
	return KeyType(pk.Enum)
}

// Bytes returns the raw key bytes without the curve tag.
func (pk PublicKey) Bytes() []byte {
	switch pk.KeyType() {
	case KeyTypeSECP256K1:
		out := make([]byte, SECP256K1PublicKeySize)
		copy(out, pk.SECP256K1.Data[:])
		return out
	default:
		out := make([]byte, ED25519PublicKeySize)
		copy(out, pk.ED25519.Data[:])
		return out
	}
}

// String renders the "<curve>:<base58>" form.
func (pk PublicKey) String() string {
	return pk.KeyType().String() + ":" + base58.Encode(pk.Bytes())
}

// Signature is NEAR's tagged signature with the same ordinal scheme and
// struct-wrapped variant payloads as PublicKey.
type Signature struct {
	Enum      borsh.Enum `borsh_enum:"true"`
	ED25519   ED25519SignatureData
	SECP256K1 Secp256k1SignatureData
}

// ED25519SignatureData is the ed25519 variant payload of Signature.
type ED25519SignatureData struct {
	Data [ed25519.SignatureSize]byte
}

// Secp256k1SignatureData is the recoverable secp256k1 variant payload
// of Signature.
type Secp256k1SignatureData struct {
	Data [65]byte
}

// NewSignatureFromED25519 wraps a raw ed25519 signature.
func NewSignatureFromED25519(sig []byte) (Signature, error) {
	if len(sig) != ed25519.SignatureSize {
		return Signature{}, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidSignature, ed25519.SignatureSize, len(sig))
	}
	s := Signature{Enum: borsh.Enum(KeyTypeED25519)}
	copy(s.ED25519.Data[:], sig)
	return s, nil
}

// String renders the "<curve>:<base58>" form.
func (s Signature) String() string {
	if KeyType(s.Enum) == KeyTypeSECP256K1 {
		return KeyTypeSECP256K1.String() + ":" + base58.Encode(s.SECP256K1.Data[:])
	}
	return KeyTypeED25519.String() + ":" + base58.Encode(s.ED25519.Data[:])
}

// accountIDPattern is the NEAR account grammar: dot-separated parts of
// lowercase alphanumerics joined by single '-' or '_' separators.
var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)

const (
	// MinAccountIDLen is the shortest valid account id.
	MinAccountIDLen = 2
	// MaxAccountIDLen is the longest valid account id.
	MaxAccountIDLen = 64
)

// ValidateAccountID checks an account id against the NEAR naming rules.
func ValidateAccountID(accountID string) error {
	if len(accountID) < MinAccountIDLen || len(accountID) > MaxAccountIDLen {
		return fmt.Errorf("%w: length must be %d-%d, got %d",
			ErrInvalidAccountID, MinAccountIDLen, MaxAccountIDLen, len(accountID))
	}
	if !accountIDPattern.MatchString(accountID) {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, accountID)
	}
	return nil
}

// DecodeBlockHash parses a base58 block hash into its fixed 32 bytes.
func DecodeBlockHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("%w: %s", ErrInvalidBlockHash, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidBlockHash, len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
