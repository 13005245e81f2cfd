// Package keys provides identifier and encoding helpers for public keys
// and protocol constants: did:key strings for Ed25519 public keys,
// multihash fingerprints for Shamir primes, and the base64url codec used
// on every wire boundary.
package keys

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	mb "github.com/multiformats/go-multibase"
	varint "github.com/multiformats/go-varint"
)

const (
	// KeyPrefix indicates a decentralized identifier that uses the key method
	KeyPrefix = "did:key"
	// MulticodecKindEd25519PubKey ed25519-pub
	MulticodecKindEd25519PubKey = 0xed
)

// NewEd25519DID formats 32 raw Ed25519 public key bytes as a did:key string.
func NewEd25519DID(pub []byte) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}

	t := uint64(MulticodecKindEd25519PubKey)
	size := varint.UvarintSize(t)
	data := make([]byte, size+len(pub))
	n := varint.PutUvarint(data, t)
	copy(data[n:], pub)

	b58BKeyStr, err := mb.Encode(mb.Base58BTC, data)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%s", KeyPrefix, b58BKeyStr), nil
}

// ParseEd25519DID extracts the raw public key bytes from a did:key string.
func ParseEd25519DID(keystr string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(keystr, KeyPrefix) {
		return nil, fmt.Errorf("decentralized identifier is not a 'key' type")
	}

	keystr = strings.TrimPrefix(keystr, KeyPrefix+":")

	enc, data, err := mb.Decode(keystr)
	if err != nil {
		return nil, fmt.Errorf("decoding multibase: %w", err)
	}

	if enc != mb.Base58BTC {
		return nil, fmt.Errorf("unexpected multibase encoding: %s", mb.EncodingToStr[enc])
	}

	keyType, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, err
	}
	if keyType != MulticodecKindEd25519PubKey {
		return nil, fmt.Errorf("unrecognized key type multicodec prefix: %x", data[0])
	}

	raw := data[n:]
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length: %d", len(raw))
	}

	return ed25519.PublicKey(raw), nil
}
