package keys

import (
	"encoding/base64"
	"fmt"
	"strings"

	mb "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// EncodeB64u encodes bytes as unpadded base64url, the encoding used for
// every binary field crossing the worker/UI/server boundary.
func EncodeB64u(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeB64u decodes base64url input, tolerating both padded and unpadded
// forms (browsers and servers disagree about '=' padding).
func DecodeB64u(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	data, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url: %w", err)
	}
	return data, nil
}

// FingerprintBytes returns a multibase(base58btc) multihash(sha2-256)
// fingerprint of a protocol constant. The Shamir client and server compare
// prime fingerprints before any lock call so a mismatched modulus fails
// loudly instead of degrading to garbage arithmetic.
func FingerprintBytes(data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return mb.Encode(mb.Base58BTC, sum)
}
