package near

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testED25519Key(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestParsePublicKeyED25519(t *testing.T) {
	pub, _ := testED25519Key(t)
	keyStr := "ed25519:" + base58.Encode(pub)

	pk, err := ParsePublicKey(keyStr)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeED25519, pk.KeyType())
	assert.Equal(t, []byte(pub), pk.Bytes())
	assert.Equal(t, keyStr, pk.String())
}

func TestParsePublicKeyBareBase58(t *testing.T) {
	pub, _ := testED25519Key(t)

	pk, err := ParsePublicKey(base58.Encode(pub))
	require.NoError(t, err)
	assert.Equal(t, KeyTypeED25519, pk.KeyType())
}

func TestParsePublicKeySECP256K1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	raw := priv.PubKey().SerializeUncompressed()[1:]
	keyStr := "secp256k1:" + base58.Encode(raw)

	pk, err := ParsePublicKey(keyStr)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeSECP256K1, pk.KeyType())
	assert.Equal(t, raw, pk.Bytes())
	assert.Equal(t, keyStr, pk.String())
}

func TestParsePublicKeyRejects(t *testing.T) {
	pub, _ := testED25519Key(t)

	// The little-endian encoding of the field prime: y = p reduces to
	// y = 0, a valid point in a non-canonical encoding, which SetBytes
	// accepts and only the re-encode comparison catches.
	yEqualsP := append([]byte{0xed}, bytesRepeat(0xff, 30)...)
	yEqualsP = append(yEqualsP, 0x7f)

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"bad base58", "ed25519:0OIl"},
		{"wrong length", "ed25519:" + base58.Encode(pub[:16])},
		{"unknown curve", "sr25519:" + base58.Encode(pub)},
		{"non-canonical point", "ed25519:" + base58.Encode(bytesRepeat(0xff, 32))},
		{"non-canonical y", "ed25519:" + base58.Encode(yEqualsP)},
		{"secp not on curve", "secp256k1:" + base58.Encode(bytesRepeat(0x01, 64))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKey(tc.in)
			assert.Error(t, err)
		})
	}
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestNewPublicKeyFromED25519(t *testing.T) {
	pub, _ := testED25519Key(t)

	pk, err := NewPublicKeyFromED25519(pub)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), pk.Bytes())

	_, err = NewPublicKeyFromED25519(pub[:10])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestSignatureString(t *testing.T) {
	sig := make([]byte, ed25519.SignatureSize)
	sig[0] = 0x42

	s, err := NewSignatureFromED25519(sig)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.String(), "ed25519:"))

	_, err = NewSignatureFromED25519(sig[:32])
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateAccountID(t *testing.T) {
	valid := []string{
		"alice.near",
		"bob.testnet",
		"sub.account.near",
		"ok",
		"a-b_c.near",
		"1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
	}
	for _, id := range valid {
		assert.NoError(t, ValidateAccountID(id), id)
	}

	invalid := []string{
		"",
		"a",
		"Alice.near",
		"alice..near",
		"-alice.near",
		"alice-.near",
		"alice near",
		"alice@near",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateAccountID(id), ErrInvalidAccountID, id)
	}
}

func TestDecodeBlockHash(t *testing.T) {
	raw := bytesRepeat(0xab, 32)
	hash, err := DecodeBlockHash(base58.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, hash[:])

	_, err = DecodeBlockHash(base58.Encode(raw[:16]))
	assert.ErrorIs(t, err, ErrInvalidBlockHash)

	_, err = DecodeBlockHash("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidBlockHash)
}
