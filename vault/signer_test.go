package vault

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/crypto/aead"
	"github.com/vautr-io/vautr/types/near"
)

const (
	testAccountID = "alice.testnet"
	testRpID      = "example.localhost"
)

func testChachaPrf() []byte { return bytes.Repeat([]byte{0x11}, 32) }
func testEd25519Prf() []byte { return bytes.Repeat([]byte{0x22}, 32) }

func testBlockHash() string {
	return base58.Encode(bytes.Repeat([]byte{0x33}, 32))
}

func TestDeriveSigningKeyDeterministic(t *testing.T) {
	priv1, pub1, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)
	priv2, pub2, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)

	assert.Equal(t, pub1.String(), pub2.String())
	assert.Equal(t, []byte(priv1), []byte(priv2))

	// A different account behind the same passkey gets a different key.
	_, pubOther, err := deriveSigningKey(testEd25519Prf(), "bob.testnet")
	require.NoError(t, err)
	assert.NotEqual(t, pub1.String(), pubOther.String())
}

func TestSealOpenSecretKeyRoundTrip(t *testing.T) {
	priv, _, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)

	ciphertext, nonce, err := sealSecretKey(priv, testChachaPrf(), testAccountID)
	require.NoError(t, err)

	secret, err := openSecretKey(testChachaPrf(), testAccountID, ciphertext, nonce)
	require.NoError(t, err)

	parsed, err := near.ParseSecretKey(secret)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(priv))
}

func TestOpenSecretKeyWrongAccount(t *testing.T) {
	priv, _, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)

	ciphertext, nonce, err := sealSecretKey(priv, testChachaPrf(), testAccountID)
	require.NoError(t, err)

	// The account id is AEAD associated data; a blob sealed for alice
	// must not open for bob.
	_, err = openSecretKey(testChachaPrf(), "bob.testnet", ciphertext, nonce)
	assert.ErrorIs(t, err, aead.ErrDecryptionFailed)

	// And the wrong PRF output fails the same way.
	_, err = openSecretKey(testEd25519Prf(), testAccountID, ciphertext, nonce)
	assert.ErrorIs(t, err, aead.ErrDecryptionFailed)
}

func TestSignerFromRequestChecksPublicKey(t *testing.T) {
	priv, pub, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)
	ciphertext, nonce, err := sealSecretKey(priv, testChachaPrf(), testAccountID)
	require.NoError(t, err)

	decryption := DecryptionPayload{
		EncryptedPrivateKeyData: ciphertext,
		EncryptedPrivateKeyIv:   nonce,
	}

	got, err := signerFromRequest(testChachaPrf(), testAccountID, pub.String(), decryption)
	require.NoError(t, err)
	assert.True(t, got.Equal(priv))

	otherPub, _, _ := ed25519.GenerateKey(nil)
	otherKey, err := near.NewPublicKeyFromED25519(otherPub)
	require.NoError(t, err)

	_, err = signerFromRequest(testChachaPrf(), testAccountID, otherKey.String(), decryption)
	require.Error(t, err)
	assert.Equal(t, CodeInputValidation, CodeOf(err))
}

func TestBuildAndSignProducesValidTransaction(t *testing.T) {
	priv, pub, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)

	result, err := buildAndSign(priv, testAccountID, "bob.testnet", 7, testBlockHash(),
		[]near.ActionInput{{Type: near.ActionKindTransfer, Deposit: "1000"}})
	require.NoError(t, err)
	require.NotEmpty(t, result.TransactionHash)

	raw, err := base64.StdEncoding.DecodeString(result.SignedTransaction)
	require.NoError(t, err)

	var signed near.SignedTransaction
	require.NoError(t, borsh.Deserialize(&signed, raw))

	assert.Equal(t, testAccountID, signed.Transaction.SignerID)
	assert.Equal(t, "bob.testnet", signed.Transaction.ReceiverID)
	assert.Equal(t, uint64(7), signed.Transaction.Nonce)
	assert.Equal(t, pub.String(), signed.Transaction.PublicKey.String())

	ok, err := near.VerifyTransactionSignature(&signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildAndSignRejectsBadBlockHash(t *testing.T) {
	priv, _, err := deriveSigningKey(testEd25519Prf(), testAccountID)
	require.NoError(t, err)

	_, err = buildAndSign(priv, testAccountID, "bob.testnet", 1, "not-a-hash",
		[]near.ActionInput{{Type: near.ActionKindTransfer, Deposit: "1"}})
	assert.ErrorIs(t, err, near.ErrInvalidBlockHash)
}
