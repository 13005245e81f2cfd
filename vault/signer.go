package vault

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/vautr-io/vautr/crypto/aead"
	"github.com/vautr-io/vautr/crypto/kdf"
	"github.com/vautr-io/vautr/crypto/secure"
	"github.com/vautr-io/vautr/types/near"
)

// deriveSigningKey re-derives the account's NEAR ed25519 keypair from
// the ceremony's ed25519 PRF output. Deterministic: the same passkey
// and account always produce the same keypair.
func deriveSigningKey(ed25519PrfOutput []byte, accountID string) (ed25519.PrivateKey, near.PublicKey, error) {
	seed, err := kdf.DeriveEd25519Seed(ed25519PrfOutput, accountID)
	if err != nil {
		return nil, near.PublicKey{}, err
	}
	defer secure.Zeroize(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := near.NewPublicKeyFromED25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		secure.Zeroize(priv)
		return nil, near.PublicKey{}, err
	}
	return priv, pub, nil
}

// sealSecretKey encrypts the NEAR secret key string under the AEAD key
// derived from the chacha20 PRF output, authenticated by account id so
// a blob sealed for one account cannot open for another.
func sealSecretKey(priv ed25519.PrivateKey, chacha20PrfOutput []byte, accountID string) (ciphertextB64u, nonceB64u string, err error) {
	secret, err := near.FormatSecretKey(priv)
	if err != nil {
		return "", "", err
	}

	cipher, err := newPrfCipher(chacha20PrfOutput)
	if err != nil {
		return "", "", err
	}

	return cipher.EncryptB64u([]byte(secret), []byte(accountID))
}

// openSecretKey reverses sealSecretKey and returns the secret key
// string. Failures stay generic: nothing distinguishes a wrong PRF
// output from a wrong account or tampered ciphertext.
func openSecretKey(chacha20PrfOutput []byte, accountID, ciphertextB64u, nonceB64u string) (string, error) {
	cipher, err := newPrfCipher(chacha20PrfOutput)
	if err != nil {
		return "", err
	}

	plaintext, err := cipher.DecryptB64u(ciphertextB64u, nonceB64u, []byte(accountID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newPrfCipher(chacha20PrfOutput []byte) (*aead.ChaCha20Poly1305Cipher, error) {
	key, err := kdf.DeriveAEADKey(chacha20PrfOutput)
	if err != nil {
		return nil, err
	}
	defer secure.Zeroize(key)

	return aead.NewChaCha20Poly1305(key)
}

// buildAndSign constructs, signs, and encodes one transaction.
func buildAndSign(priv ed25519.PrivateKey, signerID, receiverID string, nonce uint64, blockHash string, actions []near.ActionInput) (SignedTransactionResult, error) {
	pub, err := near.NewPublicKeyFromED25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return SignedTransactionResult{}, err
	}

	hash, err := near.DecodeBlockHash(blockHash)
	if err != nil {
		return SignedTransactionResult{}, err
	}

	tx, err := near.BuildTransaction(signerID, pub, nonce, receiverID, hash, actions)
	if err != nil {
		return SignedTransactionResult{}, err
	}

	signed, txHash, err := near.SignTransaction(tx, priv)
	if err != nil {
		return SignedTransactionResult{}, err
	}

	encoded, err := signed.EncodeBase64()
	if err != nil {
		return SignedTransactionResult{}, err
	}

	return SignedTransactionResult{
		TransactionHash:   base58.Encode(txHash),
		SignedTransaction: encoded,
	}, nil
}

// signerFromRequest decrypts and parses the flow's signing key, checking
// it against the public key the caller believes it is signing with.
func signerFromRequest(chacha20PrfOutput []byte, accountID, expectedPublicKey string, decryption DecryptionPayload) (ed25519.PrivateKey, error) {
	secret, err := openSecretKey(chacha20PrfOutput, accountID,
		decryption.EncryptedPrivateKeyData, decryption.EncryptedPrivateKeyIv)
	if err != nil {
		return nil, err
	}

	priv, err := near.ParseSecretKey(secret)
	if err != nil {
		// The blob opened but its plaintext is not a key; keep the
		// generic failure rather than leaking plaintext structure.
		return nil, NewFlowError(CodeDecryptionFailed, aead.ErrDecryptionFailed)
	}

	if expectedPublicKey != "" {
		pub, err := near.NewPublicKeyFromED25519(priv.Public().(ed25519.PublicKey))
		if err != nil {
			secure.Zeroize(priv)
			return nil, err
		}
		if pub.String() != expectedPublicKey {
			secure.Zeroize(priv)
			return nil, FlowErrorf(CodeInputValidation,
				"decrypted key does not match signer public key %s", expectedPublicKey)
		}
	}

	return priv, nil
}

// nep413Payload assembles the Borsh payload from wire fields.
func nep413Payload(message, recipient string, nonce []byte) (*near.Nep413Payload, error) {
	if len(nonce) != near.NonceSize413 {
		return nil, fmt.Errorf("nep-413 nonce must be %d bytes, got %d", near.NonceSize413, len(nonce))
	}
	p := &near.Nep413Payload{Message: message, Recipient: recipient}
	copy(p.Nonce[:], nonce)
	return p, nil
}
