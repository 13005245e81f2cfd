package near

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/near/borsh-go"
)

// Transaction is the Borsh layout the protocol hashes and signs. Field
// order is the wire format.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// Serialize returns the Borsh encoding of the transaction.
func (t *Transaction) Serialize() ([]byte, error) {
	data, err := borsh.Serialize(*t)
	if err != nil {
		return nil, fmt.Errorf("serializing transaction: %w", err)
	}
	return data, nil
}

// Hash returns the sha256 of the Borsh encoding, the digest the protocol
// identifies and signs transactions by.
func (t *Transaction) Hash() ([]byte, error) {
	data, err := t.Serialize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// SignedTransaction pairs a transaction with its signature.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// Serialize returns the Borsh encoding of the signed transaction, the
// payload a broadcast RPC expects.
func (st *SignedTransaction) Serialize() ([]byte, error) {
	data, err := borsh.Serialize(*st)
	if err != nil {
		return nil, fmt.Errorf("serializing signed transaction: %w", err)
	}
	return data, nil
}

// EncodeBase64 returns the standard-base64 form used by send_tx RPC
// params.
func (st *SignedTransaction) EncodeBase64() (string, error) {
	data, err := st.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SignTransaction hashes and signs a transaction with an ed25519 private
// key, returning the signed transaction and the transaction hash.
func SignTransaction(tx Transaction, priv ed25519.PrivateKey) (*SignedTransaction, []byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("%w: expected %d byte private key, got %d",
			ErrInvalidSignature, ed25519.PrivateKeySize, len(priv))
	}

	hash, err := tx.Hash()
	if err != nil {
		return nil, nil, err
	}

	sig, err := NewSignatureFromED25519(ed25519.Sign(priv, hash))
	if err != nil {
		return nil, nil, err
	}

	return &SignedTransaction{Transaction: tx, Signature: sig}, hash, nil
}

// VerifyTransactionSignature checks a signed transaction against its
// embedded ed25519 public key.
func VerifyTransactionSignature(st *SignedTransaction) (bool, error) {
	if st.Transaction.PublicKey.KeyType() != KeyTypeED25519 {
		return false, fmt.Errorf("%w: can only verify ed25519", ErrUnknownKeyType)
	}
	hash, err := st.Transaction.Hash()
	if err != nil {
		return false, err
	}
	pub := ed25519.PublicKey(st.Transaction.PublicKey.Bytes())
	return ed25519.Verify(pub, hash, st.Signature.ED25519.Data[:]), nil
}
