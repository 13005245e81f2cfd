package near

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/near/borsh-go"
)

// nep413Tag prefixes the payload so a NEP-413 message can never collide
// with a transaction hash: 2^31 + 413 keeps the first byte outside any
// valid Borsh transaction encoding.
const nep413Tag = uint32(1<<31) + 413

// NonceSize413 is the fixed NEP-413 nonce length.
const NonceSize413 = 32

// Nep413Payload is the Borsh layout of an off-chain signed message.
type Nep413Payload struct {
	Message     string
	Nonce       [NonceSize413]byte
	Recipient   string
	CallbackURL *string
}

// Hash returns sha256 over the tag-prefixed Borsh payload, the bytes that
// actually get signed.
func (p *Nep413Payload) Hash() ([]byte, error) {
	body, err := borsh.Serialize(*p)
	if err != nil {
		return nil, fmt.Errorf("serializing nep-413 payload: %w", err)
	}

	buf := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(buf, nep413Tag)
	buf = append(buf, body...)

	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// SignedMessage is the NEP-413 result shape wallets return: the account
// that signed, its key, and a standard-base64 signature.
type SignedMessage struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	State     string `json:"state,omitempty"`
}

// SignNep413 signs a payload for accountID with an ed25519 private key.
func SignNep413(p *Nep413Payload, accountID string, priv ed25519.PrivateKey) (*SignedMessage, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d byte private key, got %d",
			ErrInvalidSignature, ed25519.PrivateKeySize, len(priv))
	}
	if p.Recipient == "" {
		return nil, fmt.Errorf("%w: nep-413 recipient cannot be empty", ErrMalformedAction)
	}

	hash, err := p.Hash()
	if err != nil {
		return nil, err
	}

	pub, err := NewPublicKeyFromED25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}

	return &SignedMessage{
		AccountID: accountID,
		PublicKey: pub.String(),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, hash)),
	}, nil
}

// VerifyNep413 checks a signed message against a parseable public key
// string.
func VerifyNep413(p *Nep413Payload, signed *SignedMessage) (bool, error) {
	pk, err := ParsePublicKey(signed.PublicKey)
	if err != nil {
		return false, err
	}
	if pk.KeyType() != KeyTypeED25519 {
		return false, fmt.Errorf("%w: can only verify ed25519", ErrUnknownKeyType)
	}

	sig, err := base64.StdEncoding.DecodeString(signed.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidSignature, ed25519.SignatureSize, len(sig))
	}

	hash, err := p.Hash()
	if err != nil {
		return false, err
	}

	return ed25519.Verify(ed25519.PublicKey(pk.Bytes()), hash, sig), nil
}
