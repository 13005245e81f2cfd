package challenge

import (
	"bytes"
	"errors"
	"fmt"

	bare "git.sr.ht/~sircmpwn/go-bare"
	"github.com/sonr-io/crypto/vrf"
)

// vrfKeypairEnvelope is the plaintext layout sealed inside an AEAD
// ciphertext. BARE gives a fixed, schema-stable binary encoding; changing
// the field order or types makes every persisted keypair unreadable.
type vrfKeypairEnvelope struct {
	PrivateKey []byte `bare:"privateKey"`
	PublicKey  []byte `bare:"publicKey"`
}

func marshalKeypair(privateKey vrf.PrivateKey, publicKey vrf.PublicKey) ([]byte, error) {
	env := vrfKeypairEnvelope{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}
	data, err := bare.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encoding vrf keypair: %w", err)
	}
	return data, nil
}

// unmarshalKeypair decodes an envelope and checks the keypair is
// internally consistent before anything downstream trusts it.
func unmarshalKeypair(data []byte) (vrf.PrivateKey, vrf.PublicKey, error) {
	var env vrfKeypairEnvelope
	if err := bare.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding vrf keypair: %w", err)
	}

	if len(env.PrivateKey) != vrf.PrivateKeySize {
		return nil, nil, fmt.Errorf("invalid vrf private key size: expected %d, got %d",
			vrf.PrivateKeySize, len(env.PrivateKey))
	}

	privateKey := vrf.PrivateKey(env.PrivateKey)
	publicKey, ok := privateKey.Public()
	if !ok {
		return nil, nil, errors.New("failed to derive vrf public key")
	}
	if !bytes.Equal(publicKey, env.PublicKey) {
		return nil, nil, errors.New("vrf keypair envelope public key mismatch")
	}

	return privateKey, publicKey, nil
}
