// Package challenge generates and verifies VRF-based WebAuthn challenges.
// Each challenge binds a ceremony to a chain-state window (rpId, user,
// block height, block hash), giving replay resistance without a stateful
// nonce registry: a challenge is valid for exactly one ceremony at one
// block window and is dropped after use.
package challenge

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sonr-io/crypto/vrf"

	"github.com/vautr-io/vautr/crypto/keys"
)

// challengeDomain separates VRF inputs of this protocol from any other use
// of the same keypair.
const challengeDomain = "vautr-vrf-challenge-v1"

// ErrVrfNotUnlocked indicates a challenge operation before any keypair was
// bootstrapped, derived, or decrypted into memory.
var ErrVrfNotUnlocked = errors.New("vrf keypair not unlocked")

// VrfInputData carries the chain-state binding for one challenge.
type VrfInputData struct {
	UserID      string `json:"userId"`
	RpID        string `json:"rpId"`
	BlockHeight uint64 `json:"blockHeight"`
	BlockHash   string `json:"blockHash"`
}

// Validate rejects inputs that would bind a challenge to nothing.
func (in VrfInputData) Validate() error {
	if in.UserID == "" {
		return errors.New("vrf input: user id cannot be empty")
	}
	if in.RpID == "" {
		return errors.New("vrf input: rp id cannot be empty")
	}
	if in.BlockHash == "" {
		return errors.New("vrf input: block hash cannot be empty")
	}
	return nil
}

// VrfChallenge is the immutable product of one challenge generation.
// VrfOutput doubles as the WebAuthn challenge field; the proof lets any
// holder of the public key confirm the output was honestly computed.
// Binary fields are base64url.
type VrfChallenge struct {
	VrfInput     string `json:"vrfInput"`
	VrfOutput    string `json:"vrfOutput"`
	VrfProof     string `json:"vrfProof"`
	VrfPublicKey string `json:"vrfPublicKey"`
	UserID       string `json:"userId"`
	RpID         string `json:"rpId"`
	BlockHeight  uint64 `json:"blockHeight"`
	BlockHash    string `json:"blockHash"`
}

// OutputBytes returns the raw VRF output, the bytes a WebAuthn ceremony
// uses as its challenge.
func (ch *VrfChallenge) OutputBytes() ([]byte, error) {
	return keys.DecodeB64u(ch.VrfOutput)
}

// encodeChallengeInput produces the canonical VRF input for a chain-state
// binding: a fixed domain tag, then length-prefixed fields, hashed to a
// fixed 32 bytes. The encoding is stable; changing it invalidates every
// outstanding challenge.
func encodeChallengeInput(in VrfInputData) []byte {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(challengeDomain))
	buf = appendLenPrefixed(buf, []byte(in.UserID))
	buf = appendLenPrefixed(buf, []byte(in.RpID))

	var height [8]byte
	binary.LittleEndian.PutUint64(height[:], in.BlockHeight)
	buf = append(buf, height[:]...)

	buf = appendLenPrefixed(buf, []byte(in.BlockHash))

	sum := sha256.Sum256(buf)
	return sum[:]
}

func appendLenPrefixed(buf, field []byte) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(field)))
	buf = append(buf, n[:]...)
	return append(buf, field...)
}

// VerifyChallenge recomputes the input binding and checks the VRF proof
// against the embedded public key. Any decode failure or binding mismatch
// fails verification.
func VerifyChallenge(ch *VrfChallenge) (bool, error) {
	if ch == nil {
		return false, errors.New("challenge is nil")
	}

	input := encodeChallengeInput(VrfInputData{
		UserID:      ch.UserID,
		RpID:        ch.RpID,
		BlockHeight: ch.BlockHeight,
		BlockHash:   ch.BlockHash,
	})
	if keys.EncodeB64u(input) != ch.VrfInput {
		return false, errors.New("vrf input does not match challenge binding")
	}

	pubBytes, err := keys.DecodeB64u(ch.VrfPublicKey)
	if err != nil {
		return false, fmt.Errorf("decoding vrf public key: %w", err)
	}
	output, err := keys.DecodeB64u(ch.VrfOutput)
	if err != nil {
		return false, fmt.Errorf("decoding vrf output: %w", err)
	}
	proof, err := keys.DecodeB64u(ch.VrfProof)
	if err != nil {
		return false, fmt.Errorf("decoding vrf proof: %w", err)
	}

	return vrf.PublicKey(pubBytes).Verify(input, output, proof), nil
}
