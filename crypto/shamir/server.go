package shamir

import (
	"fmt"
	"math/big"
)

// Server holds the server-side exponent pair and answers the two lock
// endpoints. Stateless across calls: nothing about a request is retained,
// and the blinded residues it sees are computationally unrelated to the
// client's wrapped key.
type Server struct {
	suite *Suite
	kp    *KeyPair
}

// NewServer validates the exponent pair against the suite before use.
// E·D must be 1 modulo P-1, which catches a keypair generated under a
// different modulus at boot instead of at the first corrupted unlock.
func NewServer(suite *Suite, kp *KeyPair) (*Server, error) {
	if kp == nil || kp.E == nil || kp.D == nil {
		return nil, fmt.Errorf("server keypair is nil")
	}
	if err := suite.checkExponent(kp.E); err != nil {
		return nil, fmt.Errorf("lock exponent: %w", err)
	}
	if err := suite.checkExponent(kp.D); err != nil {
		return nil, fmt.Errorf("unlock exponent: %w", err)
	}

	prod := new(big.Int).Mul(kp.E, kp.D)
	prod.Mod(prod, suite.pMinus1)
	if prod.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("exponent pair does not invert under this modulus")
	}

	return &Server{suite: suite, kp: kp}, nil
}

// Suite returns the suite this server operates under.
func (sv *Server) Suite() *Suite {
	return sv.suite
}

// ApplyLock adds the server lock layer: kek_cs = kek_c ^ s mod P.
func (sv *Server) ApplyLock(kekCB64u string) (string, error) {
	x, err := sv.suite.DecodeElement(kekCB64u)
	if err != nil {
		return "", err
	}
	locked, err := sv.suite.Lock(x, sv.kp.E)
	if err != nil {
		return "", err
	}
	return sv.suite.EncodeElement(locked), nil
}

// RemoveLock strips the server lock layer: kek_c = kek_cs ^ s⁻¹ mod P.
func (sv *Server) RemoveLock(kekCSB64u string) (string, error) {
	x, err := sv.suite.DecodeElement(kekCSB64u)
	if err != nil {
		return "", err
	}
	unlocked, err := sv.suite.Unlock(x, sv.kp.D)
	if err != nil {
		return "", err
	}
	return sv.suite.EncodeElement(unlocked), nil
}
