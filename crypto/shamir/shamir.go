// Package shamir implements the commutative modular-exponentiation
// transform used to server-lock client key material (the Shamir 3-pass
// scheme, distinct from Shamir secret sharing). All values are residues
// modulo a large public prime P; lock exponents are coprime to P-1 so an
// inverse exponent always exists. The server only ever sees blinded
// residues: never the client's exponent, never the wrapped key.
package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/vautr-io/vautr/crypto/keys"
)

// MinPrimeBits is the smallest modulus size accepted for P.
const MinPrimeBits = 2048

var (
	// ErrNotConfigured indicates a protocol call before the prime was set.
	ErrNotConfigured = errors.New("shamir prime not configured")
	// ErrAlreadyConfigured indicates an attempt to replace the prime after
	// it was set. Silent reconfiguration mid-flight degrades to garbage
	// arithmetic, so it is rejected outright.
	ErrAlreadyConfigured = errors.New("shamir prime already configured")
	// ErrInvalidFieldElement indicates an input outside [0, P) or an
	// exponent outside (0, P-1).
	ErrInvalidFieldElement = errors.New("invalid field element")
	// ErrInvalidPrime indicates a modulus that is too small, even, or
	// fails primality testing.
	ErrInvalidPrime = errors.New("invalid prime modulus")
)

// modpGroup14Hex is the 2048-bit MODP group from RFC 3526, a well-known
// safe prime suitable as a default deployment modulus.
const modpGroup14Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// DefaultPrimeB64u returns the RFC 3526 group 14 prime in the base64url
// wire encoding, for deployments that do not supply their own modulus.
func DefaultPrimeB64u() string {
	p, _ := new(big.Int).SetString(modpGroup14Hex, 16)
	return keys.EncodeB64u(p.Bytes())
}

// Suite holds the validated public prime and everything derived from it.
// Immutable after construction; safe for concurrent use.
type Suite struct {
	p           *big.Int
	pMinus1     *big.Int
	byteLen     int
	fingerprint string
}

// NewSuite decodes and validates a base64url big-endian prime modulus.
func NewSuite(pB64u string) (*Suite, error) {
	raw, err := keys.DecodeB64u(pB64u)
	if err != nil {
		return nil, fmt.Errorf("decoding prime: %w", err)
	}

	p := new(big.Int).SetBytes(raw)
	if p.BitLen() < MinPrimeBits {
		return nil, fmt.Errorf("%w: %d bits, need at least %d", ErrInvalidPrime, p.BitLen(), MinPrimeBits)
	}
	if p.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: modulus is even", ErrInvalidPrime)
	}
	if !p.ProbablyPrime(20) {
		return nil, fmt.Errorf("%w: failed primality test", ErrInvalidPrime)
	}

	fingerprint, err := keys.FingerprintBytes(p.Bytes())
	if err != nil {
		return nil, fmt.Errorf("fingerprinting prime: %w", err)
	}

	return &Suite{
		p:           p,
		pMinus1:     new(big.Int).Sub(p, big.NewInt(1)),
		byteLen:     (p.BitLen() + 7) / 8,
		fingerprint: fingerprint,
	}, nil
}

// P returns a copy of the modulus.
func (s *Suite) P() *big.Int {
	return new(big.Int).Set(s.p)
}

// PrimeB64u returns the modulus in wire encoding.
func (s *Suite) PrimeB64u() string {
	return s.EncodeElement(s.p)
}

// Fingerprint returns the multibase multihash fingerprint of the modulus.
// Client and server compare fingerprints before any lock call so a
// mismatched P fails fast instead of silently corrupting the round trip.
func (s *Suite) Fingerprint() string {
	return s.fingerprint
}

// KeyPair is one party's lock/unlock exponent pair: D inverts E modulo P-1.
type KeyPair struct {
	E *big.Int
	D *big.Int
}

// GenerateKeyPair samples a lock exponent coprime to P-1 and computes its
// inverse. Either party of the protocol uses the same construction.
func (s *Suite) GenerateKeyPair() (*KeyPair, error) {
	one := big.NewInt(1)
	// e in [2, P-2], gcd(e, P-1) == 1
	upper := new(big.Int).Sub(s.p, big.NewInt(3))
	for {
		n, err := rand.Int(rand.Reader, upper)
		if err != nil {
			return nil, fmt.Errorf("sampling exponent: %w", err)
		}
		e := n.Add(n, big.NewInt(2))

		if new(big.Int).GCD(nil, nil, e, s.pMinus1).Cmp(one) != 0 {
			continue
		}

		d := new(big.Int).ModInverse(e, s.pMinus1)
		if d == nil {
			continue
		}
		return &KeyPair{E: e, D: d}, nil
	}
}

// Lock raises a field element to a secret exponent modulo P. Commutative:
// Lock(Lock(m, a), b) == Lock(Lock(m, b), a).
func (s *Suite) Lock(x, e *big.Int) (*big.Int, error) {
	if err := s.checkElement(x); err != nil {
		return nil, err
	}
	if err := s.checkExponent(e); err != nil {
		return nil, err
	}
	return new(big.Int).Exp(x, e, s.p), nil
}

// Unlock removes one lock layer by raising to the inverse exponent. The
// arithmetic is identical to Lock; the distinct name keeps call sites
// honest about which exponent they are holding.
func (s *Suite) Unlock(x, d *big.Int) (*big.Int, error) {
	return s.Lock(x, d)
}

func (s *Suite) checkElement(x *big.Int) error {
	if x == nil || x.Sign() < 0 || x.Cmp(s.p) >= 0 {
		return ErrInvalidFieldElement
	}
	return nil
}

func (s *Suite) checkExponent(e *big.Int) error {
	if e == nil || e.Sign() <= 0 || e.Cmp(s.pMinus1) >= 0 {
		return ErrInvalidFieldElement
	}
	return nil
}

// EncodeElement encodes a field element as fixed-width base64url, padded
// to the byte length of P so the wire form is length-stable.
func (s *Suite) EncodeElement(x *big.Int) string {
	return keys.EncodeB64u(x.FillBytes(make([]byte, s.byteLen)))
}

// DecodeElement decodes and range-checks a base64url field element.
// Values outside [0, P) are rejected before any arithmetic sees them.
func (s *Suite) DecodeElement(b64u string) (*big.Int, error) {
	raw, err := keys.DecodeB64u(b64u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldElement, err)
	}
	if len(raw) == 0 || len(raw) > s.byteLen {
		return nil, ErrInvalidFieldElement
	}
	x := new(big.Int).SetBytes(raw)
	if err := s.checkElement(x); err != nil {
		return nil, err
	}
	return x, nil
}

// EncodeExponent encodes a secret exponent in the same fixed-width form.
func (s *Suite) EncodeExponent(e *big.Int) string {
	return keys.EncodeB64u(e.FillBytes(make([]byte, s.byteLen)))
}

// DecodeExponent decodes and range-checks a base64url exponent.
func (s *Suite) DecodeExponent(b64u string) (*big.Int, error) {
	raw, err := keys.DecodeB64u(b64u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldElement, err)
	}
	if len(raw) == 0 || len(raw) > s.byteLen {
		return nil, ErrInvalidFieldElement
	}
	e := new(big.Int).SetBytes(raw)
	if err := s.checkExponent(e); err != nil {
		return nil, err
	}
	return e, nil
}
