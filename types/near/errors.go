package near

import "errors"

var (
	// ErrInvalidPublicKey is returned when a public key fails to parse or
	// is not a valid curve point
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned when a secret key string fails to
	// parse or its halves are inconsistent
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrInvalidSignature is returned when a signature has the wrong size
	// or encoding
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownKeyType is returned when a key string carries an
	// unrecognized curve prefix
	ErrUnknownKeyType = errors.New("unknown key type")

	// ErrInvalidAccountID is returned when an account id violates the
	// NEAR account naming rules
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrInvalidBlockHash is returned when a block hash is not 32 bytes
	// of base58
	ErrInvalidBlockHash = errors.New("invalid block hash")

	// ErrUnknownActionKind is returned when an action carries an
	// unrecognized kind; digests and signing fail closed on it
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrInvalidAmount is returned when a balance field is not a
	// non-negative decimal string within u128 range
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidGas is returned when a gas field is not a decimal u64
	ErrInvalidGas = errors.New("invalid gas")

	// ErrMalformedAction is returned when an action is missing required
	// fields or carries ones that fail to decode
	ErrMalformedAction = errors.New("malformed action")
)
