package vault

import (
	"encoding/base64"
	"encoding/json"

	z "github.com/Oudwins/zog"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/types/near"
	"github.com/vautr-io/vautr/types/webauthn"
)

// RequestType names one worker operation.
type RequestType string

const (
	RequestDeriveNearKeypairAndEncrypt        RequestType = "DeriveNearKeypairAndEncrypt"
	RequestRecoverKeypairFromPasskey          RequestType = "RecoverKeypairFromPasskey"
	RequestCheckCanRegisterUser               RequestType = "CheckCanRegisterUser"
	RequestDecryptPrivateKeyWithPrf           RequestType = "DecryptPrivateKeyWithPrf"
	RequestSignTransactionsWithActions        RequestType = "SignTransactionsWithActions"
	RequestExtractCosePublicKey               RequestType = "ExtractCosePublicKey"
	RequestSignTransactionWithKeyPair         RequestType = "SignTransactionWithKeyPair"
	RequestSignNep413Message                  RequestType = "SignNep413Message"
	RequestRegistrationCredentialConfirmation RequestType = "RegistrationCredentialConfirmation"
)

func (t RequestType) successType() string { return string(t) + "Success" }
func (t RequestType) failureType() string { return string(t) + "Failure" }

// Request is the worker envelope: a type tag and the operation payload.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Response mirrors Request. Type is the request type suffixed Success or
// Failure; the payload is the operation result or a FailurePayload.
type Response struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// FailurePayload is the failure shape shared by every operation: one
// error string and the step log trail leading up to it.
type FailurePayload struct {
	Error string   `json:"error"`
	Logs  []string `json:"logs,omitempty"`
}

func successResponse(t RequestType, payload any) Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return failureResponse(t, nil, FlowErrorf(CodeUnknown, "encoding result: %v", err))
	}
	return Response{Type: t.successType(), Payload: raw}
}

func failureResponse(t RequestType, logs []string, err error) Response {
	fe := WrapError(err)
	raw, merr := json.Marshal(FailurePayload{Error: fe.Error(), Logs: logs})
	if merr != nil {
		raw = []byte(`{"error":"encoding failure payload"}`)
	}
	return Response{Type: t.failureType(), Payload: raw}
}

// failureResponseWith carries an operation-specific failure payload that
// already embeds error and logs, such as a partial signing result.
func failureResponseWith(t RequestType, payload any) Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return failureResponse(t, nil, FlowErrorf(CodeUnknown, "encoding failure result: %v", err))
	}
	return Response{Type: t.failureType(), Payload: raw}
}

// DeriveKeypairRequest asks for the deterministic NEAR keypair of one
// passkey and account, returned encrypted at rest. When VrfInput is set
// the derived VRF keypair also produces a first challenge so the
// registration ceremony can start immediately.
type DeriveKeypairRequest struct {
	NearAccountID string                  `json:"nearAccountId"`
	PrfOutputs    webauthn.DualPrfOutputs `json:"dualPrfOutputs"`
	VrfInput      *challenge.VrfInputData `json:"vrfInputData,omitempty"`
}

// DeriveKeypairResult carries everything a registration stores: the
// public key, the sealed NEAR key, and the sealed VRF keypair.
type DeriveKeypairResult struct {
	NearAccountID       string                         `json:"nearAccountId"`
	PublicKey           string                         `json:"publicKey"`
	EncryptedData       string                         `json:"encryptedData"`
	IV                  string                         `json:"iv"`
	EncryptedVrfKeypair *challenge.EncryptedVrfKeypair `json:"encryptedVrfKeypair,omitempty"`
	VrfChallenge        *challenge.VrfChallenge        `json:"vrfChallenge,omitempty"`
}

// RecoverKeypairRequest re-derives an account's keys from a fresh
// authentication ceremony on a new device. The account comes from
// NearAccountID or, when empty, the credential's user handle.
type RecoverKeypairRequest struct {
	NearAccountID string                             `json:"nearAccountId,omitempty"`
	Credential    *webauthn.AuthenticationCredential `json:"credential"`
}

// RecoverKeypairResult mirrors DeriveKeypairResult for the login path.
type RecoverKeypairResult struct {
	NearAccountID       string                         `json:"nearAccountId"`
	PublicKey           string                         `json:"publicKey"`
	EncryptedData       string                         `json:"encryptedData"`
	IV                  string                         `json:"iv"`
	EncryptedVrfKeypair *challenge.EncryptedVrfKeypair `json:"encryptedVrfKeypair,omitempty"`
}

// CheckRegisterRequest probes whether an account id can be registered.
type CheckRegisterRequest struct {
	NearAccountID string `json:"nearAccountId"`
}

// CheckRegisterResult answers the probe. A syntactically invalid id is
// an answer, not an error.
type CheckRegisterResult struct {
	CanRegister   bool   `json:"canRegister"`
	AccountExists bool   `json:"accountExists"`
	Reason        string `json:"reason,omitempty"`
}

// DecryptKeyRequest opens a sealed NEAR key with an explicit PRF output.
type DecryptKeyRequest struct {
	NearAccountID           string `json:"nearAccountId"`
	Chacha20PrfOutput       string `json:"chacha20PrfOutput"`
	EncryptedPrivateKeyData string `json:"encryptedPrivateKeyData"`
	EncryptedPrivateKeyIv   string `json:"encryptedPrivateKeyIv"`
}

// DecryptKeyResult returns the NEAR secret key string. This is the one
// operation whose contract is to hand key material back to the caller.
type DecryptKeyResult struct {
	PrivateKey    string `json:"privateKey"`
	NearAccountID string `json:"nearAccountId"`
}

// DecryptionPayload locates the sealed NEAR key for one flow. It is
// constructed right before the operation and consumed exactly once;
// nothing decrypted under it is cached. Chacha20PrfOutput is set only
// for operations with no ceremony of their own; a signing flow takes
// the PRF output from its ceremony instead.
type DecryptionPayload struct {
	EncryptedPrivateKeyData string `json:"encryptedPrivateKeyData"`
	EncryptedPrivateKeyIv   string `json:"encryptedPrivateKeyIv"`
	Chacha20PrfOutput       string `json:"chacha20PrfOutput,omitempty"`
}

// SignTransactionsRequest starts the confirm-then-sign flow over an
// ordered batch. Transaction order is the order the user confirms and
// the order nonces are assigned; it is never re-sorted.
type SignTransactionsRequest struct {
	NearAccountID    string                  `json:"nearAccountId"`
	NearPublicKeyStr string                  `json:"nearPublicKeyStr"`
	RpID             string                  `json:"rpId"`
	Transactions     []near.TransactionInput `json:"txSigningRequests"`
	Decryption       DecryptionPayload       `json:"decryption"`
	Confirmation     *ConfirmationConfig     `json:"confirmationConfig,omitempty"`
}

// ExtractCoseRequest pulls the COSE public key out of a registration
// ceremony's attestation object.
type ExtractCoseRequest struct {
	AttestationObjectBase64url string `json:"attestationObjectBase64url"`
}

// ExtractCoseResult returns the raw COSE key bytes, base64url.
type ExtractCoseResult struct {
	CosePublicKey string `json:"cosePublicKeyB64u"`
}

// SignWithKeyPairRequest signs one transaction with an explicit secret
// key, bypassing PRF decryption. Used by tooling and key import paths.
type SignWithKeyPairRequest struct {
	PrivateKey string             `json:"privateKey"`
	SignerID   string             `json:"signerAccountId"`
	ReceiverID string             `json:"receiverId"`
	Nonce      uint64             `json:"nonce"`
	BlockHash  string             `json:"blockHash"`
	Actions    []near.ActionInput `json:"actions"`
}

// SignedTransactionResult is one signed transaction: its base58 hash
// and the Borsh bytes, base64, ready for broadcast. Each one is
// independently valid even when a later transaction in the batch fails.
type SignedTransactionResult struct {
	TransactionHash   string `json:"transactionHash"`
	SignedTransaction string `json:"signedTransaction"`
}

// SignNep413Request signs an off-chain message under NEP-413. The nonce
// is standard base64 of exactly 32 bytes.
type SignNep413Request struct {
	AccountID  string            `json:"accountId"`
	Message    string            `json:"message"`
	Recipient  string            `json:"recipient"`
	Nonce      string            `json:"nonce"`
	State      *string           `json:"state,omitempty"`
	Decryption DecryptionPayload `json:"decryption"`
}

// SignNep413Result is the wallet-standard signed message shape.
type SignNep413Result struct {
	AccountID string  `json:"accountId"`
	PublicKey string  `json:"publicKey"`
	Signature string  `json:"signature"`
	State     *string `json:"state,omitempty"`
}

// ConfirmRegistrationRequest verifies a registration credential against
// the VRF challenge it was created for.
type ConfirmRegistrationRequest struct {
	Credential   *webauthn.RegistrationCredential `json:"credential"`
	VrfChallenge *challenge.VrfChallenge          `json:"vrfChallenge"`
}

// ConfirmRegistrationResult reports the verified credential identity.
type ConfirmRegistrationResult struct {
	Verified      bool   `json:"verified"`
	CredentialID  string `json:"credentialId,omitempty"`
	CosePublicKey string `json:"cosePublicKeyB64u,omitempty"`
}

// validAccountID adapts the NEAR account grammar to a schema test.
func validAccountID(value *string, _ z.Ctx) bool {
	return near.ValidateAccountID(*value) == nil
}

// validNep413Nonce requires standard base64 of exactly NonceSize413
// bytes.
func validNep413Nonce(value *string, _ z.Ctx) bool {
	raw, err := base64.StdEncoding.DecodeString(*value)
	return err == nil && len(raw) == near.NonceSize413
}

var deriveKeypairSchema = z.Struct(z.Shape{
	"nearAccountId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid NEAR account id")),
	"dualPrfOutputs": z.Struct(z.Shape{
		"chacha20PrfOutput": z.String().Required().Min(1, z.Message("chacha20 PRF output cannot be empty")),
		"ed25519PrfOutput":  z.String().Required().Min(1, z.Message("ed25519 PRF output cannot be empty")),
	}),
})

var checkRegisterSchema = z.Struct(z.Shape{
	"nearAccountId": z.String().Required().Min(1, z.Message("Account id cannot be empty")),
})

var decryptKeySchema = z.Struct(z.Shape{
	"nearAccountId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid NEAR account id")),
	"chacha20PrfOutput":       z.String().Required().Min(1, z.Message("chacha20 PRF output cannot be empty")),
	"encryptedPrivateKeyData": z.String().Required().Min(1, z.Message("Encrypted key data cannot be empty")),
	"encryptedPrivateKeyIv":   z.String().Required().Min(1, z.Message("Encrypted key iv cannot be empty")),
})

var signTransactionsSchema = z.Struct(z.Shape{
	"nearAccountId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid NEAR account id")),
	"nearPublicKeyStr": z.String().Required().Min(1, z.Message("Signer public key cannot be empty")),
	"rpId":             z.String().Required().Min(1, z.Message("Relying party id cannot be empty")),
})

var extractCoseSchema = z.Struct(z.Shape{
	"attestationObjectBase64url": z.String().Required().Min(1, z.Message("Attestation object cannot be empty")),
})

var signWithKeyPairSchema = z.Struct(z.Shape{
	"privateKey": z.String().Required().Min(1, z.Message("Private key cannot be empty")),
	"signerAccountId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid signer account id")),
	"receiverId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid receiver account id")),
	"blockHash": z.String().Required().Min(1, z.Message("Block hash cannot be empty")),
})

var signNep413Schema = z.Struct(z.Shape{
	"accountId": z.String().Required().
		TestFunc(validAccountID, z.Message("Invalid NEAR account id")),
	"recipient": z.String().Required().Min(1, z.Message("Recipient cannot be empty")),
	"nonce": z.String().Required().
		TestFunc(validNep413Nonce, z.Message("Nonce must be 32 bytes of base64")),
})

// validatePayload runs the request type's schema over the raw payload.
// Types without a schema validate structurally during decoding instead.
func validatePayload(t RequestType, payload json.RawMessage) error {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return FlowErrorf(CodeInputValidation, "payload is not an object: %v", err)
	}

	switch t {
	case RequestDeriveNearKeypairAndEncrypt:
		var validated struct {
			NearAccountId  string `json:"nearAccountId"`
			DualPrfOutputs struct {
				Chacha20PrfOutput string `json:"chacha20PrfOutput"`
				Ed25519PrfOutput  string `json:"ed25519PrfOutput"`
			} `json:"dualPrfOutputs"`
		}
		return schemaErr(deriveKeypairSchema.Parse(m, &validated))

	case RequestCheckCanRegisterUser:
		var validated struct {
			NearAccountId string `json:"nearAccountId"`
		}
		return schemaErr(checkRegisterSchema.Parse(m, &validated))

	case RequestDecryptPrivateKeyWithPrf:
		var validated struct {
			NearAccountId           string `json:"nearAccountId"`
			Chacha20PrfOutput       string `json:"chacha20PrfOutput"`
			EncryptedPrivateKeyData string `json:"encryptedPrivateKeyData"`
			EncryptedPrivateKeyIv   string `json:"encryptedPrivateKeyIv"`
		}
		return schemaErr(decryptKeySchema.Parse(m, &validated))

	case RequestSignTransactionsWithActions:
		var validated struct {
			NearAccountId    string `json:"nearAccountId"`
			NearPublicKeyStr string `json:"nearPublicKeyStr"`
			RpId             string `json:"rpId"`
		}
		return schemaErr(signTransactionsSchema.Parse(m, &validated))

	case RequestExtractCosePublicKey:
		var validated struct {
			AttestationObjectBase64url string `json:"attestationObjectBase64url"`
		}
		return schemaErr(extractCoseSchema.Parse(m, &validated))

	case RequestSignTransactionWithKeyPair:
		var validated struct {
			PrivateKey      string `json:"privateKey"`
			SignerAccountId string `json:"signerAccountId"`
			ReceiverId      string `json:"receiverId"`
			BlockHash       string `json:"blockHash"`
		}
		return schemaErr(signWithKeyPairSchema.Parse(m, &validated))

	case RequestSignNep413Message:
		var validated struct {
			AccountId string `json:"accountId"`
			Recipient string `json:"recipient"`
			Nonce     string `json:"nonce"`
		}
		return schemaErr(signNep413Schema.Parse(m, &validated))

	default:
		return nil
	}
}

func schemaErr(errs z.ZogIssueMap) error {
	if errs != nil {
		return FlowErrorf(CodeInputValidation, "request validation failed: %v", z.Issues.SanitizeMap(errs))
	}
	return nil
}

// decodePayload unmarshals the typed payload after schema validation.
func decodePayload(t RequestType, payload json.RawMessage, dest any) error {
	if err := json.Unmarshal(payload, dest); err != nil {
		return FlowErrorf(CodeInputValidation, "decoding %s payload: %v", t, err)
	}
	return nil
}
