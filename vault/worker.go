// Package vault is the custody core: a message-driven worker owning
// every operation that touches key material. Requests arrive as typed
// envelopes, are schema-validated before dispatch, and return Success
// or Failure envelopes. Private keys exist in plaintext only inside a
// single operation and are zeroed before it returns; the one exception
// is DecryptPrivateKeyWithPrf, whose contract is to hand the key back.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/crypto/kdf"
	"github.com/vautr-io/vautr/crypto/keys"
	"github.com/vautr-io/vautr/crypto/secure"
	"github.com/vautr-io/vautr/types/near"
	"github.com/vautr-io/vautr/types/webauthn"
)

// Worker dispatches envelope requests to vault operations.
type Worker struct {
	logger         zerolog.Logger
	engine         *challenge.Engine
	chain          ChainProvider
	ceremony       CeremonyClient
	confirmer      Confirmer
	sink           ProgressSink
	now            func() time.Time
	staleTolerance uint64
}

// WorkerConfig wires a worker. Only the logger is universally needed:
// an engine is created when none is given, and the chain, ceremony, and
// confirmer collaborators may stay nil, failing only the operations
// that need them.
type WorkerConfig struct {
	Logger         zerolog.Logger
	Engine         *challenge.Engine
	Chain          ChainProvider
	Ceremony       CeremonyClient
	Confirmer      Confirmer
	Progress       ProgressSink
	StaleTolerance uint64
	Clock          func() time.Time
}

// NewWorker builds a worker from its config.
func NewWorker(cfg WorkerConfig) *Worker {
	engine := cfg.Engine
	if engine == nil {
		engine = challenge.NewEngine(cfg.Logger)
	}
	sink := cfg.Progress
	if sink == nil {
		sink = NopProgress
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Worker{
		logger:         cfg.Logger,
		engine:         engine,
		chain:          cfg.Chain,
		ceremony:       cfg.Ceremony,
		confirmer:      cfg.Confirmer,
		sink:           sink,
		now:            now,
		staleTolerance: cfg.StaleTolerance,
	}
}

// Engine exposes the challenge engine for session-level operations like
// unlock and logout that live outside the envelope protocol.
func (w *Worker) Engine() *challenge.Engine { return w.engine }

// Handle validates and dispatches one request. The response is always
// well-formed: operation errors become Failure envelopes rather than Go
// errors, keeping the envelope protocol total.
func (w *Worker) Handle(ctx context.Context, req Request) Response {
	if err := validatePayload(req.Type, req.Payload); err != nil {
		w.logger.Debug().Str("type", string(req.Type)).Err(err).Msg("request rejected")
		return failureResponse(req.Type, nil, err)
	}

	switch req.Type {
	case RequestDeriveNearKeypairAndEncrypt:
		return w.deriveNearKeypairAndEncrypt(req)
	case RequestRecoverKeypairFromPasskey:
		return w.recoverKeypairFromPasskey(req)
	case RequestCheckCanRegisterUser:
		return w.checkCanRegisterUser(ctx, req)
	case RequestDecryptPrivateKeyWithPrf:
		return w.decryptPrivateKeyWithPrf(req)
	case RequestSignTransactionsWithActions:
		return w.signTransactionsWithActions(ctx, req)
	case RequestExtractCosePublicKey:
		return w.extractCosePublicKey(req)
	case RequestSignTransactionWithKeyPair:
		return w.signTransactionWithKeyPair(req)
	case RequestSignNep413Message:
		return w.signNep413Message(req)
	case RequestRegistrationCredentialConfirmation:
		return w.registrationCredentialConfirmation(req)
	default:
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "unknown request type %q", req.Type))
	}
}

// HandleJSON is the byte-level entry point for transports.
func (w *Worker) HandleJSON(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		resp := failureResponse("", nil,
			FlowErrorf(CodeInputValidation, "decoding request envelope: %v", err))
		out, _ := json.Marshal(resp)
		return out
	}

	resp := w.Handle(ctx, req)
	out, err := json.Marshal(resp)
	if err != nil {
		// Response payloads are built from marshalable types; reaching
		// this means a handler returned something that is not.
		w.logger.Error().Err(err).Str("type", resp.Type).Msg("encoding response failed")
		return []byte(`{"type":"Failure","payload":{"error":"Unknown: encoding response"}}`)
	}
	return out
}

func (w *Worker) deriveNearKeypairAndEncrypt(req Request) Response {
	var p DeriveKeypairRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	chachaOut, edOut, err := kdf.DecodeDual(p.PrfOutputs.Chacha20PrfOutput, p.PrfOutputs.Ed25519PrfOutput)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.ZeroizeMultiple(chachaOut, edOut)

	priv, pub, err := deriveSigningKey(edOut, p.NearAccountID)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(priv)

	ciphertext, nonce, err := sealSecretKey(priv, chachaOut, p.NearAccountID)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	aeadKey, err := kdf.DeriveAEADKey(chachaOut)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(aeadKey)

	derived, err := w.engine.DeriveVrfKeypairFromPrf(edOut, p.NearAccountID, challenge.DeriveOptions{
		SaveInMemory:  true,
		EncryptionKey: aeadKey,
		Input:         p.VrfInput,
	})
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	w.logger.Info().
		Str("account_id", p.NearAccountID).
		Str("public_key", pub.String()).
		Msg("near keypair derived and sealed")

	return successResponse(req.Type, DeriveKeypairResult{
		NearAccountID:       p.NearAccountID,
		PublicKey:           pub.String(),
		EncryptedData:       ciphertext,
		IV:                  nonce,
		EncryptedVrfKeypair: derived.Encrypted,
		VrfChallenge:        derived.Challenge,
	})
}

func (w *Worker) recoverKeypairFromPasskey(req Request) Response {
	var p RecoverKeypairRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}
	if p.Credential == nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "credential is required"))
	}
	if err := p.Credential.Validate(); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	accountID := p.NearAccountID
	if accountID == "" && p.Credential.Response.UserHandle != "" {
		handle, err := keys.DecodeB64u(p.Credential.Response.UserHandle)
		if err != nil {
			return failureResponse(req.Type, nil,
				FlowErrorf(CodeInputValidation, "decoding user handle: %v", err))
		}
		accountID = string(handle)
	}
	if err := near.ValidateAccountID(accountID); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	prf, err := p.Credential.DualPrfOutputs()
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	chachaOut, edOut, err := kdf.DecodeDual(prf.Chacha20PrfOutput, prf.Ed25519PrfOutput)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.ZeroizeMultiple(chachaOut, edOut)

	priv, pub, err := deriveSigningKey(edOut, accountID)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(priv)

	ciphertext, nonce, err := sealSecretKey(priv, chachaOut, accountID)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	aeadKey, err := kdf.DeriveAEADKey(chachaOut)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(aeadKey)

	derived, err := w.engine.DeriveVrfKeypairFromPrf(edOut, accountID, challenge.DeriveOptions{
		SaveInMemory:  true,
		EncryptionKey: aeadKey,
	})
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	w.logger.Info().
		Str("account_id", accountID).
		Str("public_key", pub.String()).
		Msg("keypair recovered from passkey")

	return successResponse(req.Type, RecoverKeypairResult{
		NearAccountID:       accountID,
		PublicKey:           pub.String(),
		EncryptedData:       ciphertext,
		IV:                  nonce,
		EncryptedVrfKeypair: derived.Encrypted,
	})
}

func (w *Worker) checkCanRegisterUser(ctx context.Context, req Request) Response {
	var p CheckRegisterRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	// Bad syntax is an answer, not a protocol failure.
	if err := near.ValidateAccountID(p.NearAccountID); err != nil {
		return successResponse(req.Type, CheckRegisterResult{
			CanRegister: false,
			Reason:      err.Error(),
		})
	}

	if w.chain == nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeNotConfigured, "no chain provider configured"))
	}

	exists, err := w.chain.AccountExists(ctx, p.NearAccountID)
	if err != nil {
		return failureResponse(req.Type, nil, networkErr("checking account", err))
	}

	result := CheckRegisterResult{CanRegister: !exists, AccountExists: exists}
	if exists {
		result.Reason = "account already exists"
	}
	return successResponse(req.Type, result)
}

func (w *Worker) decryptPrivateKeyWithPrf(req Request) Response {
	var p DecryptKeyRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	chachaOut, err := keys.DecodeB64u(p.Chacha20PrfOutput)
	if err != nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "decoding chacha20 prf output: %v", err))
	}
	defer secure.Zeroize(chachaOut)

	secret, err := openSecretKey(chachaOut, p.NearAccountID,
		p.EncryptedPrivateKeyData, p.EncryptedPrivateKeyIv)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	return successResponse(req.Type, DecryptKeyResult{
		PrivateKey:    secret,
		NearAccountID: p.NearAccountID,
	})
}

func (w *Worker) signTransactionsWithActions(ctx context.Context, req Request) Response {
	var p SignTransactionsRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	if w.chain == nil || w.ceremony == nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeNotConfigured, "signing flow requires chain and ceremony collaborators"))
	}

	orch, err := NewOrchestrator(OrchestratorConfig{
		Logger:         w.logger,
		Engine:         w.engine,
		Chain:          w.chain,
		Ceremony:       w.ceremony,
		Confirmer:      w.confirmer,
		Progress:       w.sink,
		StaleTolerance: w.staleTolerance,
		Clock:          w.now,
	})
	if err != nil {
		return failureResponse(req.Type, nil, NewFlowError(CodeNotConfigured, err))
	}

	result := orch.SignTransactionsWithActions(ctx, p)
	if result.Error != "" {
		// The failure payload keeps the partial results: transactions
		// signed before the error are independently broadcastable.
		return failureResponseWith(req.Type, result)
	}
	return successResponse(req.Type, result)
}

func (w *Worker) extractCosePublicKey(req Request) Response {
	var p ExtractCoseRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}

	cose, err := webauthn.ExtractCosePublicKey(p.AttestationObjectBase64url)
	if err != nil {
		return failureResponse(req.Type, nil, NewFlowError(CodeInputValidation, err))
	}

	return successResponse(req.Type, ExtractCoseResult{CosePublicKey: keys.EncodeB64u(cose)})
}

func (w *Worker) signTransactionWithKeyPair(req Request) Response {
	var p SignWithKeyPairRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}
	if len(p.Actions) == 0 {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "transaction has no actions"))
	}

	priv, err := near.ParseSecretKey(p.PrivateKey)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(priv)

	result, err := buildAndSign(priv, p.SignerID, p.ReceiverID, p.Nonce, p.BlockHash, p.Actions)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	return successResponse(req.Type, result)
}

func (w *Worker) signNep413Message(req Request) Response {
	var p SignNep413Request
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}
	if p.Decryption.Chacha20PrfOutput == "" {
		return failureResponse(req.Type, nil,
			NewFlowError(CodeMissingPrfOutput, errors.New("nep-413 signing needs the chacha20 prf output")))
	}

	chachaOut, err := keys.DecodeB64u(p.Decryption.Chacha20PrfOutput)
	if err != nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "decoding chacha20 prf output: %v", err))
	}
	defer secure.Zeroize(chachaOut)

	priv, err := signerFromRequest(chachaOut, p.AccountID, "", p.Decryption)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}
	defer secure.Zeroize(priv)

	nonce, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "decoding nonce: %v", err))
	}
	payload, err := nep413Payload(p.Message, p.Recipient, nonce)
	if err != nil {
		return failureResponse(req.Type, nil, NewFlowError(CodeInputValidation, err))
	}

	signed, err := near.SignNep413(payload, p.AccountID, priv)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	return successResponse(req.Type, SignNep413Result{
		AccountID: signed.AccountID,
		PublicKey: signed.PublicKey,
		Signature: signed.Signature,
		State:     p.State,
	})
}

func (w *Worker) registrationCredentialConfirmation(req Request) Response {
	var p ConfirmRegistrationRequest
	if err := decodePayload(req.Type, req.Payload, &p); err != nil {
		return failureResponse(req.Type, nil, err)
	}
	if p.Credential == nil || p.VrfChallenge == nil {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeInputValidation, "credential and vrfChallenge are required"))
	}

	ok, err := challenge.VerifyChallenge(p.VrfChallenge)
	if err != nil {
		return failureResponse(req.Type, nil, NewFlowError(CodeWebauthnCeremonyFailed, err))
	}
	if !ok {
		return failureResponse(req.Type, nil,
			FlowErrorf(CodeWebauthnCeremonyFailed, "vrf proof did not verify"))
	}

	cose, err := webauthn.VerifyRegistrationCredential(p.Credential, p.VrfChallenge.VrfOutput)
	if err != nil {
		return failureResponse(req.Type, nil, err)
	}

	w.logger.Debug().
		Str("credential_id", p.Credential.ID).
		Str("account_id", p.VrfChallenge.UserID).
		Msg("registration credential confirmed")

	return successResponse(req.Type, ConfirmRegistrationResult{
		Verified:      true,
		CredentialID:  p.Credential.ID,
		CosePublicKey: keys.EncodeB64u(cose),
	})
}
