package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/crypto/kdf"
	"github.com/vautr-io/vautr/crypto/secure"
	"github.com/vautr-io/vautr/types/near"
	"github.com/vautr-io/vautr/types/webauthn"
)

// DefaultStaleTolerance is how many blocks a challenge's height may lag
// the chain head before signing refuses. Deployment configuration, not
// a protocol constant.
const DefaultStaleTolerance = 100

// TransactionContext is the chain-state snapshot one signing flow binds
// to: the signer's key, the nonce for the batch's first transaction,
// and a recent block. Fetched fresh per flow, never persisted.
type TransactionContext struct {
	NearPublicKeyStr string `json:"nearPublicKeyStr"`
	NextNonce        uint64 `json:"nextNonce"`
	TxBlockHeight    uint64 `json:"txBlockHeight"`
	TxBlockHash      string `json:"txBlockHash"`
}

// ChainProvider supplies chain state to flows. Implementations live in
// the RPC client; they own retries, and any error they return is fatal
// for the flow that saw it. Errors without a taxonomy code are treated
// as network failures.
type ChainProvider interface {
	// TransactionContext resolves the access key nonce for the given
	// signer key and a recent block to anchor transactions to.
	TransactionContext(ctx context.Context, accountID, publicKey string) (*TransactionContext, error)
	// LatestBlock returns the current chain head.
	LatestBlock(ctx context.Context) (height uint64, hash string, err error)
	// AccountExists probes whether an account id is taken.
	AccountExists(ctx context.Context, accountID string) (bool, error)
}

// CeremonyClient runs the platform WebAuthn ceremony for a prepared
// challenge and returns the credential, PRF outputs included. Outside a
// browser this is a remote bridge or a test double.
type CeremonyClient interface {
	GetCredential(ctx context.Context, ch *challenge.VrfChallenge, rpID string) (*webauthn.AuthenticationCredential, error)
}

// TransactionSignResult is the terminal outcome of one signing flow.
// Cancelled is distinct from failure: a cancelled flow has no error.
// On failure the hashes and signed transactions cover the prefix signed
// before the error; each is independently valid and broadcastable.
type TransactionSignResult struct {
	Success            bool     `json:"success"`
	Cancelled          bool     `json:"cancelled,omitempty"`
	IntentDigest       string   `json:"intentDigest,omitempty"`
	TransactionHashes  []string `json:"transactionHashes,omitempty"`
	SignedTransactions []string `json:"signedTransactions,omitempty"`
	Logs               []string `json:"logs,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Orchestrator drives the confirm-then-sign flow: prepare and digest,
// confirm, re-verify, authenticate, decrypt, sign. One orchestrator
// serves one flow at a time; the worker creates them per request.
type Orchestrator struct {
	logger         zerolog.Logger
	engine         *challenge.Engine
	chain          ChainProvider
	ceremony       CeremonyClient
	confirmer      Confirmer
	sink           ProgressSink
	now            func() time.Time
	staleTolerance uint64
}

// OrchestratorConfig wires a flow's collaborators. Engine, Chain, and
// Ceremony are required; Confirmer may be nil when every caller uses
// Skip mode.
type OrchestratorConfig struct {
	Logger         zerolog.Logger
	Engine         *challenge.Engine
	Chain          ChainProvider
	Ceremony       CeremonyClient
	Confirmer      Confirmer
	Progress       ProgressSink
	StaleTolerance uint64
	Clock          func() time.Time
}

// NewOrchestrator validates the wiring.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("orchestrator requires a challenge engine")
	}
	if cfg.Chain == nil {
		return nil, errors.New("orchestrator requires a chain provider")
	}
	if cfg.Ceremony == nil {
		return nil, errors.New("orchestrator requires a ceremony client")
	}
	o := &Orchestrator{
		logger:         cfg.Logger,
		engine:         cfg.Engine,
		chain:          cfg.Chain,
		ceremony:       cfg.Ceremony,
		confirmer:      cfg.Confirmer,
		sink:           cfg.Progress,
		now:            cfg.Clock,
		staleTolerance: cfg.StaleTolerance,
	}
	if o.sink == nil {
		o.sink = NopProgress
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.staleTolerance == 0 {
		o.staleTolerance = DefaultStaleTolerance
	}
	return o, nil
}

// SignTransactionsWithActions runs the full flow for one batch. The
// result is terminal and total: errors and cancellation fold into it
// rather than returning as Go errors, so every caller gets one shape.
// Key material decrypted for the flow is zeroed before return on every
// path.
func (o *Orchestrator) SignTransactionsWithActions(ctx context.Context, req SignTransactionsRequest) TransactionSignResult {
	r := newProgressReporter(MessageExecuteActionsProgress, MessageExecuteActionsComplete, o.sink, o.now)

	fail := func(step Step, err error) TransactionSignResult {
		fe := WrapError(err)
		o.logger.Warn().
			Str("step", string(step)).
			Str("code", string(fe.Code)).
			Err(fe.Err).
			Msg("signing flow failed")
		r.fail(step, fe)
		return TransactionSignResult{Success: false, Logs: r.logs, Error: fe.Error()}
	}
	cancelled := func(message string) TransactionSignResult {
		o.logger.Debug().Str("account_id", req.NearAccountID).Msg("signing flow cancelled")
		r.emit(StepUserConfirmation, StatusCancelled, message, nil)
		return TransactionSignResult{Success: false, Cancelled: true, Logs: r.logs}
	}

	// Preparation: validate, snapshot chain state, fix the digest.
	r.emit(StepPreparation, StatusProgress, "validating signing request", nil)

	cfg := DefaultConfirmationConfig()
	if req.Confirmation != nil {
		cfg = *req.Confirmation
	}
	if err := cfg.Validate(); err != nil {
		return fail(StepPreparation, NewFlowError(CodeInputValidation, err))
	}
	if err := near.ValidateAccountID(req.NearAccountID); err != nil {
		return fail(StepPreparation, err)
	}
	if req.RpID == "" {
		return fail(StepPreparation, FlowErrorf(CodeInputValidation, "rpId cannot be empty"))
	}
	if len(req.Transactions) == 0 {
		return fail(StepPreparation, FlowErrorf(CodeInputValidation, "transaction batch is empty"))
	}
	for i, tx := range req.Transactions {
		if tx.NearAccountID != "" && tx.NearAccountID != req.NearAccountID {
			return fail(StepPreparation, FlowErrorf(CodeInputValidation,
				"transaction %d names signer %q, flow signs for %q", i, tx.NearAccountID, req.NearAccountID))
		}
	}
	if cfg.UIMode != UIModeSkip && o.confirmer == nil {
		return fail(StepPreparation, FlowErrorf(CodeInputValidation,
			"uiMode %s requires a confirmation surface", cfg.UIMode))
	}

	digest, err := near.ComputeIntentDigest(req.Transactions)
	if err != nil {
		return fail(StepPreparation, err)
	}

	txCtx, err := o.chain.TransactionContext(ctx, req.NearAccountID, req.NearPublicKeyStr)
	if err != nil {
		return fail(StepPreparation, networkErr("fetching transaction context", err))
	}

	ch, err := o.engine.GenerateVrfChallenge(challenge.VrfInputData{
		UserID:      req.NearAccountID,
		RpID:        req.RpID,
		BlockHeight: txCtx.TxBlockHeight,
		BlockHash:   txCtx.TxBlockHash,
	})
	if err != nil {
		return fail(StepPreparation, err)
	}

	r.emit(StepPreparation, StatusSuccess, "transaction batch prepared",
		map[string]any{"intentDigest": digest, "transactionCount": len(req.Transactions)})

	// UserConfirmation: the only cooperative cancellation point. After
	// it, the flow runs to completion.
	uiDigest := ""
	if cfg.UIMode == UIModeSkip {
		r.emit(StepUserConfirmation, StatusSuccess, "confirmation skipped", nil)
	} else {
		r.emit(StepUserConfirmation, StatusProgress, "awaiting user confirmation", nil)
		conf, err := o.confirmer.RequestConfirmation(ctx, SetTxDataPayload{
			NearAccountID:     req.NearAccountID,
			TxSigningRequests: req.Transactions,
			VrfChallenge:      ch,
			Theme:             cfg.Theme,
		}, cfg)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return cancelled("confirmation abandoned")
			}
			return fail(StepUserConfirmation, networkErr("confirmation surface", err))
		}
		if conf.Decision != DecisionConfirmed {
			return cancelled("transaction batch cancelled by user")
		}
		uiDigest = conf.UIDigest
		r.emit(StepUserConfirmation, StatusSuccess, "user confirmed", nil)
	}
	if err := ctx.Err(); err != nil {
		return cancelled("flow context cancelled")
	}

	// ContractVerification: the challenge must still be near the head,
	// and the digest confirmed must be the digest about to be signed.
	r.emit(StepContractVerification, StatusProgress, "verifying chain state and digest", nil)

	height, _, err := o.chain.LatestBlock(ctx)
	if err != nil {
		return fail(StepContractVerification, networkErr("fetching chain head", err))
	}
	if height > ch.BlockHeight && height-ch.BlockHeight > o.staleTolerance {
		return fail(StepContractVerification, FlowErrorf(CodeChainStateStale,
			"challenge bound to height %d, head is %d, tolerance %d blocks",
			ch.BlockHeight, height, o.staleTolerance))
	}

	recomputed, err := near.ComputeIntentDigest(req.Transactions)
	if err != nil {
		return fail(StepContractVerification, err)
	}
	if recomputed != digest {
		return fail(StepContractVerification, FlowErrorf(CodeDigestMismatch,
			"transaction batch changed after preparation"))
	}
	if uiDigest != "" && uiDigest != digest {
		return fail(StepContractVerification, FlowErrorf(CodeDigestMismatch,
			"confirmed digest does not match transaction batch"))
	}

	if ok, err := challenge.VerifyChallenge(ch); err != nil || !ok {
		if err == nil {
			err = errors.New("vrf proof did not verify")
		}
		return fail(StepContractVerification, err)
	}

	r.emit(StepContractVerification, StatusSuccess, "chain state verified", nil)

	// WebauthnAuthentication: the platform ceremony releases the PRF
	// outputs that unlock the signing key.
	r.emit(StepWebauthnAuthentication, StatusProgress, "requesting passkey authentication", nil)

	cred, err := o.ceremony.GetCredential(ctx, ch, req.RpID)
	if err != nil {
		return fail(StepWebauthnAuthentication, NewFlowError(CodeWebauthnCeremonyFailed, err))
	}
	if err := webauthn.VerifyAssertionClientData(cred, ch.VrfOutput); err != nil {
		return fail(StepWebauthnAuthentication, NewFlowError(CodeWebauthnCeremonyFailed, err))
	}

	prf, err := cred.DualPrfOutputs()
	if err != nil {
		return fail(StepWebauthnAuthentication, err)
	}
	chachaOut, edOut, err := kdf.DecodeDual(prf.Chacha20PrfOutput, prf.Ed25519PrfOutput)
	if err != nil {
		return fail(StepWebauthnAuthentication, err)
	}
	defer secure.ZeroizeMultiple(chachaOut, edOut)

	r.emit(StepAuthenticationComplete, StatusSuccess, "passkey authenticated", nil)

	// TransactionSigningProgress: decrypt once, sign in order.
	r.emit(StepTransactionSigningProgress, StatusProgress, "decrypting signing key", nil)

	priv, err := signerFromRequest(chachaOut, req.NearAccountID, req.NearPublicKeyStr, req.Decryption)
	if err != nil {
		return fail(StepTransactionSigningProgress, err)
	}
	defer secure.Zeroize(priv)

	hashes := make([]string, 0, len(req.Transactions))
	signed := make([]string, 0, len(req.Transactions))
	for i, tx := range req.Transactions {
		res, err := buildAndSign(priv, req.NearAccountID, tx.ReceiverID,
			txCtx.NextNonce+uint64(i), txCtx.TxBlockHash, tx.Actions)
		if err != nil {
			out := fail(StepTransactionSigningProgress,
				WrapError(fmt.Errorf("transaction %d: %w", i, err)))
			out.TransactionHashes = hashes
			out.SignedTransactions = signed
			return out
		}
		hashes = append(hashes, res.TransactionHash)
		signed = append(signed, res.SignedTransaction)
		r.emit(StepTransactionSigningProgress, StatusProgress,
			fmt.Sprintf("signed transaction %d of %d", i+1, len(req.Transactions)),
			map[string]any{"transactionHash": res.TransactionHash})
	}

	r.complete(StepTransactionSigningComplete, "transaction batch signed",
		map[string]any{"intentDigest": digest})
	o.logger.Info().
		Str("account_id", req.NearAccountID).
		Int("transactions", len(signed)).
		Msg("transaction batch signed")

	return TransactionSignResult{
		Success:            true,
		IntentDigest:       digest,
		TransactionHashes:  hashes,
		SignedTransactions: signed,
		Logs:               r.logs,
	}
}

// networkErr tags transport errors that carry no code of their own.
func networkErr(op string, err error) error {
	var fe *FlowError
	if errors.As(err, &fe) {
		return err
	}
	return NewFlowError(CodeNetworkFailure, fmt.Errorf("%s: %w", op, err))
}
